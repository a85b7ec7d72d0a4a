// Пакет model: доменные модели Purge Module.
// Модели используются ядром аудита, адаптерами источников и слоем хранения отчётов.
package model

import "time"

// Origin: происхождение записи о файле.
// Движок удаления ветвится по этому полю, а не по формату идентификатора.
type Origin string

const (
	// OriginDemo: запись из фиксированного демонстрационного набора
	OriginDemo Origin = "demo"
	// OriginLive: запись из подключённого облачного хранилища
	OriginLive Origin = "live"
)

// FileRecord: объект облачного хранилища, как его видит источник.
type FileRecord struct {
	// ID: непрозрачный стабильный идентификатор, уникальный в пределах сессии
	ID string `json:"id"`
	// Name: имя файла
	Name string `json:"name"`
	// SizeBytes: размер в байтах; nil означает «размер неизвестен»
	SizeBytes *int64 `json:"size_bytes,omitempty"`
	// MimeType: MIME-тип
	MimeType string `json:"mime_type"`
	// ModifiedAt: время последнего изменения
	ModifiedAt time.Time `json:"modified_at"`
	// Checksum: контрольная сумма (если источник её отдаёт)
	Checksum string `json:"checksum,omitempty"`
	// PreviewLink: ссылка на просмотр
	PreviewLink string `json:"preview_link,omitempty"`
	// Origin: demo или live
	Origin Origin `json:"origin"`
}

// SizeTotals: агрегат размеров набора файлов.
// Файлы с неизвестным размером считаются отдельно и не дают вклад в Bytes.
type SizeTotals struct {
	Bytes   int64 `json:"bytes"`
	Known   int   `json:"known"`
	Unknown int   `json:"unknown"`
}

// Totals считает агрегат размеров для набора файлов.
func Totals(files []FileRecord) SizeTotals {
	var t SizeTotals
	for i := range files {
		if files[i].SizeBytes == nil {
			t.Unknown++
			continue
		}
		t.Bytes += *files[i].SizeBytes
		t.Known++
	}
	return t
}

// Size возвращает указатель на размер. Удобно для литералов.
func Size(n int64) *int64 {
	return &n
}
