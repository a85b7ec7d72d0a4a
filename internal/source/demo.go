package source

import (
	"context"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Demo: фиксированный демонстрационный набор файлов.
// Позволяет пройти весь конвейер без авторизации в хранилище.
type Demo struct {
	files []model.FileRecord
}

// NewDemo создаёт демо-источник со стандартным набором.
func NewDemo() *Demo {
	return NewDemoWith(demoFiles())
}

// NewDemoWith создаёт демо-источник с заданным набором (для тестов и CLI).
func NewDemoWith(files []model.FileRecord) *Demo {
	out := make([]model.FileRecord, len(files))
	copy(out, files)
	for i := range out {
		out[i].Origin = model.OriginDemo
	}
	return &Demo{files: out}
}

// List возвращает копию демонстрационного набора.
func (d *Demo) List(ctx context.Context) ([]model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.FileRecord, len(d.files))
	copy(out, d.files)
	return out, nil
}

// Trash ничего не делает, демо-файлы не удаляются.
func (d *Demo) Trash(context.Context, string) error {
	return nil
}

// demoFiles: стандартный демонстрационный набор.
// m1 и m2 совпадают по имени, размеру, типу и времени изменения.
func demoFiles() []model.FileRecord {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
	}
	return []model.FileRecord{
		{ID: "m1", Name: "Квартальный отчёт.pdf", SizeBytes: model.Size(2_457_600), MimeType: "application/pdf", ModifiedAt: day(2023, time.March, 14), Checksum: "5d41402abc4b2a76b9719d911017c592"},
		{ID: "m2", Name: "Квартальный отчёт.pdf", SizeBytes: model.Size(2_457_600), MimeType: "application/pdf", ModifiedAt: day(2023, time.March, 14), Checksum: "5d41402abc4b2a76b9719d911017c592"},
		{ID: "m3", Name: "IMG_2041.MOV", SizeBytes: model.Size(1_843_200_000), MimeType: "video/quicktime", ModifiedAt: day(2022, time.July, 2)},
		{ID: "m4", Name: "backup-2019.zip", SizeBytes: model.Size(734_003_200), MimeType: "application/zip", ModifiedAt: day(2019, time.November, 20)},
		{ID: "m5", Name: "Черновик договора", MimeType: "application/vnd.google-apps.document", ModifiedAt: day(2018, time.February, 5)},
		{ID: "m6", Name: "Фото с отпуска (1).jpg", SizeBytes: model.Size(4_194_304), MimeType: "image/jpeg", ModifiedAt: day(2024, time.August, 11)},
		{ID: "m7", Name: "Фото с отпуска.jpg", SizeBytes: model.Size(4_194_304), MimeType: "image/jpeg", ModifiedAt: day(2024, time.August, 11)},
		{ID: "m8", Name: "Резюме.docx", SizeBytes: model.Size(48_128), MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ModifiedAt: day(2025, time.January, 22)},
	}
}
