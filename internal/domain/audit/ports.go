package audit

import (
	"context"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// FileSource отдаёт список неудалённых файлов и перемещает файлы в корзину.
// Ошибки оборачивают sentinel-ошибки из пакета model.
type FileSource interface {
	// List возвращает файлы, не находящиеся в корзине.
	List(ctx context.Context) ([]model.FileRecord, error)
	// Trash перемещает файл в корзину.
	Trash(ctx context.Context, id string) error
}

// Classifier: внешний сервис, размечающий файлы как кандидатов на очистку.
// Ответ считается недоверенным и проходит ValidateCandidates.
type Classifier interface {
	Classify(ctx context.Context, files []model.FileRecord) (candidates []model.CleanupCandidate, summary string, err error)
}

// TrashFunc: один вызов удаления для одного id.
type TrashFunc func(ctx context.Context, id string) error

// ProgressFunc: грубый прогресс пакетного удаления.
type ProgressFunc func(done, total int)

// Remediator выполняет пакетное удаление снимка выбора.
// Результат возвращается целиком после обработки всех файлов.
// scope ограничивает память об удалённых id: сессия передаёт свой id и эпоху
// сканирования, поэтому другие сессии не видят чужих удалений.
type Remediator interface {
	Execute(ctx context.Context, scope string, files []model.FileRecord, trash TrashFunc, progress ProgressFunc) *model.RemediationResult
}
