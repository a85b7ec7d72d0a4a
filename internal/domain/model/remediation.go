package model

import (
	"errors"
	"time"
)

// FailureCode: машиночитаемая причина неудачного удаления одного файла.
type FailureCode string

const (
	FailureNotFound       FailureCode = "NOT_FOUND"
	FailureAlreadyRemoved FailureCode = "ALREADY_REMOVED"
	FailureForbidden      FailureCode = "FORBIDDEN"
	FailureUnauthorized   FailureCode = "UNAUTHORIZED"
	FailureTransient      FailureCode = "TRANSIENT"
	// FailureCancelled: файл не был отправлен на удаление из-за отмены
	FailureCancelled FailureCode = "CANCELLED"
)

// ItemFailure: причина неудачи для одного файла.
type ItemFailure struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message"`
}

// RemediationResult: итог одного пакетного удаления.
// Создаётся один раз на вызов и не изменяется после возврата.
type RemediationResult struct {
	// Attempted: количество обработанных файлов (без отменённых до отправки)
	Attempted int `json:"attempted"`
	// Succeeded: успешно удалённые id в порядке входа
	Succeeded []string `json:"succeeded"`
	// Failed: неудачи по id
	Failed map[string]ItemFailure `json:"failed"`
	// StartedAt: начало пакета
	StartedAt time.Time `json:"started_at"`
	// FinishedAt: завершение пакета
	FinishedAt time.Time `json:"finished_at"`
}

// IsSucceeded проверяет, удалён ли файл успешно.
func (r *RemediationResult) IsSucceeded(id string) bool {
	for _, s := range r.Succeeded {
		if s == id {
			return true
		}
	}
	return false
}

// AllFailed: true, если ни один файл не удалён.
func (r *RemediationResult) AllFailed() bool {
	return len(r.Succeeded) == 0 && len(r.Failed) > 0
}

// FailureFromError определяет код неудачи по ошибке источника.
func FailureFromError(err error) ItemFailure {
	code := FailureTransient
	switch {
	case errors.Is(err, ErrNotFound):
		code = FailureNotFound
	case errors.Is(err, ErrForbidden):
		code = FailureForbidden
	case errors.Is(err, ErrUnauthorized):
		code = FailureUnauthorized
	}
	return ItemFailure{Code: code, Message: err.Error()}
}
