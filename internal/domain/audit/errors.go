package audit

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Kind: вид ошибки сессии аудита.
type Kind string

const (
	// KindPrecondition: операция недопустима в текущей фазе
	KindPrecondition Kind = "PRECONDITION"
	// KindSourceUnavailable: не удалось получить список файлов
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	// KindClassification: классификатор недоступен или вернул непригодные данные
	KindClassification Kind = "CLASSIFICATION_ERROR"
	// KindAuthorization: хранилище сообщает, что сессия не аутентифицирована
	KindAuthorization Kind = "AUTHORIZATION_ERROR"
	// KindRemediationItem: удаление части файлов не удалось (не фатально для сессии)
	KindRemediationItem Kind = "REMEDIATION_ITEM_ERROR"
)

// Error: ошибка сессии аудита.
// Ошибки коллабораторов не пересекают границу сессии в сыром виде:
// они оборачиваются в Error с одним из видов выше.
type Error struct {
	Kind    Kind   // Машиночитаемый вид
	Message string // Человекочитаемое описание
	Err     error  // Исходная причина (может быть nil)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind проверяет, является ли err ошибкой сессии указанного вида.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// precondition создаёт ошибку недопустимой операции.
func precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// sourceError переводит ошибку источника в вид ошибки сессии.
func sourceError(err error) *Error {
	if errors.Is(err, model.ErrUnauthorized) {
		return &Error{Kind: KindAuthorization, Message: "хранилище требует повторной авторизации", Err: err}
	}
	return &Error{Kind: KindSourceUnavailable, Message: fmt.Sprintf("не удалось получить список файлов: %v", err), Err: err}
}

// classificationError переводит ошибку классификатора в вид ошибки сессии.
func classificationError(err error) *Error {
	return &Error{Kind: KindClassification, Message: fmt.Sprintf("классификация не выполнена: %v", err), Err: err}
}

// ErrorInfo: сериализуемое представление последней ошибки для UI.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) info() *ErrorInfo {
	if e == nil {
		return nil
	}
	return &ErrorInfo{Kind: e.Kind, Message: e.Message}
}
