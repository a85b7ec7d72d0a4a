// Пакет errors: конструкторы ошибок HTTP API Purge Module.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок из OpenAPI контракта.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodePrecondition          = "PRECONDITION"
	CodeSourceUnavailable     = "SOURCE_UNAVAILABLE"
	CodeSourceAuthorization   = "AUTHORIZATION_ERROR"
	CodeClassifierUnavailable = "CLASSIFICATION_ERROR"
	CodeInternalError         = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в едином формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError: 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound: 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized: 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden: 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict: 409 конфликт ресурса.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Precondition: 409 операция недопустима в текущей фазе сессии.
func Precondition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodePrecondition, message)
}

// SourceUnavailable: 502 хранилище недоступно.
func SourceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeSourceUnavailable, message)
}

// SourceAuthorization: 401 хранилище требует повторной авторизации.
func SourceAuthorization(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeSourceAuthorization, message)
}

// ClassifierUnavailable: 502 классификатор недоступен.
func ClassifierUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeClassifierUnavailable, message)
}

// InternalError: 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
