// errors.go: ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrSessionNotFound: сессия не найдена, истекла или принадлежит другому пользователю.
	ErrSessionNotFound = errors.New("сессия аудита не найдена")
	// ErrReportNotFound: отчёт не найден.
	ErrReportNotFound = errors.New("отчёт не найден")
	// ErrSettingNotFound: настройка не задана.
	ErrSettingNotFound = errors.New("настройка не найдена")
	// ErrUnknownSetting: ключ настройки вне допустимого набора.
	ErrUnknownSetting = errors.New("неизвестный ключ настройки")
	// ErrValidation: ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
