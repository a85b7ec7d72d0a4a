package model

import "errors"

// Ошибки коллабораторов. Адаптеры оборачивают их через %w,
// ядро различает их через errors.Is и не видит сырых ошибок транспорта.
var (
	// ErrNotFound: файл не найден в хранилище.
	ErrNotFound = errors.New("файл не найден")
	// ErrForbidden: недостаточно прав на операцию с файлом.
	ErrForbidden = errors.New("доступ к файлу запрещён")
	// ErrUnauthorized: сессия хранилища не аутентифицирована.
	ErrUnauthorized = errors.New("требуется авторизация в хранилище")
	// ErrTransient: временная ошибка (сеть, 429, 5xx).
	ErrTransient = errors.New("временная ошибка хранилища")
	// ErrSourceUnavailable: получение списка файлов невозможно.
	ErrSourceUnavailable = errors.New("источник файлов недоступен")
	// ErrClassification: классификатор недоступен или вернул непригодный ответ.
	ErrClassification = errors.New("ошибка классификации")
)
