// settings.go: сервис настроек, изменяемых во время работы.
// Хранит учётные данные классификатора; секреты маскируются при чтении.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/purge-module/internal/repository"
)

// Ключи настроек.
const (
	SettingClassifierAPIKey = "classifier.api_key"
	SettingClassifierModel  = "classifier.model"
)

// settingSpec: описание допустимого ключа.
type settingSpec struct {
	description string
	secret      bool
	maxLen      int
}

// validSettingKeys: допустимые ключи настроек.
var validSettingKeys = map[string]settingSpec{
	SettingClassifierAPIKey: {description: "API-ключ сервиса классификации", secret: true, maxLen: 512},
	SettingClassifierModel:  {description: "Имя модели классификации", maxLen: 128},
}

// settingsCacheTTL: время жизни закэшированного значения.
const settingsCacheTTL = 30 * time.Second

// SettingView: настройка для API (секреты замаскированы).
type SettingView struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Secret      bool      `json:"secret"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

// cachedSetting: значение в кэше; found=false кэширует отсутствие.
type cachedSetting struct {
	value string
	found bool
}

// SettingsService: сервис настроек.
type SettingsService struct {
	repo   repository.SettingsRepository
	cache  *expirable.LRU[string, cachedSetting]
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []func(key string)
}

// NewSettingsService создаёт сервис настроек.
func NewSettingsService(repo repository.SettingsRepository, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		cache:  expirable.NewLRU[string, cachedSetting](len(validSettingKeys), nil, settingsCacheTTL),
		logger: logger.With(slog.String("component", "settings")),
	}
}

// OnChange регистрирует обработчик изменения настройки.
func (s *SettingsService) OnChange(fn func(key string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Get возвращает настройку для API.
func (s *SettingsService) Get(ctx context.Context, key string) (*SettingView, error) {
	spec, ok := validSettingKeys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("ошибка получения настройки %q: %w", key, err)
	}
	return toView(setting, spec), nil
}

// List возвращает все сохранённые настройки.
func (s *SettingsService) List(ctx context.Context) ([]SettingView, error) {
	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка настроек: %w", err)
	}
	out := make([]SettingView, 0, len(settings))
	for i := range settings {
		spec, ok := validSettingKeys[settings[i].Key]
		if !ok {
			continue
		}
		out = append(out, *toView(&settings[i], spec))
	}
	return out, nil
}

// Set сохраняет настройку. updatedBy: пользователь, выполняющий изменение.
func (s *SettingsService) Set(ctx context.Context, key, value, updatedBy string) (*SettingView, error) {
	spec, ok := validSettingKeys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: значение %s не может быть пустым", ErrValidation, key)
	}
	if len(value) > spec.maxLen {
		return nil, fmt.Errorf("%w: значение %s длиннее %d символов", ErrValidation, key, spec.maxLen)
	}

	setting := &repository.Setting{Key: key, Value: value, Secret: spec.secret, UpdatedBy: updatedBy}
	if err := s.repo.Set(ctx, setting); err != nil {
		return nil, fmt.Errorf("ошибка сохранения настройки %q: %w", key, err)
	}
	s.changed(key)

	s.logger.Info("Настройка обновлена",
		slog.String("key", key),
		slog.String("updated_by", updatedBy),
	)
	return toView(setting, spec), nil
}

// Delete удаляет настройку (возврат к значению из окружения).
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if _, ok := validSettingKeys[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSettingNotFound
		}
		return fmt.Errorf("ошибка удаления настройки %q: %w", key, err)
	}
	s.changed(key)

	s.logger.Info("Настройка удалена", slog.String("key", key))
	return nil
}

// Value возвращает открытое значение настройки через кэш.
// found=false: настройка не задана.
func (s *SettingsService) Value(ctx context.Context, key string) (value string, found bool, err error) {
	if cached, ok := s.cache.Get(key); ok {
		return cached.value, cached.found, nil
	}
	setting, err := s.repo.Get(ctx, key)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.cache.Add(key, cachedSetting{})
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("ошибка чтения настройки %q: %w", key, err)
	}
	s.cache.Add(key, cachedSetting{value: setting.Value, found: true})
	return setting.Value, true, nil
}

// ClassifierCredentials возвращает учётные данные классификатора:
// значения из настроек, при их отсутствии: из окружения.
func (s *SettingsService) ClassifierCredentials(envKey, envModel string) func(ctx context.Context) (string, string, error) {
	return func(ctx context.Context) (string, string, error) {
		apiKey, found, err := s.Value(ctx, SettingClassifierAPIKey)
		if err != nil {
			s.logger.Warn("Настройки недоступны, используется ключ из окружения",
				slog.String("error", err.Error()))
			return envKey, envModel, nil
		}
		if !found {
			apiKey = envKey
		}
		modelName, found, err := s.Value(ctx, SettingClassifierModel)
		if err != nil || !found {
			modelName = envModel
		}
		return apiKey, modelName, nil
	}
}

// changed сбрасывает кэш и уведомляет обработчики.
func (s *SettingsService) changed(key string) {
	s.cache.Remove(key)
	s.mu.RLock()
	listeners := append([]func(string){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(key)
	}
}

// toView формирует представление настройки с маскированием секрета.
func toView(setting *repository.Setting, spec settingSpec) *SettingView {
	value := setting.Value
	if spec.secret {
		value = MaskSecret(value)
	}
	return &SettingView{
		Key:         setting.Key,
		Value:       value,
		Secret:      spec.secret,
		Description: spec.description,
		UpdatedAt:   setting.UpdatedAt,
		UpdatedBy:   setting.UpdatedBy,
	}
}

// MaskSecret скрывает значение, оставляя последние 4 символа для длинных секретов.
func MaskSecret(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
