package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Setting: запись таблицы settings.
type Setting struct {
	// Key: ключ настройки (dot-notation, например "classifier.api_key")
	Key string
	// Value: значение (строковое представление)
	Value string
	// Secret: значение не возвращается API в открытом виде
	Secret bool
	// UpdatedAt: время последнего обновления
	UpdatedAt time.Time
	// UpdatedBy: кто обновил настройку
	UpdatedBy string
}

// SettingsRepository: интерфейс для таблицы settings.
type SettingsRepository interface {
	// Get возвращает настройку по ключу. Если не найдена: ErrNotFound.
	Get(ctx context.Context, key string) (*Setting, error)
	// Set создаёт или обновляет настройку (upsert).
	Set(ctx context.Context, s *Setting) error
	// List возвращает все настройки, отсортированные по ключу.
	List(ctx context.Context) ([]Setting, error)
	// Delete удаляет настройку по ключу.
	Delete(ctx context.Context, key string) error
}

// settingsRepo: реализация SettingsRepository.
type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий настроек.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

// Get возвращает настройку по ключу.
func (r *settingsRepo) Get(ctx context.Context, key string) (*Setting, error) {
	query := `
		SELECT key, value, secret, updated_at, updated_by
		FROM settings
		WHERE key = $1`

	s := &Setting{}
	err := r.db.QueryRow(ctx, query, key).Scan(&s.Key, &s.Value, &s.Secret, &s.UpdatedAt, &s.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения settings[%s]: %w", key, err)
	}
	return s, nil
}

// Set создаёт или обновляет настройку (INSERT ... ON CONFLICT DO UPDATE).
func (r *settingsRepo) Set(ctx context.Context, s *Setting) error {
	query := `
		INSERT INTO settings (key, value, secret, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			secret = EXCLUDED.secret,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING updated_at`

	if err := r.db.QueryRow(ctx, query, s.Key, s.Value, s.Secret, s.UpdatedBy).Scan(&s.UpdatedAt); err != nil {
		return fmt.Errorf("ошибка сохранения settings[%s]: %w", s.Key, err)
	}
	return nil
}

// List возвращает все настройки.
func (r *settingsRepo) List(ctx context.Context) ([]Setting, error) {
	query := `
		SELECT key, value, secret, updated_at, updated_by
		FROM settings
		ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Secret, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, fmt.Errorf("ошибка сканирования settings: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// Delete удаляет настройку по ключу.
func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления settings[%s]: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
