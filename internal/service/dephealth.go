// dephealth.go: интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Purge Module мониторит:
//   - PostgreSQL: SQL checker через существующий pgxpool (connection pool mode, critical)
//   - классификатор: HTTP checker к /health (critical)
//   - API облачного хранилища: HTTP checker (non-critical, только если настроен)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig: параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID: имя вершины графа текущего приложения
	ServiceID string
	// Group: имя группы в метриках (PM_DEPHEALTH_GROUP)
	Group string
	// DB: *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PgConnURL: URL PostgreSQL (для лейблов, не для подключения)
	PgConnURL string
	// ClassifierURL: базовый URL классификатора
	ClassifierURL string
	// DriveURL: URL API хранилища (пусто, если не мониторится)
	DriveURL string
	// CheckInterval: интервал проверки (PM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry: добавить лейбл isentry=yes (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService: сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис. Метрики регистрируются в глобальном registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	withCommon := func(critical bool, depURL string, extra ...dephealth.DependencyOption) []dephealth.DependencyOption {
		opts := []dephealth.DependencyOption{
			dephealth.FromURL(depURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(critical),
		}
		if cfg.IsEntry {
			opts = append(opts, dephealth.WithLabel("isentry", "yes"))
		}
		return append(opts, extra...)
	}

	opts := make([]dephealth.Option, 0, 4+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)), withCommon(true, cfg.PgConnURL)...),
		dephealth.HTTP("classifier", withCommon(true, cfg.ClassifierURL,
			dephealth.WithHTTPHealthPath("/health"))...),
	)

	if cfg.DriveURL != "" {
		// Эндпоинты API требуют токен; проверяется только доступность хоста
		opts = append(opts, dephealth.HTTP("drive-api", withCommon(false, cfg.DriveURL,
			dephealth.WithHTTPHealthPath(healthPath(cfg.DriveURL, "/")))...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath извлекает path из URL зависимости, fallback: для пустого или некорректного URL.
func healthPath(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return fallback
	}
	return parsed.Path
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
