// Точка входа Purge Module: сервис аудита и очистки облачного хранилища.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиенты классификатора и хранилища, реестр сессий аудита,
// запускает фоновые задачи (ротация отчётов, topologymetrics),
// HTTP-сервер с JWT middleware, валидацией OpenAPI и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/purge-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/purge-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/purge-module/internal/classifier"
	"github.com/bigkaa/goartstore/purge-module/internal/config"
	"github.com/bigkaa/goartstore/purge-module/internal/database"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/repository"
	"github.com/bigkaa/goartstore/purge-module/internal/server"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
	"github.com/bigkaa/goartstore/purge-module/internal/source"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Purge Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Float64("confidence_threshold", cfg.ConfidenceThreshold),
	)

	if os.Getenv("PM_DEPHEALTH_GROUP") == "" {
		logger.Warn("PM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := database.OpenDB(pool)
	defer pgDB.Close()

	// 5. Репозитории и настройки
	reportRepo := repository.NewReportRepository(pool, repository.NewTxRunner(pool))
	settingsRepo := repository.NewSettingsRepository(pool)
	settingsSvc := service.NewSettingsService(settingsRepo, logger)

	// 6. Клиент классификатора с кэшем ответов
	classifierClient, err := classifier.New(classifier.Options{
		URL:        cfg.ClassifierURL,
		CACertPath: cfg.CACertPath,
		Timeout:    cfg.ClassifierTimeout,
	}, settingsSvc.ClassifierCredentials(cfg.ClassifierAPIKey, cfg.ClassifierModel), logger)
	if err != nil {
		logger.Error("Ошибка создания клиента классификатора", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cachedClassifier := classifier.NewCached(classifierClient, cfg.ClassifierCacheSize, cfg.ClassifierCacheTTL, logger)

	// Смена ключа или модели делает закэшированные ответы неактуальными
	settingsSvc.OnChange(func(key string) {
		if key == service.SettingClassifierAPIKey || key == service.SettingClassifierModel {
			cachedClassifier.Purge()
			logger.Info("Кэш классификатора сброшен", slog.String("setting", key))
		}
	})

	// 7. Адаптеры хранилища
	driveOpts := source.DriveOptions{
		APIURL:       cfg.DriveAPIURL,
		CACertPath:   cfg.CACertPath,
		Timeout:      cfg.DriveTimeout,
		PageSize:     cfg.DrivePageSize,
		MaxFiles:     cfg.DriveMaxFiles,
		ReadyTimeout: cfg.DriveReadyTimeout,
	}

	// 7.1 Общий адаптер по refresh token (опционально)
	var sharedDrive *source.Drive
	if cfg.DriveRefreshToken != "" {
		tokenClient := &http.Client{Timeout: cfg.DriveTimeout}
		if cfg.CACertPath != "" {
			tokenClient, err = buildHTTPClientWithCA(cfg.CACertPath, cfg.DriveTimeout)
			if err != nil {
				logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		tokens := source.NewRefreshTokenSource(
			cfg.DriveTokenURL,
			cfg.DriveClientID,
			cfg.DriveClientSecret,
			cfg.DriveRefreshToken,
			tokenClient,
			logger,
		)
		sharedDrive, err = source.NewDrive(driveOpts, tokens.Token, logger)
		if err != nil {
			logger.Error("Ошибка создания адаптера хранилища", slog.String("error", err.Error()))
			os.Exit(1)
		}
		go sharedDrive.Init(ctx)
		logger.Info("Общий адаптер хранилища создан", slog.String("api_url", cfg.DriveAPIURL))
	}

	// 7.2 Фабрика источников: токен клиента важнее общего адаптера
	sources := func(accessToken string) (audit.FileSource, error) {
		if accessToken != "" {
			d, err := source.NewDrive(driveOpts, source.StaticToken(accessToken), logger)
			if err != nil {
				return nil, err
			}
			go d.Init(ctx)
			return d, nil
		}
		if sharedDrive != nil {
			return sharedDrive, nil
		}
		return nil, nil
	}

	// 8. Сервисный слой
	engine := service.NewRemediationEngine(service.RemediationOptions{
		Concurrency: cfg.RemediationConcurrency,
		Rate:        cfg.RemediationRate,
		MemoryTTL:   cfg.RemediationMemoryTTL,
	}, logger)

	reportSvc, err := service.NewReportService(reportRepo, cfg.ReportRetention, cfg.ReportRetentionSchedule, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса отчётов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := service.NewSessionRegistry(service.SessionRegistryDeps{
		Sources:    sources,
		Demo:       source.NewDemo(),
		Classifier: cachedClassifier,
		Remediator: engine,
		Reports:    reportSvc,
		Logger:     logger,
	}, service.SessionRegistryOptions{
		Threshold:  cfg.ConfidenceThreshold,
		TTL:        cfg.SessionTTL,
		MaxEntries: cfg.SessionMax,
	})
	if err != nil {
		logger.Error("Ошибка создания реестра сессий", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Фоновые задачи
	if err := reportSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска ротации отчётов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9.1 topologymetrics: мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "purge-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseDSN(),
		ClassifierURL: cfg.ClassifierURL,
		DriveURL:      cfg.DriveAPIURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. API handlers
	var driveChecker handlers.ReadinessChecker
	if sharedDrive != nil {
		driveChecker = sharedDrive
	}
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		classifierClient,
		driveChecker,
	)
	apiHandler := handlers.NewAPIHandler(healthHandler, registry, reportSvc, settingsSvc, logger)

	// 11. JWT middleware (если задан JWKS URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthOptions{
			JWKSURL:         cfg.JWKSURL,
			CACertPath:      cfg.CACertPath,
			Issuer:          cfg.JWTIssuer,
			AdminGroups:     cfg.AdminGroups,
			ReadonlyGroups:  cfg.ReadonlyGroups,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("PM_JWKS_URL не задан, аутентификация отключена")
	}

	// 12. Валидация запросов по OpenAPI контракту
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.OpenAPIValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	cancel()
	registry.Close()
	reportSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Purge Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
