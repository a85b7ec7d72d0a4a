// Пакет config: загрузка и валидация конфигурации Purge Module
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Purge Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к файлу логов (пусто: только stdout)
	LogFile string
	// Максимальный размер файла логов до ротации, МБ
	LogMaxSizeMB int
	// Количество сохраняемых файлов после ротации
	LogMaxBackups int

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string //nolint:gosec // G101: поле структуры
	DBSSLMode  string

	// --- JWT (пустой JWKSURL: аутентификация отключена) ---

	JWKSURL             string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	// Группы IdP, дающие роль admin
	AdminGroups []string
	// Группы IdP, дающие роль readonly
	ReadonlyGroups []string
	// CA-сертификат для исходящих TLS-соединений (JWKS, хранилище, классификатор)
	CACertPath string

	// --- Облачное хранилище ---

	// Базовый URL API хранилища
	DriveAPIURL string
	// URL OAuth token endpoint
	DriveTokenURL string
	// OAuth client id / secret
	DriveClientID     string
	DriveClientSecret string //nolint:gosec // G101: поле структуры
	// Refresh token сервисной учётной записи (пусто: токен передаёт UI при создании сессии)
	DriveRefreshToken string //nolint:gosec // G101: поле структуры
	// Таймаут HTTP-запросов к хранилищу
	DriveTimeout time.Duration
	// Размер страницы листинга
	DrivePageSize int
	// Максимум файлов за одно сканирование
	DriveMaxFiles int
	// Ожидание готовности адаптера хранилища
	DriveReadyTimeout time.Duration

	// --- Классификатор ---

	ClassifierURL     string
	ClassifierAPIKey  string //nolint:gosec // G101: поле структуры
	ClassifierModel   string
	ClassifierTimeout time.Duration
	// Размер и TTL кэша ответов классификатора
	ClassifierCacheSize int
	ClassifierCacheTTL  time.Duration

	// --- Аудит и удаление ---

	// Порог автоматического выбора кандидатов (строго больше)
	ConfidenceThreshold float64
	// Параллельность удаления
	RemediationConcurrency int
	// Ограничение частоты вызовов удаления (в секунду)
	RemediationRate float64
	// Сколько помнить удалённые id для идемпотентности
	RemediationMemoryTTL time.Duration

	// --- Сессии ---

	SessionTTL time.Duration
	SessionMax int

	// --- Отчёты ---

	ReportRetention         time.Duration
	ReportRetentionSchedule string

	// --- Dephealth ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// DatabaseDSN возвращает DSN для подключения к PostgreSQL через pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// AuthEnabled: включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSURL != ""
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("PM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("PM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PM_PORT: порт вне диапазона: %d", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = os.Getenv("PM_LOG_FILE")
	cfg.LogMaxSizeMB, err = getEnvInt("PM_LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_MAX_SIZE_MB: %w", err)
	}
	cfg.LogMaxBackups, err = getEnvInt("PM_LOG_MAX_BACKUPS", 3)
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_MAX_BACKUPS: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("PM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("PM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("PM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("PM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PM_DB_SSL_MODE", "disable")

	// --- JWT ---

	cfg.JWKSURL = os.Getenv("PM_JWKS_URL")
	cfg.JWTIssuer = os.Getenv("PM_JWT_ISSUER")
	cfg.JWTLeeway, err = getEnvDuration("PM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("PM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("PM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AdminGroups = getEnvList("PM_ADMIN_GROUPS", []string{"purge-admins"})
	cfg.ReadonlyGroups = getEnvList("PM_READONLY_GROUPS", []string{"purge-viewers"})
	cfg.CACertPath = os.Getenv("PM_CA_CERT_PATH")

	// --- Облачное хранилище ---

	cfg.DriveAPIURL = getEnvDefault("PM_DRIVE_API_URL", "https://www.googleapis.com/drive/v3")
	cfg.DriveTokenURL = getEnvDefault("PM_DRIVE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.DriveClientID = os.Getenv("PM_DRIVE_CLIENT_ID")
	cfg.DriveClientSecret = os.Getenv("PM_DRIVE_CLIENT_SECRET")
	cfg.DriveRefreshToken = os.Getenv("PM_DRIVE_REFRESH_TOKEN")
	if cfg.DriveRefreshToken != "" && (cfg.DriveClientID == "" || cfg.DriveClientSecret == "") {
		return nil, fmt.Errorf("PM_DRIVE_REFRESH_TOKEN: требует PM_DRIVE_CLIENT_ID и PM_DRIVE_CLIENT_SECRET")
	}
	cfg.DriveTimeout, err = getEnvDuration("PM_DRIVE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DRIVE_TIMEOUT: %w", err)
	}
	cfg.DrivePageSize, err = getEnvIntRange("PM_DRIVE_PAGE_SIZE", 100, 1, 1000)
	if err != nil {
		return nil, fmt.Errorf("PM_DRIVE_PAGE_SIZE: %w", err)
	}
	cfg.DriveMaxFiles, err = getEnvIntRange("PM_DRIVE_MAX_FILES", 1000, 1, 100000)
	if err != nil {
		return nil, fmt.Errorf("PM_DRIVE_MAX_FILES: %w", err)
	}
	cfg.DriveReadyTimeout, err = getEnvDurationFallback("PM_DRIVE_READY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DRIVE_READY_TIMEOUT: %w", err)
	}

	// --- Классификатор ---

	if cfg.ClassifierURL, err = getEnvRequired("PM_CLASSIFIER_URL"); err != nil {
		return nil, err
	}
	cfg.ClassifierAPIKey = os.Getenv("PM_CLASSIFIER_API_KEY")
	cfg.ClassifierModel = getEnvDefault("PM_CLASSIFIER_MODEL", "default")
	cfg.ClassifierTimeout, err = getEnvDurationFallback("PM_CLASSIFIER_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_CLASSIFIER_TIMEOUT: %w", err)
	}
	cfg.ClassifierCacheSize, err = getEnvIntRange("PM_CLASSIFIER_CACHE_SIZE", 64, 1, 10000)
	if err != nil {
		return nil, fmt.Errorf("PM_CLASSIFIER_CACHE_SIZE: %w", err)
	}
	cfg.ClassifierCacheTTL, err = getEnvDuration("PM_CLASSIFIER_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_CLASSIFIER_CACHE_TTL: %w", err)
	}

	// --- Аудит и удаление ---

	cfg.ConfidenceThreshold, err = getEnvFloat("PM_CONFIDENCE_THRESHOLD", 0.75)
	if err != nil {
		return nil, fmt.Errorf("PM_CONFIDENCE_THRESHOLD: %w", err)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("PM_CONFIDENCE_THRESHOLD: значение должно быть в диапазоне [0, 1]")
	}
	cfg.RemediationConcurrency, err = getEnvIntRange("PM_REMEDIATION_CONCURRENCY", 4, 1, 64)
	if err != nil {
		return nil, fmt.Errorf("PM_REMEDIATION_CONCURRENCY: %w", err)
	}
	cfg.RemediationRate, err = getEnvFloat("PM_REMEDIATION_RATE", 10)
	if err != nil {
		return nil, fmt.Errorf("PM_REMEDIATION_RATE: %w", err)
	}
	if cfg.RemediationRate <= 0 {
		return nil, fmt.Errorf("PM_REMEDIATION_RATE: значение должно быть > 0")
	}
	cfg.RemediationMemoryTTL, err = getEnvDuration("PM_REMEDIATION_MEMORY_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PM_REMEDIATION_MEMORY_TTL: %w", err)
	}

	// --- Сессии ---

	cfg.SessionTTL, err = getEnvDurationFallback("PM_SESSION_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PM_SESSION_TTL: %w", err)
	}
	cfg.SessionMax, err = getEnvIntRange("PM_SESSION_MAX", 1000, 1, 100000)
	if err != nil {
		return nil, fmt.Errorf("PM_SESSION_MAX: %w", err)
	}

	// --- Отчёты ---

	cfg.ReportRetention, err = getEnvDurationFallback("PM_REPORT_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PM_REPORT_RETENTION: %w", err)
	}
	cfg.ReportRetentionSchedule = getEnvDefault("PM_REPORT_RETENTION_SCHEDULE", "@daily")

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("PM_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("PM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном LogFile логи дублируются в файл с ротацией (lumberjack).
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvIntRange: getEnvInt с проверкой диапазона [minVal, maxVal].
func getEnvIntRange(key string, defaultVal, minVal, maxVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("значение %d вне диапазона [%d, %d]", n, minVal, maxVal)
	}
	return n, nil
}

// getEnvFloat возвращает вещественное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationFallback возвращает time.Duration из переменной окружения.
// Если переменная не задана, используется fallbackVal.
// Если задана: парсится и валидируется (> 0).
func getEnvDurationFallback(key string, fallbackVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallbackVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую. Пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
