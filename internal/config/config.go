// Пакет config — загрузка и валидация конфигурации Entitlement Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/billing"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Entitlement Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint сервиса аутентификации
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допуск рассинхронизации часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWTJWKSRefreshInterval time.Duration

	// --- Stripe ---

	// Секретный API-ключ Stripe
	StripeAPIKey string
	// Секрет подписи webhook (whsec_...)
	StripeWebhookSecret string
	// Базовый URL Stripe API (для проверки доступности и тестов)
	StripeAPIURL string
	// Таймаут запроса к Stripe при ручной сверке
	StripeTimeout time.Duration

	// --- Тарифы ---

	// Каталог цен: ID цены Stripe → тариф
	PlanCatalog *billing.Catalog
	// Размер LRU-кэша обработанных webhook-событий
	WebhookDedupCacheSize int
	// Время жизни записи в LRU-кэше обработанных событий
	WebhookDedupTTL time.Duration

	// --- Фоновые задачи ---

	// Срок хранения мягко удалённых пользователей до окончательного удаления
	UserRetention time.Duration
	// Интервал очистки мягко удалённых пользователей
	PurgeInterval time.Duration
	// Интервал периодической сверки тарифов (0 — отключена)
	PlanResyncInterval time.Duration

	// --- topologymetrics ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если задан EM_ENV_FILE, сначала читает переменные из этого файла.
// Уже заданные переменные окружения файл не перекрывает.
func Load() (*Config, error) {
	if envFile := os.Getenv("EM_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("EM_ENV_FILE: ошибка чтения %q: %w", envFile, err)
		}
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// EM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("EM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("EM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("EM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// EM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("EM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("EM_LOG_LEVEL: %w", err)
	}

	// EM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("EM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("EM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// EM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("EM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// EM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("EM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("EM_DB_PORT: %w", err)
	}

	// EM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("EM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// EM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("EM_DB_USER")
	if err != nil {
		return nil, err
	}

	// EM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("EM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// EM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("EM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("EM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// EM_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("EM_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	if err := validateURL(cfg.JWTJWKSURL); err != nil {
		return nil, fmt.Errorf("EM_JWT_JWKS_URL: %w", err)
	}

	// EM_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("EM_JWT_ISSUER", "")

	// EM_JWT_LEEWAY — допуск часов (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("EM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("EM_JWT_LEEWAY: %w", err)
	}

	// EM_JWT_JWKS_REFRESH_INTERVAL — обновление JWKS (по умолчанию 15m)
	cfg.JWTJWKSRefreshInterval, err = getEnvDuration("EM_JWT_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("EM_JWT_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Stripe ---

	// EM_STRIPE_API_KEY — обязательный
	cfg.StripeAPIKey, err = getEnvRequired("EM_STRIPE_API_KEY")
	if err != nil {
		return nil, err
	}

	// EM_STRIPE_WEBHOOK_SECRET — обязательный
	cfg.StripeWebhookSecret, err = getEnvRequired("EM_STRIPE_WEBHOOK_SECRET")
	if err != nil {
		return nil, err
	}

	// EM_STRIPE_API_URL — базовый URL Stripe API (по умолчанию https://api.stripe.com)
	cfg.StripeAPIURL = strings.TrimRight(getEnvDefault("EM_STRIPE_API_URL", "https://api.stripe.com"), "/")
	if err := validateURL(cfg.StripeAPIURL); err != nil {
		return nil, fmt.Errorf("EM_STRIPE_API_URL: %w", err)
	}

	// EM_STRIPE_TIMEOUT — таймаут запроса к Stripe (по умолчанию 10s)
	cfg.StripeTimeout, err = getEnvDuration("EM_STRIPE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("EM_STRIPE_TIMEOUT: %w", err)
	}
	if cfg.StripeTimeout <= 0 {
		return nil, fmt.Errorf("EM_STRIPE_TIMEOUT: таймаут должен быть положительным")
	}

	// --- Тарифы ---

	// EM_PLAN_CATALOG — обязательный, формат price_id=PLAN через запятую
	catalogRaw, err := getEnvRequired("EM_PLAN_CATALOG")
	if err != nil {
		return nil, err
	}
	cfg.PlanCatalog, err = billing.ParseCatalog(catalogRaw)
	if err != nil {
		return nil, fmt.Errorf("EM_PLAN_CATALOG: %w", err)
	}
	if cfg.PlanCatalog.Len() == 0 {
		return nil, fmt.Errorf("EM_PLAN_CATALOG: каталог не содержит ни одной цены")
	}

	// EM_WEBHOOK_DEDUP_CACHE_SIZE — размер кэша событий (по умолчанию 10000)
	cfg.WebhookDedupCacheSize, err = getEnvInt("EM_WEBHOOK_DEDUP_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("EM_WEBHOOK_DEDUP_CACHE_SIZE: %w", err)
	}
	if cfg.WebhookDedupCacheSize < 1 || cfg.WebhookDedupCacheSize > 1000000 {
		return nil, fmt.Errorf("EM_WEBHOOK_DEDUP_CACHE_SIZE: значение %d вне допустимого диапазона 1-1000000", cfg.WebhookDedupCacheSize)
	}

	// EM_WEBHOOK_DEDUP_TTL — время жизни записи кэша (по умолчанию 24h)
	cfg.WebhookDedupTTL, err = getEnvDuration("EM_WEBHOOK_DEDUP_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("EM_WEBHOOK_DEDUP_TTL: %w", err)
	}

	// --- Фоновые задачи ---

	// EM_USER_RETENTION — срок хранения удалённых пользователей (по умолчанию 720h)
	cfg.UserRetention, err = getEnvDuration("EM_USER_RETENTION", 720*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("EM_USER_RETENTION: %w", err)
	}

	// EM_PURGE_INTERVAL — интервал очистки (по умолчанию 1h)
	cfg.PurgeInterval, err = getEnvDuration("EM_PURGE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("EM_PURGE_INTERVAL: %w", err)
	}
	if cfg.PurgeInterval <= 0 {
		return nil, fmt.Errorf("EM_PURGE_INTERVAL: интервал должен быть положительным")
	}

	// EM_PLAN_RESYNC_INTERVAL — интервал сверки тарифов (по умолчанию 0 — выключено)
	cfg.PlanResyncInterval, err = getEnvDuration("EM_PLAN_RESYNC_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("EM_PLAN_RESYNC_INTERVAL: %w", err)
	}
	if cfg.PlanResyncInterval < 0 {
		return nil, fmt.Errorf("EM_PLAN_RESYNC_INTERVAL: интервал не может быть отрицательным")
	}

	// --- topologymetrics ---

	// EM_DEPHEALTH_GROUP — группа сервиса (по умолчанию saaskit)
	cfg.DephealthGroup = getEnvDefault("EM_DEPHEALTH_GROUP", "saaskit")

	// EM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("EM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("EM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// EM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("EM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("EM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля.
// Используется для лейблов topologymetrics, не для подключения.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
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

// validateURL проверяет, что строка — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ожидается абсолютный http(s) URL, получено %q", raw)
	}
	return nil
}
