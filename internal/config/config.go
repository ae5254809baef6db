// Пакет config — загрузка и валидация конфигурации Paywall Module
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

	"github.com/shopspring/decimal"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Политики сверки цены, переданной клиентом, с ценой каталога.
const (
	// PricePolicyStrict — расхождение цены отклоняется (INVALID_AMOUNT).
	PricePolicyStrict = "strict"
	// PricePolicyCatalog — цена клиента игнорируется, списывается цена каталога.
	PricePolicyCatalog = "catalog"
)

// Провайдеры платежей.
const (
	// PaymentProviderDemo — демо-провайдер, всегда подтверждает списание.
	PaymentProviderDemo = "demo"
	// PaymentProviderHTTP — внешний провайдер через HTTP API.
	PaymentProviderHTTP = "http"
)

// Config содержит все параметры конфигурации Paywall Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Разрешённые CORS origins (пусто — CORS не включается)
	CORSAllowedOrigins []string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Таймаут одной транзакции смены состояния платежа
	DBTxTimeout time.Duration

	// --- JWT (Identity Provider) ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string
	// Путь к CA-сертификату IdP (опционально)
	CACertPath string

	// --- Хранилище медиа ---

	// Корневая директория хранения оригиналов и превью
	StorageDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- Каталог и водяные знаки ---

	// URL внешнего сервиса водяных знаков (пусто — превью без водяного знака)
	WatermarkURL string
	// Текст водяного знака
	WatermarkText string
	// Таймаут вызова сервиса водяных знаков
	WatermarkTimeout time.Duration
	// Цена по умолчанию, если администратор не указал цену
	DefaultPrice decimal.Decimal
	// Размер LRU-кэша каталога
	CacheSize int
	// TTL записи LRU-кэша каталога
	CacheTTL time.Duration

	// --- Платежи ---

	// Провайдер платежей (demo, http)
	PaymentProvider string
	// Базовый URL HTTP-провайдера
	PaymentProviderURL string
	// API-ключ HTTP-провайдера
	PaymentAPIKey string
	// Таймаут вызова провайдера
	PaymentTimeout time.Duration
	// Валюта платежей (ISO 4217)
	Currency string
	// Политика сверки цены (strict, catalog)
	PricePolicy string
	// Общий секрет подписи webhook
	WebhookSecret string
	// Допустимый возраст подписи webhook
	WebhookTolerance time.Duration
	// Лимит запросов на покупку с одного IP в минуту
	PurchaseRateLimit int

	// --- Circuit breaker внешних вызовов ---

	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	// --- Reconciliation sweep ---

	SweepInterval    time.Duration
	SweepPendingAge  time.Duration
	SweepExpireAfter time.Duration
	SweepBatchSize   int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PW_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("PW_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("PW_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("PW_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	// PW_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PW_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PW_LOG_LEVEL: %w", err)
	}

	// PW_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PW_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PW_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("PW_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись оригиналов видео может быть долгой — по умолчанию 10m
	cfg.HTTPWriteTimeout, err = getEnvDuration("PW_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PW_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// PW_CORS_ALLOWED_ORIGINS — список origins через запятую
	cfg.CORSAllowedOrigins = parseCSV(getEnvDefault("PW_CORS_ALLOWED_ORIGINS", ""))

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PW_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PW_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PW_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("PW_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PW_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PW_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PW_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PW_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	cfg.DBTxTimeout, err = getEnvDurationPositive("PW_DB_TX_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_DB_TX_TIMEOUT: %w", err)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("PW_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("PW_JWT_ISSUER", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("PW_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("PW_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("PW_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_JWT_LEEWAY: %w", err)
	}
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("PW_ROLE_ADMIN_GROUPS", "paywall-admins"))
	cfg.CACertPath = getEnvDefault("PW_CA_CERT_PATH", "")

	// --- Хранилище медиа ---

	cfg.StorageDir = getEnvDefault("PW_STORAGE_DIR", "/var/lib/paywall/media")
	maxUpload, err := getEnvInt("PW_MAX_UPLOAD_SIZE", 512*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("PW_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("PW_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- Каталог ---

	cfg.WatermarkURL = strings.TrimRight(getEnvDefault("PW_WATERMARK_URL", ""), "/")
	if cfg.WatermarkURL != "" {
		if err := validateURL(cfg.WatermarkURL); err != nil {
			return nil, fmt.Errorf("PW_WATERMARK_URL: %w", err)
		}
	}
	cfg.WatermarkText = getEnvDefault("PW_WATERMARK_TEXT", "PREVIEW")
	cfg.WatermarkTimeout, err = getEnvDurationPositive("PW_WATERMARK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_WATERMARK_TIMEOUT: %w", err)
	}
	cfg.DefaultPrice, err = decimal.NewFromString(getEnvDefault("PW_DEFAULT_PRICE", "9.99"))
	if err != nil {
		return nil, fmt.Errorf("PW_DEFAULT_PRICE: некорректная цена: %w", err)
	}
	if cfg.DefaultPrice.IsNegative() {
		return nil, fmt.Errorf("PW_DEFAULT_PRICE: цена не может быть отрицательной")
	}
	cfg.CacheSize, err = getEnvInt("PW_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("PW_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("PW_CACHE_SIZE: значение должно быть >= 1")
	}
	cfg.CacheTTL, err = getEnvDurationPositive("PW_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_CACHE_TTL: %w", err)
	}

	// --- Платежи ---

	cfg.PaymentProvider = getEnvDefault("PW_PAYMENT_PROVIDER", PaymentProviderDemo)
	switch cfg.PaymentProvider {
	case PaymentProviderDemo:
	case PaymentProviderHTTP:
		cfg.PaymentProviderURL, err = getEnvRequired("PW_PAYMENT_PROVIDER_URL")
		if err != nil {
			return nil, err
		}
		cfg.PaymentProviderURL = strings.TrimRight(cfg.PaymentProviderURL, "/")
		if err := validateURL(cfg.PaymentProviderURL); err != nil {
			return nil, fmt.Errorf("PW_PAYMENT_PROVIDER_URL: %w", err)
		}
		cfg.PaymentAPIKey, err = getEnvRequired("PW_PAYMENT_API_KEY")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("PW_PAYMENT_PROVIDER: недопустимое значение %q, допустимые: demo, http", cfg.PaymentProvider)
	}
	cfg.PaymentTimeout, err = getEnvDurationPositive("PW_PAYMENT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_PAYMENT_TIMEOUT: %w", err)
	}
	cfg.Currency = strings.ToUpper(getEnvDefault("PW_CURRENCY", "USD"))
	if len(cfg.Currency) != 3 {
		return nil, fmt.Errorf("PW_CURRENCY: ожидается трёхбуквенный код ISO 4217, получено %q", cfg.Currency)
	}
	cfg.PricePolicy = getEnvDefault("PW_PRICE_POLICY", PricePolicyStrict)
	if cfg.PricePolicy != PricePolicyStrict && cfg.PricePolicy != PricePolicyCatalog {
		return nil, fmt.Errorf("PW_PRICE_POLICY: недопустимое значение %q, допустимые: strict, catalog", cfg.PricePolicy)
	}
	if cfg.WebhookSecret, err = getEnvRequired("PW_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}
	cfg.WebhookTolerance, err = getEnvDurationPositive("PW_WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_WEBHOOK_TOLERANCE: %w", err)
	}
	cfg.PurchaseRateLimit, err = getEnvInt("PW_PURCHASE_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("PW_PURCHASE_RATE_LIMIT: %w", err)
	}
	if cfg.PurchaseRateLimit < 1 {
		return nil, fmt.Errorf("PW_PURCHASE_RATE_LIMIT: значение должно быть >= 1")
	}

	// --- Circuit breaker ---

	threshold, err := getEnvInt("PW_BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, fmt.Errorf("PW_BREAKER_FAILURE_THRESHOLD: %w", err)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("PW_BREAKER_FAILURE_THRESHOLD: значение должно быть >= 1")
	}
	cfg.BreakerFailureThreshold = uint32(threshold) //nolint:gosec // проверено выше
	cfg.BreakerOpenTimeout, err = getEnvDurationPositive("PW_BREAKER_OPEN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_BREAKER_OPEN_TIMEOUT: %w", err)
	}

	// --- Reconciliation sweep ---

	cfg.SweepInterval, err = getEnvDurationPositive("PW_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepPendingAge, err = getEnvDurationPositive("PW_SWEEP_PENDING_AGE", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PW_SWEEP_PENDING_AGE: %w", err)
	}
	cfg.SweepExpireAfter, err = getEnvDurationPositive("PW_SWEEP_EXPIRE_AFTER", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PW_SWEEP_EXPIRE_AFTER: %w", err)
	}
	if cfg.SweepExpireAfter < cfg.SweepPendingAge {
		return nil, fmt.Errorf("PW_SWEEP_EXPIRE_AFTER: значение %s меньше PW_SWEEP_PENDING_AGE %s",
			cfg.SweepExpireAfter, cfg.SweepPendingAge)
	}
	// Платёж не должен попасть в sweep, пока идёт синхронное списание
	if cfg.SweepPendingAge <= cfg.PaymentTimeout {
		return nil, fmt.Errorf("PW_SWEEP_PENDING_AGE: значение %s должно быть больше PW_PAYMENT_TIMEOUT %s",
			cfg.SweepPendingAge, cfg.PaymentTimeout)
	}
	cfg.SweepBatchSize, err = getEnvInt("PW_SWEEP_BATCH_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("PW_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > 10000 {
		return nil, fmt.Errorf("PW_SWEEP_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.SweepBatchSize)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("PW_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("PW_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PW_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PW_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
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

// getEnvDurationPositive — как getEnvDuration, но значение обязано быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
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

// validateURL проверяет, что строка — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("некорректный URL %q: ожидается схема http или https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("некорректный URL %q: не указан хост", raw)
	}
	return nil
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

// parseCSV разбирает строку со значениями через запятую.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
