// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Драйверы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- HTTP ---
	HTTPAddr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`

	// --- Storage ---
	// postgres — боевой режим, memory — локальная разработка без БД.
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"ledger"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"credit_ledger"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	// Таймауты сессии: зависшая транзакция откатывается целиком.
	DBStatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`
	DBLockTimeout      time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"10s"`

	// --- Redis ---
	// Пустой адрес = аренда запуска сверки держится только внутри процесса.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Application ---
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel  string `envconfig:"APP_LOG_LEVEL" default:"info"`
	AppLogFormat string `envconfig:"APP_LOG_FORMAT" default:"text"`
	AppTimezone  string `envconfig:"APP_TIMEZONE" default:"UTC"`

	// --- Auth ---
	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH" required:"true"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Ledger ---
	LedgerHistoryDefaultLimit int   `envconfig:"LEDGER_HISTORY_DEFAULT_LIMIT" default:"50"`
	LedgerHistoryMaxLimit     int   `envconfig:"LEDGER_HISTORY_MAX_LIMIT" default:"500"`
	LedgerMaxAmount           int64 `envconfig:"LEDGER_MAX_AMOUNT" default:"1000000"`

	// --- Reconciliation ---
	// Раз в неделю, воскресенье 02:00 (в часовом поясе APP_TIMEZONE).
	ReconcileEnabled  bool          `envconfig:"RECONCILE_ENABLED" default:"true"`
	ReconcileSchedule string        `envconfig:"RECONCILE_SCHEDULE" default:"0 2 * * 0"`
	ReconcilePageSize int           `envconfig:"RECONCILE_PAGE_SIZE" default:"100"`
	ReconcileLeaseTTL time.Duration `envconfig:"RECONCILE_LEASE_TTL" default:"1h"`

	// --- Rewards ---
	RewardsSeedDefaults bool `envconfig:"REWARDS_SEED_DEFAULTS" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location возвращает часовой пояс планировщика.
// Если APP_TIMEZONE не распознан — UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORAGE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.LedgerHistoryDefaultLimit <= 0 || c.LedgerHistoryMaxLimit < c.LedgerHistoryDefaultLimit {
		return fmt.Errorf("некорректные LEDGER_HISTORY_DEFAULT_LIMIT/LEDGER_HISTORY_MAX_LIMIT")
	}
	if c.LedgerMaxAmount <= 0 {
		return fmt.Errorf("LEDGER_MAX_AMOUNT должен быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	if c.ReconcilePageSize <= 0 {
		return fmt.Errorf("RECONCILE_PAGE_SIZE должен быть > 0")
	}
	if c.ReconcileLeaseTTL <= 0 {
		return fmt.Errorf("RECONCILE_LEASE_TTL должен быть > 0")
	}
	if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("RECONCILE_SCHEDULE: %w", err)
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
