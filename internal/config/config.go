package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"tripledger/internal/ledger"
)

// Storage backends.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Ledger   LedgerConfig
	Lock     LockConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Driver         string // postgres or memory
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrateOnStart bool

	// SeedProducts seeds the in-memory catalog, as id:name:category entries.
	SeedProducts []string
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LedgerConfig holds the default business rates and balance seed.
type LedgerConfig struct {
	Rates          ledger.Rates
	DefaultBalance decimal.Decimal
	RatesCacheTTL  time.Duration
}

// LockConfig holds the per-(driver, date) lock timings.
type LockConfig struct {
	TTL   time.Duration
	Retry time.Duration
	Wait  time.Duration // how long a save waits for a busy lock
}

// LogConfig holds logger settings.
type LogConfig struct {
	Format string // json or console
	Level  string
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

var rateEnv = map[string]string{
	ledger.KeyFreshReduction:  "LEDGER_FRESH_REDUCTION",
	ledger.KeyBakeryReduction: "LEDGER_BAKERY_REDUCTION",
	ledger.KeyGrandMarkup:     "LEDGER_GRAND_MARKUP",
	ledger.KeyExpiryVAT:       "LEDGER_EXPIRY_VAT",
	ledger.KeyExpiryTaxFactor: "LEDGER_EXPIRY_TAX_FACTOR",
	ledger.KeyFreshProfitPct:  "LEDGER_FRESH_PROFIT_PCT",
	ledger.KeyBakeryProfitPct: "LEDGER_BAKERY_PROFIT_PCT",
}

// Load loads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getString(k, "SERVER_PORT", "8080"),
			ReadTimeout:  getDuration(k, "SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration(k, "SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getString(k, "DB_DRIVER", DriverPostgres)),
			Host:           getString(k, "DB_HOST", "localhost"),
			Port:           getString(k, "DB_PORT", "5432"),
			User:           getString(k, "DB_USER", "postgres"),
			Password:       getString(k, "DB_PASSWORD", "postgres"),
			DBName:         getString(k, "DB_NAME", "trip_ledger"),
			SSLMode:        getString(k, "DB_SSLMODE", "disable"),
			MigrateOnStart: getBool(k, "DB_MIGRATE", true),
			SeedProducts:   splitAndTrim(k.String("MEMORY_PRODUCTS")),
		},
		Redis: RedisConfig{
			Addr:     getString(k, "REDIS_ADDR", "localhost:6379"),
			Password: getString(k, "REDIS_PASSWORD", ""),
			DB:       getInt(k, "REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getString(k, "NEW_RELIC_APP_NAME", "trip-ledger"),
			LicenseKey: getString(k, "NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBool(k, "NEW_RELIC_ENABLED", false),
		},
		Lock: LockConfig{
			TTL:   getDuration(k, "LOCK_TTL", 30*time.Second),
			Retry: getDuration(k, "LOCK_RETRY", 25*time.Millisecond),
			Wait:  getDuration(k, "LOCK_WAIT", 5*time.Second),
		},
		Log: LogConfig{
			Format: getString(k, "LOG_FORMAT", "json"),
			Level:  getString(k, "LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBool(k, "METRICS_ENABLED", true),
			Namespace: getString(k, "METRICS_NAMESPACE", "trip_ledger"),
		},
	}

	if cfg.Database.Driver != DriverPostgres && cfg.Database.Driver != DriverMemory {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Database.Driver)
	}

	rates, err := loadRates(k)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(getString(k, "LEDGER_DEFAULT_BALANCE", "0"))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_DEFAULT_BALANCE: %w", err)
	}

	cfg.Ledger = LedgerConfig{
		Rates:          rates,
		DefaultBalance: balance,
		RatesCacheTTL:  getDuration(k, "LEDGER_RATES_CACHE_TTL", 5*time.Minute),
	}

	return cfg, nil
}

func loadRates(k *koanf.Koanf) (ledger.Rates, error) {
	values := make(map[string]float64)
	for key, name := range rateEnv {
		raw := strings.TrimSpace(k.String(name))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ledger.Rates{}, fmt.Errorf("%s: %w", name, err)
		}
		values[key] = f
	}

	rates, err := ledger.RatesFromFloats(values)
	if err != nil {
		return ledger.Rates{}, fmt.Errorf("ledger rates: %w", err)
	}
	return rates, nil
}

// LoadForTests sets the given environment variables, loads the configuration
// and restores the previous environment.
func LoadForTests(vars map[string]string) (*Config, error) {
	original := make(map[string]*string, len(vars))
	for key, value := range vars {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := os.Setenv(key, value); err != nil {
			return nil, err
		}
	}
	defer func() {
		for key, prev := range original {
			if prev == nil {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, *prev)
			}
		}
	}()
	return Load()
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getString(k *koanf.Koanf, key, defaultValue string) string {
	if value := strings.TrimSpace(k.String(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(k *koanf.Koanf, key string, defaultValue int) int {
	if value := k.String(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBool(k *koanf.Koanf, key string, defaultValue bool) bool {
	if value := k.String(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDuration(k *koanf.Koanf, key string, defaultValue time.Duration) time.Duration {
	if value := k.String(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
