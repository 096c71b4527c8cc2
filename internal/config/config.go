package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Cache drivers accepted by CACHE_DRIVER.
const (
	CacheRedis    = "redis"
	CachePostgres = "postgres"
	CacheMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	RateLimit          string
	BodyLimitBytes     int64

	CacheDriver         string
	RedisURL            string
	DatabaseURL         string
	DatabaseAutoMigrate bool
	PriceCachePrefix    string
	PriceCacheTTL       time.Duration

	ItemAPIBaseURL      string
	ItemAPITimeout      time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	ResolveConcurrency  int
	PriceScale          int
	MaxTableCells       int64
	MaxCapacity         int64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimit:          strings.TrimSpace(k.String("RATE_LIMIT")),
		BodyLimitBytes:     parseInt64(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20),

		CacheDriver:         strings.ToLower(valueOrDefault(k.String("CACHE_DRIVER"), CacheRedis)),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		DatabaseURL:         strings.TrimSpace(k.String("DATABASE_URL")),
		DatabaseAutoMigrate: parseBool(k.String("DATABASE_AUTO_MIGRATE")),
		PriceCachePrefix:    valueOrDefault(k.String("PRICE_CACHE_PREFIX"), "item:price:"),
		PriceCacheTTL:       parseDuration(k.String("PRICE_CACHE_TTL"), "0s"),

		ItemAPIBaseURL:      valueOrDefault(k.String("ITEM_API_BASE_URL"), "https://api.mercadolibre.com/items/"),
		ItemAPITimeout:      parseDuration(k.String("ITEM_API_TIMEOUT"), "3s"),
		BreakerMinRequests:  int(parseInt64(k.String("CIRCUIT_ITEM_API_MIN_REQ"), 20)),
		BreakerFailureRatio: parseFloat(k.String("CIRCUIT_ITEM_API_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("CIRCUIT_ITEM_API_OPEN_FOR"), "30s"),
		ResolveConcurrency:  int(parseInt64(k.String("PRICE_RESOLVE_CONCURRENCY"), 8)),
		PriceScale:          int(parseInt64(k.String("COUPON_PRICE_SCALE"), 2)),
		MaxTableCells:       parseInt64(k.String("COUPON_MAX_TABLE_CELLS"), 1<<27),
		MaxCapacity:         parseInt64(k.String("COUPON_MAX_CAPACITY"), 1<<26),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CacheDriver {
	case CacheRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when CACHE_DRIVER=redis")
		}
	case CachePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when CACHE_DRIVER=postgres")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("unsupported CACHE_DRIVER %q", c.CacheDriver)
	}
	if c.PriceScale < 0 || c.PriceScale > 6 {
		return fmt.Errorf("COUPON_PRICE_SCALE must be between 0 and 6, got %d", c.PriceScale)
	}
	if c.ResolveConcurrency <= 0 {
		return errors.New("PRICE_RESOLVE_CONCURRENCY must be positive")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return errors.New("CIRCUIT_ITEM_API_FAILURE_RATIO must be in (0, 1]")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
