package config

import (
	"errors"
	"fmt"
	"time"

	badgerstore "github.com/SaleDjerfi/shopit/internal/repository/badger"
	pkgconfig "github.com/SaleDjerfi/shopit/pkg/config"
	"github.com/SaleDjerfi/shopit/pkg/database"
	"github.com/SaleDjerfi/shopit/pkg/tracing"
)

// Store drivers selectable with STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds all configuration for the catalog service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"catalog-service"`

	// HTTP server
	HTTPPort            int           `env:"HTTP_PORT" envDefault:"4000"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	PublicCacheMaxAge   int           `env:"HTTP_PUBLIC_CACHE_MAX_AGE" envDefault:"0"`

	// Store
	StoreDriver          string `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreConflictRetries int    `env:"STORE_CONFLICT_RETRIES" envDefault:"10"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"shopit"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"shopit_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"catalog"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Badger
	BadgerPath     string `env:"BADGER_PATH" envDefault:"./data/catalog"`
	BadgerInMemory bool   `env:"BADGER_IN_MEMORY" envDefault:"false"`

	// Redis product cache
	RedisEnabled    bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost       string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	ProductCacheTTL time.Duration `env:"PRODUCT_CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaEnabled     bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopicPrefix string   `env:"KAFKA_TOPIC_PREFIX" envDefault:"shopit"`

	// Auth
	JWTSecret string `env:"JWT_SECRET,required"`

	// Reviews
	ReviewCommentMax     int     `env:"REVIEW_COMMENT_MAX" envDefault:"2000"`
	ReviewRateLimitRPS   float64 `env:"REVIEW_RATE_LIMIT_RPS" envDefault:"1"`
	ReviewRateLimitBurst int     `env:"REVIEW_RATE_LIMIT_BURST" envDefault:"5"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load catalog config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field rules after parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PublicCacheMaxAge < 0 {
		return errors.New("HTTP_PUBLIC_CACHE_MAX_AGE must not be negative")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresHost == "" {
			return errors.New("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return errors.New("POSTGRES_USER is required")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case DriverBadger:
		if !c.BadgerInMemory && c.BadgerPath == "" {
			return errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY is set")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverBadger, c.StoreDriver)
	}
	if c.StoreConflictRetries < 0 {
		return fmt.Errorf("STORE_CONFLICT_RETRIES must not be negative, got %d", c.StoreConflictRetries)
	}

	if c.RedisEnabled && c.ProductCacheTTL <= 0 {
		return errors.New("PRODUCT_CACHE_TTL must be positive when the cache is enabled")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.ReviewCommentMax < 1 {
		return fmt.Errorf("REVIEW_COMMENT_MAX must be positive, got %d", c.ReviewCommentMax)
	}
	if c.ReviewRateLimitRPS <= 0 || c.ReviewRateLimitBurst < 1 {
		return errors.New("REVIEW_RATE_LIMIT_RPS and REVIEW_RATE_LIMIT_BURST must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the pool settings for the postgres driver.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Badger returns the settings for the embedded driver.
func (c *Config) Badger() badgerstore.Config {
	cfg := badgerstore.DefaultConfig(c.BadgerPath)
	if c.BadgerInMemory {
		cfg = badgerstore.InMemoryConfig()
	}
	cfg.ConflictRetries = c.StoreConflictRetries
	return cfg
}

// Redis returns the cache connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Timeout:  3 * time.Second,
	}
}

// Tracing returns the OpenTelemetry exporter settings.
func (c *Config) Tracing(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Insecure:       c.Environment != "production",
		Enabled:        c.OTELEnabled,
	}
}
