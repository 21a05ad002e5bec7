// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-gateway/internal/storage/local"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_SIGNING_SECRET.
const EnvPrefix = "CATALOG"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Signing     SigningConfig   `mapstructure:"signing"`
	Turnstile   TurnstileConfig `mapstructure:"turnstile"`
	Scraper     ScraperConfig   `mapstructure:"scraper"`
	DB          DBConfig        `mapstructure:"db"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Storage     StorageConfig   `mapstructure:"storage"`
	PubSub      PubSubConfig    `mapstructure:"pubsub"`
	Crawler     CrawlerConfig   `mapstructure:"crawler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SigningConfig holds the pre-shared secret between the public API and the scraper.
type SigningConfig struct {
	Secret        string `mapstructure:"secret"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	RequireBearer bool   `mapstructure:"require_bearer"`
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`
}

// TurnstileConfig configures the bot-verification gate.
type TurnstileConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	VerifyURL      string `mapstructure:"verify_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScraperConfig locates the scraper service. The catalog API signs against
// BaseURL and the scraper verifies against the same value.
type ScraperConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	PageTable              string `mapstructure:"page_table"`
}

// RedisConfig points the nonce replay guard at Redis. An empty address keeps
// nonces in process memory.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects where raw page bodies are written.
type StorageConfig struct {
	Backend     string       `mapstructure:"backend"`
	GCSBucket   string       `mapstructure:"gcs_bucket"`
	Local       local.Config `mapstructure:"local"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CrawlerConfig governs the scraper worker pool and fetch behavior.
type CrawlerConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	QueueDepth     int     `mapstructure:"queue_depth"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	BackoffMs      int     `mapstructure:"backoff_ms"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("signing.secret", "")
	v.SetDefault("signing.window_seconds", 300)
	v.SetDefault("signing.require_bearer", true)
	v.SetDefault("signing.max_body_bytes", 1<<20)
	v.SetDefault("turnstile.secret_key", "")
	v.SetDefault("turnstile.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	v.SetDefault("turnstile.timeout_seconds", 5)
	v.SetDefault("scraper.base_url", "http://localhost:8081")
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.page_table", "scraped_pages")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "catalog:nonce:")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local.base_dir", "./data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", "catalog-scraper/1.0")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.backoff_ms", 250)
	v.SetDefault("crawler.max_body_bytes", 5<<20)
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Signing.Secret == "" {
		return fmt.Errorf("signing.secret is required")
	}
	if c.Signing.WindowSeconds <= 0 {
		return fmt.Errorf("signing.window_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// SigningWindow is the accepted clock skew for signed requests.
func (c Config) SigningWindow() time.Duration {
	return time.Duration(c.Signing.WindowSeconds) * time.Second
}

// RequestTimeout bounds each inbound HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// FetchTimeout bounds a single page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}
