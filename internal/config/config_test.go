package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-gateway/internal/turnstile"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
environment: production
server:
  port: 9090
  request_timeout_seconds: 20
logging:
  development: false
signing:
  secret: s3cret
  window_seconds: 120
  require_bearer: false
turnstile:
  secret_key: ts-key
  timeout_seconds: 3
scraper:
  base_url: https://scraper.internal
db:
  dsn: postgres://catalog@localhost/catalog
  max_conns: 4
redis:
  address: localhost:6379
storage:
  backend: local
  local:
    base_dir: /tmp/pages
  prefix: raw
pubsub:
  project_id: demo
  topic_name: scrapes
crawler:
  concurrency: 6
  user_agent: test-agent
  respect_robots: false
  rate_limit_rps: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "s3cret", cfg.Signing.Secret)
	require.False(t, cfg.Signing.RequireBearer)
	require.Equal(t, 2*time.Minute, cfg.SigningWindow())
	require.Equal(t, 20*time.Second, cfg.RequestTimeout())
	require.Equal(t, "ts-key", cfg.Turnstile.SecretKey)
	require.Equal(t, 3, cfg.Turnstile.TimeoutSeconds)
	require.Equal(t, "https://scraper.internal", cfg.Scraper.BaseURL)
	require.Equal(t, int32(4), cfg.DB.MaxConns)
	require.Equal(t, "localhost:6379", cfg.Redis.Address)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Equal(t, "/tmp/pages", cfg.Storage.Local.BaseDir)
	require.Equal(t, "raw", cfg.Storage.Prefix)
	require.Equal(t, "scrapes", cfg.PubSub.TopicName)
	require.Equal(t, 6, cfg.Crawler.Concurrency)
	require.False(t, cfg.Crawler.RespectRobots)
	require.InDelta(t, 0.5, cfg.Crawler.RateLimitRPS, 1e-9)

	// Untouched keys keep their defaults.
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	require.Equal(t, "scraped_pages", cfg.DB.PageTable)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, "https://challenges.cloudflare.com/turnstile/v0/siteverify", cfg.Turnstile.VerifyURL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CATALOG_SIGNING_SECRET", "from-env")
	t.Setenv("CATALOG_SERVER_PORT", "7070")
	t.Setenv("CATALOG_TURNSTILE_SECRET_KEY", "env-ts")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Signing.Secret)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "env-ts", cfg.Turnstile.SecretKey)
	require.Equal(t, "production", cfg.Environment)
}

func TestLoadDefaultEnvironmentKeepsGateOn(t *testing.T) {
	t.Setenv("CATALOG_SIGNING_SECRET", "s")
	t.Setenv("CATALOG_TURNSTILE_SECRET_KEY", "ts")

	cfg, err := Load("")
	require.NoError(t, err)

	gateCfg := turnstile.Config{Environment: cfg.Environment, SecretKey: cfg.Turnstile.SecretKey}
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", nil)
	require.False(t, turnstile.ShouldBypass(gateCfg, req))

	t.Setenv("CATALOG_ENVIRONMENT", "development")
	cfg, err = Load("")
	require.NoError(t, err)
	gateCfg.Environment = cfg.Environment
	require.True(t, turnstile.ShouldBypass(gateCfg, req), "development is an explicit opt-in")
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CATALOG_SIGNING_SECRET", "")

	_, err := Load("")
	require.EqualError(t, err, "signing.secret is required")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CATALOG_SIGNING_SECRET=dotenv-secret\nCATALOG_SERVER_PORT=6060\n"), 0o600))
	t.Setenv("CATALOG_SERVER_PORT", "5050")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("CATALOG_SIGNING_SECRET") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "dotenv-secret", cfg.Signing.Secret)
	require.Equal(t, 5050, cfg.Server.Port, "existing variables win over .env")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Signing: SigningConfig{Secret: "s", WindowSeconds: 300},
		Storage: StorageConfig{Backend: BackendMemory},
		Crawler: CrawlerConfig{Concurrency: 1, TimeoutSeconds: 10},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "missing secret", mutate: func(c *Config) { c.Signing.Secret = "" }, want: "signing.secret"},
		{name: "zero window", mutate: func(c *Config) { c.Signing.WindowSeconds = 0 }, want: "signing.window_seconds"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Crawler.TimeoutSeconds = 0 }, want: "crawler.timeout_seconds"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = BackendLocal }, want: "storage.local.base_dir"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
