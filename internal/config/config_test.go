package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache", cfg.Cache.Dir)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Second, cfg.Scraper.BackoffMin)
	assert.Equal(t, 5*time.Second, cfg.Scraper.BackoffMax)
	assert.Equal(t, 5000, cfg.Scraper.MinBodySize)
	assert.Equal(t, "playwright", cfg.Browser.Engine)
	assert.Equal(t, 2, cfg.Browser.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Browser.BodyTimeout)
	assert.Equal(t, 2*time.Second, cfg.Browser.SettleMin)
	assert.Equal(t, 4*time.Second, cfg.Browser.SettleMax)
	assert.Equal(t, "deals89-21", cfg.Affiliate.AmazonTag)
	assert.Equal(t, "deals89", cfg.Affiliate.FlipkartID)
	assert.Equal(t, 72*time.Hour, cfg.Housekeeping.ExpireAfter)
	assert.Equal(t, 168*time.Hour, cfg.Housekeeping.DeleteAfter)
	assert.Equal(t, "stream:deals", cfg.Redis.Stream)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CACHE_DIR", "/var/cache/deals")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("BROWSER_ENGINE", "chromedp")
	t.Setenv("SCRAPER_BLOCK_INDICATORS", "captcha, robot check ,")
	t.Setenv("SCRAPER_HOST_RATE", "0.5")
	t.Setenv("AMAZON_AFFILIATE_TAG", "mytag-21")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/deals", cfg.Cache.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "chromedp", cfg.Browser.Engine)
	assert.Equal(t, []string{"captcha", "robot check"}, cfg.Scraper.BlockIndicators)
	assert.Equal(t, 0.5, cfg.Scraper.HostRate)
	assert.Equal(t, "mytag-21", cfg.Affiliate.AmazonTag)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  dir: /data/cache
  ttl: 2h
browser:
  engine: chromedp
  max_attempts: 3
database:
  enabled: true
  name: deals_prod
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CACHE_TTL", "45m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/cache", cfg.Cache.Dir)
	assert.Equal(t, 45*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "chromedp", cfg.Browser.Engine)
	assert.Equal(t, 3, cfg.Browser.MaxAttempts)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "deals_prod", cfg.Database.Name)
	// untouched by the file
	assert.Equal(t, 5*time.Second, cfg.Scraper.BackoffMax)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [unterminated"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.TTL = 0 }},
		{name: "backoff inverted", mutate: func(c *Config) { c.Scraper.BackoffMin = 10 * time.Second }},
		{name: "no browser attempts", mutate: func(c *Config) { c.Browser.MaxAttempts = 0 }},
		{name: "settle inverted", mutate: func(c *Config) { c.Browser.SettleMin = 10 * time.Second }},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engine = "selenium" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "expire after delete", mutate: func(c *Config) { c.Housekeeping.ExpireAfter = 200 * time.Hour }},
		{name: "relay without database", mutate: func(c *Config) { c.Redis.Enabled = true }},
	}

	assert.NoError(t, Defaults().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{User: "postgres", Password: "secret", Host: "db", Port: 5432, Name: "deals", SSLMode: "disable"}
	assert.Equal(t, "postgres://postgres:secret@db:5432/deals?sslmode=disable", d.DSN())
}
