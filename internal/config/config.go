package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Cache        CacheConfig        `yaml:"cache"`
	Scraper      ScraperConfig      `yaml:"scraper"`
	Browser      BrowserConfig      `yaml:"browser"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Affiliate    AffiliateConfig    `yaml:"affiliate"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type CacheConfig struct {
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

type ScraperConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	BackoffMin      time.Duration `yaml:"backoff_min"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	MinBodySize     int           `yaml:"min_body_size"`
	BlockIndicators []string      `yaml:"block_indicators"`
	// HostRate is requests per second per retailer host, 0 disables pacing.
	HostRate  float64 `yaml:"host_rate"`
	HostBurst int     `yaml:"host_burst"`
}

type BrowserConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Engine            string        `yaml:"engine"`
	Headless          bool          `yaml:"headless"`
	MaxAttempts       int           `yaml:"max_attempts"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	BodyTimeout       time.Duration `yaml:"body_timeout"`
	SettleMin         time.Duration `yaml:"settle_min"`
	SettleMax         time.Duration `yaml:"settle_max"`
	DisableImages     bool          `yaml:"disable_images"`
	DisableJavaScript bool          `yaml:"disable_javascript"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	Stream         string        `yaml:"stream"`
	RelayInterval  time.Duration `yaml:"relay_interval"`
	RelayBatchSize int           `yaml:"relay_batch_size"`
}

type AffiliateConfig struct {
	AmazonTag  string `yaml:"amazon_tag"`
	FlipkartID string `yaml:"flipkart_id"`
}

type HousekeepingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ExpireAfter time.Duration `yaml:"expire_after"`
	DeleteAfter time.Duration `yaml:"delete_after"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when neither a file nor the
// environment override a value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Cache: CacheConfig{
			Dir: "cache",
			TTL: time.Hour,
		},
		Scraper: ScraperConfig{
			RequestTimeout: 30 * time.Second,
			BackoffMin:     2 * time.Second,
			BackoffMax:     5 * time.Second,
			MinBodySize:    5000,
			HostRate:       0,
			HostBurst:      1,
		},
		Browser: BrowserConfig{
			Enabled:           true,
			Engine:            "playwright",
			Headless:          true,
			MaxAttempts:       2,
			NavigationTimeout: 30 * time.Second,
			BodyTimeout:       15 * time.Second,
			SettleMin:         2 * time.Second,
			SettleMax:         4 * time.Second,
			DisableImages:     true,
			DisableJavaScript: true,
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "deals",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Enabled:        false,
			Addr:           "localhost:6379",
			Stream:         "stream:deals",
			RelayInterval:  time.Second,
			RelayBatchSize: 100,
		},
		Affiliate: AffiliateConfig{
			AmazonTag:  "deals89-21",
			FlipkartID: "deals89",
		},
		Housekeeping: HousekeepingConfig{
			Interval:    time.Hour,
			ExpireAfter: 72 * time.Hour,
			DeleteAfter: 168 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and finally the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys missing from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Cache.Dir = getEnvOrDefault("CACHE_DIR", c.Cache.Dir)
	c.Cache.TTL = getDurationOrDefault("CACHE_TTL", c.Cache.TTL)

	c.Scraper.RequestTimeout = getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", c.Scraper.RequestTimeout)
	c.Scraper.BackoffMin = getDurationOrDefault("SCRAPER_BACKOFF_MIN", c.Scraper.BackoffMin)
	c.Scraper.BackoffMax = getDurationOrDefault("SCRAPER_BACKOFF_MAX", c.Scraper.BackoffMax)
	c.Scraper.MinBodySize = getIntOrDefault("SCRAPER_MIN_BODY_SIZE", c.Scraper.MinBodySize)
	c.Scraper.BlockIndicators = getStringSliceOrDefault("SCRAPER_BLOCK_INDICATORS", c.Scraper.BlockIndicators)
	c.Scraper.HostRate = getFloatOrDefault("SCRAPER_HOST_RATE", c.Scraper.HostRate)
	c.Scraper.HostBurst = getIntOrDefault("SCRAPER_HOST_BURST", c.Scraper.HostBurst)

	c.Browser.Enabled = getBoolOrDefault("BROWSER_ENABLED", c.Browser.Enabled)
	c.Browser.Engine = getEnvOrDefault("BROWSER_ENGINE", c.Browser.Engine)
	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.MaxAttempts = getIntOrDefault("BROWSER_MAX_ATTEMPTS", c.Browser.MaxAttempts)
	c.Browser.NavigationTimeout = getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", c.Browser.NavigationTimeout)
	c.Browser.BodyTimeout = getDurationOrDefault("BROWSER_BODY_TIMEOUT", c.Browser.BodyTimeout)
	c.Browser.SettleMin = getDurationOrDefault("BROWSER_SETTLE_MIN", c.Browser.SettleMin)
	c.Browser.SettleMax = getDurationOrDefault("BROWSER_SETTLE_MAX", c.Browser.SettleMax)
	c.Browser.DisableImages = getBoolOrDefault("BROWSER_DISABLE_IMAGES", c.Browser.DisableImages)
	c.Browser.DisableJavaScript = getBoolOrDefault("BROWSER_DISABLE_JAVASCRIPT", c.Browser.DisableJavaScript)

	c.Database.Enabled = getBoolOrDefault("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getIntOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getIntOrDefault("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Enabled = getBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnvOrDefault("REDIS_STREAM", c.Redis.Stream)
	c.Redis.RelayInterval = getDurationOrDefault("RELAY_INTERVAL", c.Redis.RelayInterval)
	c.Redis.RelayBatchSize = getIntOrDefault("RELAY_BATCH_SIZE", c.Redis.RelayBatchSize)

	c.Affiliate.AmazonTag = getEnvOrDefault("AMAZON_AFFILIATE_TAG", c.Affiliate.AmazonTag)
	c.Affiliate.FlipkartID = getEnvOrDefault("FLIPKART_AFFILIATE_ID", c.Affiliate.FlipkartID)

	c.Housekeeping.Interval = getDurationOrDefault("HOUSEKEEPING_INTERVAL", c.Housekeeping.Interval)
	c.Housekeeping.ExpireAfter = getDurationOrDefault("DEAL_EXPIRE_AFTER", c.Housekeeping.ExpireAfter)
	c.Housekeeping.DeleteAfter = getDurationOrDefault("DEAL_DELETE_AFTER", c.Housekeeping.DeleteAfter)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.Scraper.BackoffMin > c.Scraper.BackoffMax {
		return fmt.Errorf("SCRAPER_BACKOFF_MIN cannot be greater than SCRAPER_BACKOFF_MAX")
	}

	if c.Browser.MaxAttempts < 1 {
		return fmt.Errorf("BROWSER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Browser.SettleMin > c.Browser.SettleMax {
		return fmt.Errorf("BROWSER_SETTLE_MIN cannot be greater than BROWSER_SETTLE_MAX")
	}

	switch c.Browser.Engine {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("unsupported BROWSER_ENGINE: %q", c.Browser.Engine)
	}

	if c.Housekeeping.ExpireAfter > c.Housekeeping.DeleteAfter {
		return fmt.Errorf("DEAL_EXPIRE_AFTER cannot be greater than DEAL_DELETE_AFTER")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED, the relay reads the outbox")
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
