package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/grocery-scraper/internal/browser"
	"github.com/maltedev/grocery-scraper/internal/scraper"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Exporter ExporterConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Stores            []string
	NavigationTimeout time.Duration
	GridTimeout       time.Duration
	ConcurrentLimit   int
}

type BrowserConfig struct {
	Driver         string
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ControlURL     string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// ExporterConfig drives cmd/snapshot-exporter.
type ExporterConfig struct {
	Path          string
	Group         string
	Consumer      string
	RetryInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	defaults := browser.DefaultOptions()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			Stores:            getStringSliceOrDefault("SCRAPER_STORES", []string{scraper.StoreFredMeyer}),
			NavigationTimeout: getDurationOrDefault("SCRAPER_NAV_TIMEOUT", scraper.DefaultNavigationTimeout),
			GridTimeout:       getDurationOrDefault("SCRAPER_GRID_TIMEOUT", scraper.DefaultGridTimeout),
			ConcurrentLimit:   getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 4),
		},
		Browser: BrowserConfig{
			Driver:         getEnvOrDefault("BROWSER_DRIVER", browser.DriverPlaywright),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", defaults.Timeout),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaults.UserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", defaults.ViewportWidth),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", defaults.ViewportHeight),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", defaults.TimezoneID),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", defaults.Locale),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			ControlURL:     getEnvOrDefault("BROWSER_CONTROL_URL", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "grocery_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:grocery_products"),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Exporter: ExporterConfig{
			Path:          getEnvOrDefault("SNAPSHOT_PATH", "data/products.json"),
			Group:         getEnvOrDefault("EXPORTER_GROUP", "grocery-snapshot-group"),
			Consumer:      getEnvOrDefault("EXPORTER_CONSUMER", hostnameOr("exporter-1")),
			RetryInterval: getDurationOrDefault("EXPORTER_RETRY_INTERVAL", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.NavigationTimeout <= 0 || c.Scraper.GridTimeout <= 0 {
		return fmt.Errorf("SCRAPER_NAV_TIMEOUT and SCRAPER_GRID_TIMEOUT must be positive")
	}

	if len(c.Scraper.Stores) == 0 {
		return fmt.Errorf("SCRAPER_STORES must name at least one store")
	}

	for _, id := range c.Scraper.Stores {
		if _, ok := scraper.Lookup(id); !ok {
			return fmt.Errorf("unknown store %q in SCRAPER_STORES (known: %s)", id, strings.Join(scraper.StoreIDs(), ", "))
		}
	}

	switch c.Browser.Driver {
	case browser.DriverPlaywright, browser.DriverRod:
	default:
		return fmt.Errorf("BROWSER_DRIVER must be %q or %q", browser.DriverPlaywright, browser.DriverRod)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT must be positive")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

// RequestTimeout is the deadline for one API request. It sits below the
// server write timeout so the 504 for a run that overruns can still be
// written.
func (c *Config) RequestTimeout() time.Duration {
	headroom := c.Server.WriteTimeout / 10
	if headroom > 5*time.Second {
		headroom = 5 * time.Second
	}
	return c.Server.WriteTimeout - headroom
}

// BrowserOptions converts the browser section into driver options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.UserAgent = c.Browser.UserAgent
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.ProxyServer
	opts.ControlURL = c.Browser.ControlURL
	return opts
}

// StoreConfigs resolves the configured store ids, applying the configured
// timeouts to each.
func (c *Config) StoreConfigs() ([]scraper.StoreConfig, error) {
	stores := make([]scraper.StoreConfig, 0, len(c.Scraper.Stores))
	for _, id := range c.Scraper.Stores {
		sc, ok := scraper.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown store %q", id)
		}
		sc.NavigationTimeout = c.Scraper.NavigationTimeout
		sc.GridTimeout = c.Scraper.GridTimeout
		stores = append(stores, sc)
	}
	return stores, nil
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
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
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
