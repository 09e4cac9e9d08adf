package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"fred-meyer"}, cfg.Scraper.Stores)
	assert.Equal(t, "playwright", cfg.Browser.Driver)
	assert.Equal(t, 4, cfg.Scraper.ConcurrentLimit)
	assert.Equal(t, "stream:grocery_products", cfg.Redis.Stream)
	assert.Equal(t, "data/products.json", cfg.Exporter.Path)
	assert.NotEmpty(t, cfg.Exporter.Consumer)
	assert.Equal(t, 30*time.Second, cfg.Exporter.RetryInterval)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SCRAPER_STORES", "fred-meyer, kroger,")
	t.Setenv("SCRAPER_NAV_TIMEOUT", "10s")
	t.Setenv("SCRAPER_GRID_TIMEOUT", "5s")
	t.Setenv("BROWSER_DRIVER", "rod")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"fred-meyer", "kroger"}, cfg.Scraper.Stores)
	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.False(t, cfg.BrowserOptions().Headless)
	assert.Equal(t, 5432, cfg.Database.Port)

	stores, err := cfg.StoreConfigs()
	require.NoError(t, err)
	require.Len(t, stores, 2)
	for _, s := range stores {
		assert.Equal(t, 10*time.Second, s.NavigationTimeout)
		assert.Equal(t, 5*time.Second, s.GridTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero concurrency", func(c *Config) { c.Scraper.ConcurrentLimit = 0 }, "SCRAPER_CONCURRENT_LIMIT"},
		{"no stores", func(c *Config) { c.Scraper.Stores = nil }, "at least one store"},
		{"unknown store", func(c *Config) { c.Scraper.Stores = []string{"safeway"} }, "safeway"},
		{"zero timeout", func(c *Config) { c.Scraper.GridTimeout = 0 }, "must be positive"},
		{"bad driver", func(c *Config) { c.Browser.Driver = "selenium" }, "BROWSER_DRIVER"},
		{"bad relay batch", func(c *Config) { c.Relay.BatchSize = 0 }, "RELAY_BATCH_SIZE"},
		{"no write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }, "SERVER_WRITE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		write time.Duration
		want  time.Duration
	}{
		{5 * time.Minute, 5*time.Minute - 5*time.Second},
		{20 * time.Second, 18 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.write.String(), func(t *testing.T) {
			cfg := &Config{Server: ServerConfig{WriteTimeout: tt.write}}
			assert.Equal(t, tt.want, cfg.RequestTimeout())
			assert.Less(t, cfg.RequestTimeout(), cfg.Server.WriteTimeout)
		})
	}
}
