package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "abceats", cfg.App.Name)
		assert.Equal(t, "https://data.cityofnewyork.us/resource/43nn-pn8j.json", cfg.Source.BaseURL)
		assert.Equal(t, 1000, cfg.Source.PageSize)
		assert.Equal(t, 60*time.Second, cfg.Source.Timeout)
		assert.Equal(t, 3, cfg.Source.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.Source.RetryDelay)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.Equal(t, 24*time.Hour, cfg.Sync.StaleAfter)
		assert.Equal(t, "com.abceats.refresh", cfg.Scheduler.Identifier)
		assert.Equal(t, "interval", cfg.Scheduler.Mode)
		assert.Equal(t, 4*time.Hour, cfg.Scheduler.Interval)
		assert.Equal(t, 4, cfg.Scheduler.DailyHour)
	})

	t.Run("loads values from environment variables with ABCEATS prefix", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("ABCEATS_STORAGE_DRIVER", "redis")
		t.Setenv("ABCEATS_SOURCE_PAGE_SIZE", "250")
		t.Setenv("ABCEATS_SYNC_STALE_AFTER", "12h")
		t.Setenv("ABCEATS_SCHEDULER_MODE", "daily")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "redis", cfg.Storage.Driver)
		assert.Equal(t, 250, cfg.Source.PageSize)
		assert.Equal(t, 12*time.Hour, cfg.Sync.StaleAfter)
		assert.Equal(t, "daily", cfg.Scheduler.Mode)
	})

	t.Run("rejects unknown storage driver", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("ABCEATS_STORAGE_DRIVER", "mongo")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.driver")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:    SourceConfig{BaseURL: "http://x", PageSize: 10, MaxRetries: 3},
			Storage:   StorageConfig{Driver: "file"},
			Sync:      SyncConfig{StaleAfter: time.Hour},
			Scheduler: SchedulerConfig{Mode: "interval"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.Source.BaseURL = "" }, wantErr: "base_url"},
		{name: "zero page size", mutate: func(c *Config) { c.Source.PageSize = 0 }, wantErr: "page_size"},
		{name: "negative retries", mutate: func(c *Config) { c.Source.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "bad scheduler mode", mutate: func(c *Config) { c.Scheduler.Mode = "cron" }, wantErr: "scheduler.mode"},
		{name: "bad daily hour", mutate: func(c *Config) { c.Scheduler.DailyHour = 24 }, wantErr: "daily_hour"},
		{name: "zero staleness", mutate: func(c *Config) { c.Sync.StaleAfter = 0 }, wantErr: "stale_after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir from Go 1.24)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
