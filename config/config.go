package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application-level configuration
type Config struct {
	App       AppConfig
	Source    SourceConfig
	Storage   StorageConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	HTTP      HTTPConfig
	Log       LogConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Name string
	Env  string
}

// SourceConfig describes the remote open-data endpoint
type SourceConfig struct {
	BaseURL         string
	AppToken        string // optional Socrata app token
	PageSize        int
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RequestInterval time.Duration // minimum gap between page requests, 0 = unlimited
}

// StorageConfig selects and configures the local store
type StorageConfig struct {
	Driver       string // sqlite, postgres, file, redis
	SQLitePath   string
	PostgresURL  string
	BlobDir      string
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	RedisPrefix  string
	SnapshotPath string // bundled snapshot used on first run
	RawCSVPath   string // optional raw row archive, empty disables it
}

// SyncConfig holds refresh policy
type SyncConfig struct {
	StaleAfter time.Duration
}

// SchedulerConfig holds the background refresh wake-up settings
type SchedulerConfig struct {
	Enabled     bool
	Identifier  string
	Mode        string // interval or daily
	Interval    time.Duration
	DailyHour   int
	DailyMinute int
	TaskTimeout time.Duration
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	CORSAllowOrigins []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load reads configuration from a .env file, config.toml and ABCEATS_ environment
// variables, falling back to defaults. Environment wins over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/abceats")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ABCEATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Source: SourceConfig{
			BaseURL:         v.GetString("source.base_url"),
			AppToken:        v.GetString("source.app_token"),
			PageSize:        v.GetInt("source.page_size"),
			Timeout:         v.GetDuration("source.timeout"),
			MaxRetries:      v.GetInt("source.max_retries"),
			RetryDelay:      v.GetDuration("source.retry_delay"),
			RequestInterval: v.GetDuration("source.request_interval"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(v.GetString("storage.driver")),
			SQLitePath:   v.GetString("storage.sqlite_path"),
			PostgresURL:  v.GetString("storage.postgres_url"),
			BlobDir:      v.GetString("storage.blob_dir"),
			RedisAddr:    v.GetString("storage.redis_addr"),
			RedisDB:      v.GetInt("storage.redis_db"),
			RedisPass:    v.GetString("storage.redis_password"),
			RedisPrefix:  v.GetString("storage.redis_prefix"),
			SnapshotPath: v.GetString("storage.snapshot_path"),
			RawCSVPath:   v.GetString("storage.raw_csv_path"),
		},
		Sync: SyncConfig{
			StaleAfter: v.GetDuration("sync.stale_after"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("scheduler.enabled"),
			Identifier:  v.GetString("scheduler.identifier"),
			Mode:        strings.ToLower(v.GetString("scheduler.mode")),
			Interval:    v.GetDuration("scheduler.interval"),
			DailyHour:   v.GetInt("scheduler.daily_hour"),
			DailyMinute: v.GetInt("scheduler.daily_minute"),
			TaskTimeout: v.GetDuration("scheduler.task_timeout"),
		},
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "abceats")
	v.SetDefault("app.env", "development")

	v.SetDefault("source.base_url", "https://data.cityofnewyork.us/resource/43nn-pn8j.json")
	v.SetDefault("source.page_size", 1000)
	v.SetDefault("source.timeout", 60*time.Second)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay", 2*time.Second)
	v.SetDefault("source.request_interval", time.Duration(0))

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/abceats.db")
	v.SetDefault("storage.postgres_url", "postgres://localhost:5432/abceats?sslmode=disable")
	v.SetDefault("storage.blob_dir", "data/blobs")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "abceats:")
	v.SetDefault("storage.snapshot_path", "data/restaurants_data.json")
	v.SetDefault("storage.raw_csv_path", "")

	v.SetDefault("sync.stale_after", 24*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.identifier", "com.abceats.refresh")
	v.SetDefault("scheduler.mode", "interval")
	v.SetDefault("scheduler.interval", 4*time.Hour)
	v.SetDefault("scheduler.daily_hour", 4)
	v.SetDefault("scheduler.daily_minute", 0)
	v.SetDefault("scheduler.task_timeout", 30*time.Minute)

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source.page_size must be positive, got %d", c.Source.PageSize)
	}
	if c.Source.MaxRetries < 0 {
		return fmt.Errorf("source.max_retries must not be negative, got %d", c.Source.MaxRetries)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres", "file", "redis":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	switch c.Scheduler.Mode {
	case "interval", "daily":
	default:
		return fmt.Errorf("unsupported scheduler.mode %q", c.Scheduler.Mode)
	}
	if c.Scheduler.DailyHour < 0 || c.Scheduler.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour out of range: %d", c.Scheduler.DailyHour)
	}
	if c.Scheduler.DailyMinute < 0 || c.Scheduler.DailyMinute > 59 {
		return fmt.Errorf("scheduler.daily_minute out of range: %d", c.Scheduler.DailyMinute)
	}
	if c.Sync.StaleAfter <= 0 {
		return fmt.Errorf("sync.stale_after must be positive")
	}
	return nil
}

// IsProduction reports whether the app runs with production settings
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
