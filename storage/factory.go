package storage

import (
	"fmt"

	"abceats/config"
	"abceats/utils"
)

// Open returns the RestaurantStore selected by cfg.Driver
func Open(cfg config.StorageConfig, logger *utils.Logger) (RestaurantStore, error) {
	logger = logger.Named("storage")
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, logger)
	case "file":
		kv, err := NewFileKV(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Using file blob store in %s", cfg.BlobDir)
		return NewBlobStore(kv, logger), nil
	case "redis":
		kv, err := NewRedisKV(RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPass,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Using Redis blob store at %s", cfg.RedisAddr)
		return NewBlobStore(kv, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// OpenArchive returns the raw row archive, or nil when none is configured
func OpenArchive(cfg config.StorageConfig, logger *utils.Logger) RawArchive {
	if cfg.RawCSVPath == "" {
		return nil
	}
	return NewCSVWriter(cfg.RawCSVPath, logger.Named("archive"))
}
