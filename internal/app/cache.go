package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"apview/internal/config"
	"apview/internal/core/cache"
	"apview/internal/db"
)

// OpenCache creates the configured cache backend. The returned closer
// releases the store and, for the sql backend, its database.
func OpenCache(cfg *config.Config) (cache.Store, func() error, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory:
		store, err := cache.NewMemoryStore(cfg.CacheMaxBytes())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendSQL:
		conn, driver, err := db.Open(cfg.CacheDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache database: %w", err)
		}
		if err := db.Migrate(conn, driver); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("migrate cache database: %w", err)
		}
		store, err := cache.NewSQLStore(conn, driver, cfg.CacheMaxBytes())
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		slog.Info("[CACHE] using sql backend", "driver", driver)
		return store, closeBoth(store, conn), nil

	default:
		store, err := cache.NewDiskStore(cfg.CacheDir, cfg.CacheMaxBytes())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("[CACHE] using disk backend", "path", cfg.CacheDir)
		return store, store.Close, nil
	}
}

func closeBoth(store cache.Store, conn *sql.DB) func() error {
	return func() error {
		if err := store.Close(); err != nil {
			_ = conn.Close()
			return err
		}
		return conn.Close()
	}
}
