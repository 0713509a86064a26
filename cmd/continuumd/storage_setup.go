package main

import (
	"fmt"
	"strings"

	"github.com/cambriantech/continuum-core/internal/config"
	"github.com/cambriantech/continuum-core/internal/storage"
	"github.com/cambriantech/continuum-core/internal/storage/pqstore"
	"github.com/cambriantech/continuum-core/internal/storage/sqlitestore"
)

// openStore picks a storage.Store backend from cfg.Database.URL: a
// "postgres://" URL opens pqstore against it, anything else is treated as a
// sqlite file path (including the empty string, which sqlitestore lazily
// creates relative to the working directory on first use).
func openStore(cfg *config.Config) (storage.Store, string, error) {
	url := strings.TrimSpace(cfg.Database.URL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		pgCfg := pqstore.DefaultConfig()
		if cfg.Database.MaxConnections > 0 {
			pgCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		store, err := pqstore.Open(url, pgCfg)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres store: %w", err)
		}
		return store, url, nil
	}

	dbPath := url
	if dbPath == "" {
		dbPath = "continuum.db"
	}
	return sqlitestore.New(), dbPath, nil
}
