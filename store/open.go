// Package store selects the persistence backend from configuration.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/depreciation-engine/config"
	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/depreciation/store"
	"github.com/warp/depreciation-engine/store/postgres"
	"github.com/warp/depreciation-engine/store/sqlite"
)

// Backend is everything the server needs from a store.
type Backend interface {
	depreciation.TxStore
	depreciation.AssetLister
	depreciation.RunLog
	SaveAsset(ctx context.Context, asset depreciation.Asset) error
	Reset(ctx context.Context) error
	Close() error
}

// Open connects the backend named by cfg.DBDriver.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		return memoryBackend{store.NewTxMemory()}, nil

	case config.DriverSQLite:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.DBDriver)
}

type memoryBackend struct {
	*store.TxMemory
}

func (memoryBackend) Close() error { return nil }
