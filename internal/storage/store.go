package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"steam-price-reporter/internal/config"
)

// SeriesStore is the append-only per-item time series.
type SeriesStore interface {
	Append(ctx context.Context, item string, sample Sample) error
	ReadAll(ctx context.Context, item string) ([]Sample, error)
}

// BaselineStore persists one reference price per item.
type BaselineStore interface {
	GetBaseline(ctx context.Context, item string) (decimal.Decimal, bool, error)
	SetBaseline(ctx context.Context, item string, price decimal.Decimal) error
}

// Store aggregates series and baseline persistence.
type Store interface {
	SeriesStore
	BaselineStore
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open builds the backend selected by configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	loc, err := config.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("storage timezone: %w", err)
	}

	switch cfg.Backend {
	case config.BackendCSV, "":
		return NewFileStore(cfg.Dir, loc)
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, loc)
	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool, loc)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Describe returns a short human description of where data lives.
func Describe(cfg config.StorageConfig) string {
	switch cfg.Backend {
	case config.BackendSQLite:
		return "sqlite:" + filepath.Clean(cfg.SQLitePath)
	case config.BackendPostgres:
		return "postgres"
	case config.BackendMemory:
		return "memory"
	default:
		return "csv:" + filepath.Clean(cfg.Dir)
	}
}
