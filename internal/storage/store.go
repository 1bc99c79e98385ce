package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fundrate-tracker/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrUnordered rejects a batch whose dates are not strictly ascending.
	ErrUnordered = errors.New("storage: batch dates not strictly ascending")
)

// RateWriter is the single write path for rate records.
type RateWriter interface {
	InsertMissing(ctx context.Context, records []RateRecord, opts InsertOptions) (InsertResult, error)
}

// RateReader exposes read-only queries over stored records.
type RateReader interface {
	LatestRate(ctx context.Context) (*RateRecord, error)
	// ListRates returns records with from <= date <= to ordered by ascending
	// date; nil bounds are open.
	ListRates(ctx context.Context, from, to *time.Time) ([]RateRecord, error)
	ListRecentRates(ctx context.Context, limit int) ([]RateRecord, error)
	CountRates(ctx context.Context) (int64, error)
}

// RateStore is implemented by every storage backend.
type RateStore interface {
	RateWriter
	RateReader
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (RateStore, error) {
	var (
		store RateStore
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err = NewSQLiteStore(ctx, cfg.DSN)
	case config.DriverPostgres, "":
		var pool *pgxpool.Pool
		pool, err = NewPool(ctx, cfg)
		if err == nil {
			store = NewStore(pool)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// checkAscending enforces the strictly increasing date order of a batch.
func checkAscending(records []RateRecord) error {
	for i := 1; i < len(records); i++ {
		if !records[i].Date.After(records[i-1].Date) {
			return fmt.Errorf("%w: %s follows %s", ErrUnordered, records[i].DateKey(), records[i-1].DateKey())
		}
	}
	return nil
}

// anchorFirst fills records[0].RateChange from prev when it is missing.
func anchorFirst(records []RateRecord, prev *RateRecord) {
	if len(records) == 0 || prev == nil || records[0].RateChange != nil {
		return
	}
	change := records[0].Rate.Sub(prev.Rate)
	records[0].RateChange = &change
}
