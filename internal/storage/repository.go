package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS price_samples (
        id         BIGSERIAL PRIMARY KEY,
        item       TEXT        NOT NULL,
        sampled_at TIMESTAMPTZ NOT NULL,
        price      NUMERIC     NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS price_samples_item_id_idx ON price_samples (item, id);`,
	`CREATE TABLE IF NOT EXISTS price_baselines (
        item       TEXT        PRIMARY KEY,
        price      NUMERIC     NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

const (
	insertSampleSQL = `INSERT INTO price_samples (
        item,
        sampled_at,
        price
    ) VALUES (
        $1,$2,$3
    );`

	listSamplesSQL = `SELECT
        sampled_at,
        price::text
    FROM price_samples
    WHERE item = $1
    ORDER BY id;`

	selectBaselineSQL = `SELECT price::text FROM price_baselines WHERE item = $1;`

	upsertBaselineSQL = `INSERT INTO price_baselines (
        item,
        price,
        updated_at
    ) VALUES (
        $1,$2,now()
    )
    ON CONFLICT (item) DO UPDATE
    SET price      = EXCLUDED.price,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists series and baselines in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, loc *time.Location) *PostgresStore {
	return &PostgresStore{pool: pool, loc: locationOrLocal(loc)}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Append inserts one sample row.
func (s *PostgresStore) Append(ctx context.Context, item string, sample Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ts := sample.Timestamp.Truncate(time.Second)
	if _, err := pool.Exec(ctx, insertSampleSQL, item, ts, sample.Price.String()); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// ReadAll lists the item's samples in insertion order.
func (s *PostgresStore) ReadAll(ctx context.Context, item string) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSamplesSQL, item)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			ts       time.Time
			priceStr string
		)
		if err := rows.Scan(&ts, &priceStr); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, &CorruptionError{Item: item, Line: len(samples) + 1, Value: priceStr, Err: err}
		}
		samples = append(samples, Sample{Timestamp: ts.In(s.loc), Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	return samples, nil
}

// GetBaseline reads the reference price for item.
func (s *PostgresStore) GetBaseline(ctx context.Context, item string) (decimal.Decimal, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var priceStr string
	if err := pool.QueryRow(ctx, selectBaselineSQL, item).Scan(&priceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("select baseline: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Decimal{}, false, &CorruptionError{Item: item, Value: priceStr, Err: err}
	}
	return price, true, nil
}

// SetBaseline upserts the reference price for item.
func (s *PostgresStore) SetBaseline(ctx context.Context, item string, price decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertBaselineSQL, item, price.String()); err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
