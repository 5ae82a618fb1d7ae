package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS price_samples (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    item       TEXT NOT NULL,
    sampled_at TEXT NOT NULL,
    price      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS price_samples_item_id_idx ON price_samples (item, id);
CREATE TABLE IF NOT EXISTS price_baselines (
    item       TEXT PRIMARY KEY,
    price      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// SQLiteStore keeps series and baselines in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location
}

// OpenSQLite opens (creating when needed) the database at path.
// The special path ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, loc *time.Location) (*SQLiteStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range sqlitePragmas {
		if memory && pragma == sqlitePragmas[0] {
			continue
		}
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, loc: locationOrLocal(loc)}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts one sample row.
func (s *SQLiteStore) Append(ctx context.Context, item string, sample Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_samples (item, sampled_at, price) VALUES (?, ?, ?)`,
		item, formatTimestamp(sample.Timestamp, s.loc), sample.Price.String())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// ReadAll lists the item's samples in insertion order.
func (s *SQLiteStore) ReadAll(ctx context.Context, item string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sampled_at, price FROM price_samples WHERE item = ? ORDER BY id`, item)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var rawTS, rawPrice string
		if err := rows.Scan(&rawTS, &rawPrice); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample, err := parseSample(item, len(samples)+1, rawTS, rawPrice, s.loc)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
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
func (s *SQLiteStore) GetBaseline(ctx context.Context, item string) (decimal.Decimal, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT price FROM price_baselines WHERE item = ?`, item).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("select baseline: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, &CorruptionError{Item: item, Value: raw, Err: err}
	}
	return price, true, nil
}

// SetBaseline upserts the reference price for item.
func (s *SQLiteStore) SetBaseline(ctx context.Context, item string, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_baselines (item, price, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(item) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		item, price.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
