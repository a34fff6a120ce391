package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/eventdeck/eventdeck/internal/sqliteutil"
)

// SQLiteTier is the persistent tier. Values are snappy-compressed and each
// key is written with a single INSERT OR REPLACE.
type SQLiteTier struct {
	db      *sqliteutil.DB
	now     func() time.Time
	metrics Metrics
}

// OpenSQLiteTier opens (creating if needed) a cache database at path.
func OpenSQLiteTier(path string) (*SQLiteTier, error) {
	db, err := sqliteutil.Open(path, 4)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	t := &SQLiteTier{db: db, now: time.Now}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: failed to initialize schema: %w", err)
	}
	return t, nil
}

func (t *SQLiteTier) initSchema() error {
	_, err := t.db.Write.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);`)
	return err
}

// Name implements Tier.
func (t *SQLiteTier) Name() string { return "sqlite" }

// Close closes the underlying database.
func (t *SQLiteTier) Close() error {
	return t.db.Close()
}

// Get implements Tier.
func (t *SQLiteTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		blob      []byte
		expiresAt int64
	)
	err := t.db.Read.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&blob, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		t.metrics.Misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		t.metrics.Errors.Add(1)
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if t.now().UnixNano() >= expiresAt {
		t.metrics.Misses.Add(1)
		return nil, false, nil
	}

	value, err := snappy.Decode(nil, blob)
	if err != nil {
		t.metrics.Errors.Add(1)
		return nil, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	t.metrics.Hits.Add(1)
	return value, true, nil
}

// Set implements Tier.
func (t *SQLiteTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := t.db.Write.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, snappy.Encode(nil, value), t.now().Add(ttl).UnixNano())
	if err != nil {
		t.metrics.Errors.Add(1)
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Delete implements Tier.
func (t *SQLiteTier) Delete(ctx context.Context, key string) error {
	if _, err := t.db.Write.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		t.metrics.Errors.Add(1)
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// ClearPrefix implements Tier.
func (t *SQLiteTier) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := t.db.Write.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		t.metrics.Errors.Add(1)
		return 0, fmt.Errorf("cache: clear prefix %s: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Sweep deletes expired rows and returns how many were removed.
func (t *SQLiteTier) Sweep(ctx context.Context) (int, error) {
	res, err := t.db.Write.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, t.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	t.metrics.Evictions.Add(n)
	return int(n), nil
}

// Optimize compacts the cache database.
func (t *SQLiteTier) Optimize(ctx context.Context) error {
	return t.db.Optimize(ctx)
}

// Stats returns a snapshot of the tier's metrics. Entries is read from the table.
func (t *SQLiteTier) Stats() TierStats {
	s := t.metrics.snapshot(t.Name())
	var n int64
	if err := t.db.Read.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err == nil {
		s.Entries = n
	}
	return s
}
