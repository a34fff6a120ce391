// Package sqliteutil opens SQLite databases with a single writer connection
// and a pool of concurrent readers.
package sqliteutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB pairs the single-writer connection with a read pool over the same file.
type DB struct {
	Write *sql.DB
	Read  *sql.DB
	Path  string
}

// Open opens path in WAL mode with a busy timeout. Writes must go through
// Write, which is limited to one connection.
func Open(path string, readers int) (*DB, error) {
	if readers <= 0 {
		readers = 4
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	w, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqliteutil: open %s: %w", path, err)
	}
	w.SetMaxOpenConns(1)
	w.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.PingContext(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("sqliteutil: ping %s: %w", path, err)
	}

	r, err := sql.Open("sqlite3", dsn)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("sqliteutil: open read pool %s: %w", path, err)
	}
	r.SetMaxOpenConns(readers)
	r.SetMaxIdleConns(readers)
	r.SetConnMaxLifetime(5 * time.Minute)

	return &DB{Write: w, Read: r, Path: path}, nil
}

// Close closes both connections.
func (d *DB) Close() error {
	rerr := d.Read.Close()
	if err := d.Write.Close(); err != nil {
		return err
	}
	return rerr
}

// Optimize runs PRAGMA optimize followed by VACUUM on the writer.
func (d *DB) Optimize(ctx context.Context) error {
	if _, err := d.Write.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("sqliteutil: optimize: %w", err)
	}
	if _, err := d.Write.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("sqliteutil: vacuum: %w", err)
	}
	return nil
}
