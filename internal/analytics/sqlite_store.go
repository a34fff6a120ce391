package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/sqliteutil"
	"github.com/eventdeck/eventdeck/pkg/types"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		payload BLOB,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		user_id INTEGER,
		session_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_event_action ON analytics_events(event_id, action, created_at)`,
}

const rowColumns = `id, event_id, action, payload, ip_address, user_agent, user_id, session_id, created_at`

// SQLiteStore is the default analytics Store. Timestamps are stored as Unix
// nanoseconds.
type SQLiteStore struct {
	db *sqliteutil.DB
	mu sync.Mutex
}

// OpenSQLiteStore opens or creates analytics.db at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqliteutil.Open(path, 4)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Write.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("analytics: failed to initialize schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, row *types.AnalyticsEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload interface{}
	if len(row.Payload) > 0 {
		payload = []byte(row.Payload)
	}
	var userID interface{}
	if row.UserID != nil {
		userID = *row.UserID
	}
	res, err := s.db.Write.ExecContext(ctx, `
		INSERT INTO analytics_events (event_id, action, payload, ip_address, user_agent, user_id, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, string(row.Action), payload, row.IPAddress, row.UserAgent, userID, row.SessionID,
		row.CreatedAt.UnixNano())
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "append analytics row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "analytics row id", err)
	}
	return id, nil
}

// CountByAction implements Store.
func (s *SQLiteStore) CountByAction(ctx context.Context, start, end time.Time, eventID *int64) (map[types.Action]int64, error) {
	query := `SELECT action, COUNT(*) FROM analytics_events WHERE created_at >= ? AND created_at < ?`
	args := []interface{}{start.UnixNano(), end.UnixNano()}
	if eventID != nil {
		query += ` AND event_id = ?`
		args = append(args, *eventID)
	}
	query += ` GROUP BY action`

	rows, err := s.db.Read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "count by action", err)
	}
	defer rows.Close()

	out := make(map[types.Action]int64)
	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan action count", err)
		}
		out[types.Action(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate action counts", err)
	}
	return out, nil
}

// Daily implements Store. SQLite has no zone database, so rows are bucketed
// in Go as they stream.
func (s *SQLiteStore) Daily(ctx context.Context, start, end time.Time, loc *time.Location) ([]DailyPoint, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT created_at, action FROM analytics_events
		WHERE created_at >= ? AND created_at < ? AND action IN (?, ?)
		ORDER BY created_at`,
		start.UnixNano(), end.UnixNano(), string(types.ActionView), string(types.ActionRegister))
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "daily series", err)
	}
	defer rows.Close()

	var out []DailyPoint
	for rows.Next() {
		var (
			ts     int64
			action string
		)
		if err := rows.Scan(&ts, &action); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan daily row", err)
		}
		day := time.Unix(0, ts).In(loc).Format("2006-01-02")
		if len(out) == 0 || out[len(out)-1].Date != day {
			out = append(out, DailyPoint{Date: day})
		}
		p := &out[len(out)-1]
		if types.Action(action) == types.ActionView {
			p.Views++
		} else {
			p.Registrations++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate daily rows", err)
	}
	return out, nil
}

// TopEvents implements Store.
func (s *SQLiteStore) TopEvents(ctx context.Context, action types.Action, start, end time.Time, n int) ([]EventCount, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT event_id, COUNT(*) AS c FROM analytics_events
		WHERE created_at >= ? AND created_at < ? AND action = ? AND event_id > 0
		GROUP BY event_id ORDER BY c DESC, event_id ASC LIMIT ?`,
		start.UnixNano(), end.UnixNano(), string(action), n)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "top events", err)
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.EventID, &ec.Count); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan top event", err)
		}
		out = append(out, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate top events", err)
	}
	return out, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, start, end time.Time, n int) ([]types.AnalyticsEvent, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM analytics_events
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		start.UnixNano(), end.UnixNano(), n)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "recent rows", err)
	}
	return scanRows(rows)
}

// IPCounts implements Store.
func (s *SQLiteStore) IPCounts(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT ip_address, COUNT(*) FROM analytics_events
		WHERE created_at >= ? AND created_at < ? GROUP BY ip_address`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "ip counts", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			ip string
			n  int64
		)
		if err := rows.Scan(&ip, &n); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan ip count", err)
		}
		out[ip] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate ip counts", err)
	}
	return out, nil
}

// Rows implements Store.
func (s *SQLiteStore) Rows(ctx context.Context, start, end time.Time) ([]types.AnalyticsEvent, error) {
	rows, err := s.db.Read.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM analytics_events WHERE created_at >= ? AND created_at < ? ORDER BY created_at, id`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "window rows", err)
	}
	return scanRows(rows)
}

// PurgeBefore implements Store.
func (s *SQLiteStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Write.ExecContext(ctx, `DELETE FROM analytics_events WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "purge analytics rows", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Optimize implements Store.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Optimize(ctx)
}

func scanRows(rows *sql.Rows) ([]types.AnalyticsEvent, error) {
	defer rows.Close()

	out := []types.AnalyticsEvent{}
	for rows.Next() {
		var (
			e       types.AnalyticsEvent
			action  string
			payload []byte
			userID  sql.NullInt64
			created int64
		)
		if err := rows.Scan(&e.ID, &e.EventID, &action, &payload, &e.IPAddress, &e.UserAgent,
			&userID, &e.SessionID, &created); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan analytics row", err)
		}
		e.Action = types.Action(action)
		if len(payload) > 0 {
			e.Payload = types.Payload(payload)
		}
		if userID.Valid {
			uid := userID.Int64
			e.UserID = &uid
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate analytics rows", err)
	}
	return out, nil
}
