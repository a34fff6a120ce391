package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id BIGSERIAL PRIMARY KEY,
	event_id BIGINT NOT NULL DEFAULT 0,
	action TEXT NOT NULL,
	payload BYTEA,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	user_id BIGINT,
	session_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at);
CREATE INDEX IF NOT EXISTS idx_analytics_event_action ON analytics_events(event_id, action, created_at);`

// PostgresStore is the Store for deployments that share analytics across
// several eventdeck processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool for dsn and creates the schema.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("analytics: pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("analytics: failed to initialize schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ready pings the database.
func (s *PostgresStore) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, row *types.AnalyticsEvent) (int64, error) {
	var payload []byte
	if len(row.Payload) > 0 {
		payload = row.Payload
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO analytics_events (event_id, action, payload, ip_address, user_agent, user_id, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		row.EventID, string(row.Action), payload, row.IPAddress, row.UserAgent, row.UserID, row.SessionID,
		row.CreatedAt).Scan(&id)
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "append analytics row", err)
	}
	return id, nil
}

// CountByAction implements Store.
func (s *PostgresStore) CountByAction(ctx context.Context, start, end time.Time, eventID *int64) (map[types.Action]int64, error) {
	sql := "SELECT action, COUNT(*)::bigint FROM analytics_events WHERE created_at >= $1 AND created_at < $2"
	args := []any{start, end}
	if eventID != nil {
		sql += " AND event_id = $3"
		args = append(args, *eventID)
	}
	sql += " GROUP BY action"

	rows, err := s.pool.Query(ctx, sql, args...)
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

// Daily implements Store.
func (s *PostgresStore) Daily(ctx context.Context, start, end time.Time, loc *time.Location) ([]DailyPoint, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.pool.Query(ctx, `
SELECT
  to_char(date_trunc('day', created_at AT TIME ZONE $3), 'YYYY-MM-DD') AS bucket,
  COUNT(*) FILTER (WHERE action = 'view')::bigint,
  COUNT(*) FILTER (WHERE action = 'register')::bigint
FROM analytics_events
WHERE created_at >= $1 AND created_at < $2 AND action IN ('view', 'register')
GROUP BY 1
ORDER BY 1 ASC`, start, end, loc.String())
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "daily series", err)
	}
	defer rows.Close()

	var out []DailyPoint
	for rows.Next() {
		var p DailyPoint
		if err := rows.Scan(&p.Date, &p.Views, &p.Registrations); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan daily bucket", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate daily buckets", err)
	}
	return out, nil
}

// TopEvents implements Store.
func (s *PostgresStore) TopEvents(ctx context.Context, action types.Action, start, end time.Time, n int) ([]EventCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, COUNT(*)::bigint AS c FROM analytics_events
		WHERE created_at >= $1 AND created_at < $2 AND action = $3 AND event_id > 0
		GROUP BY event_id ORDER BY c DESC, event_id ASC LIMIT $4`,
		start, end, string(action), n)
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
func (s *PostgresStore) Recent(ctx context.Context, start, end time.Time, n int) ([]types.AnalyticsEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rowColumns+` FROM analytics_events
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC LIMIT $3`, start, end, n)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "recent rows", err)
	}
	return collectPgRows(rows)
}

// IPCounts implements Store.
func (s *PostgresStore) IPCounts(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip_address, COUNT(*)::bigint FROM analytics_events
		WHERE created_at >= $1 AND created_at < $2 GROUP BY ip_address`, start, end)
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
func (s *PostgresStore) Rows(ctx context.Context, start, end time.Time) ([]types.AnalyticsEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rowColumns+` FROM analytics_events WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`,
		start, end)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "window rows", err)
	}
	return collectPgRows(rows)
}

// PurgeBefore implements Store.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analytics_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "purge analytics rows", err)
	}
	return tag.RowsAffected(), nil
}

// Optimize implements Store.
func (s *PostgresStore) Optimize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `VACUUM ANALYZE analytics_events`); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed, "vacuum analytics", err)
	}
	return nil
}

func collectPgRows(rows pgx.Rows) ([]types.AnalyticsEvent, error) {
	defer rows.Close()

	out := []types.AnalyticsEvent{}
	for rows.Next() {
		var (
			e       types.AnalyticsEvent
			action  string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &action, &payload, &e.IPAddress, &e.UserAgent,
			&e.UserID, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan analytics row", err)
		}
		e.Action = types.Action(action)
		if len(payload) > 0 {
			e.Payload = types.Payload(payload)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate analytics rows", err)
	}
	return out, nil
}
