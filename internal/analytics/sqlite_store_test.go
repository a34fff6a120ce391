package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventdeck/eventdeck/pkg/types"
)

var baseTime = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendRow(t *testing.T, s Store, eventID int64, action types.Action, ip string, at time.Time) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), &types.AnalyticsEvent{
		EventID:   eventID,
		Action:    action,
		IPAddress: ip,
		CreatedAt: at,
	})
	require.NoError(t, err)
	return id
}

func TestSQLiteStore_AppendPreservesRow(t *testing.T) {
	s := openTestStore(t)
	uid := int64(7)
	payload := types.Payload(`{"source":"newsletter","nested":{"x":[1,2]}}`)

	_, err := s.Append(context.Background(), &types.AnalyticsEvent{
		EventID:   3,
		Action:    types.ActionShare,
		Payload:   payload,
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8",
		UserID:    &uid,
		SessionID: "sess-1",
		CreatedAt: baseTime,
	})
	require.NoError(t, err)

	rows, err := s.Rows(context.Background(), baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, int64(3), got.EventID)
	assert.Equal(t, types.ActionShare, got.Action)
	assert.Equal(t, payload.String(), got.Payload.String())
	assert.Equal(t, "203.0.113.9", got.IPAddress)
	assert.Equal(t, "curl/8", got.UserAgent)
	require.NotNil(t, got.UserID)
	assert.Equal(t, uid, *got.UserID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.True(t, got.CreatedAt.Equal(baseTime))
}

func TestSQLiteStore_WindowIsHalfOpen(t *testing.T) {
	s := openTestStore(t)
	appendRow(t, s, 1, types.ActionView, "", baseTime)
	appendRow(t, s, 1, types.ActionView, "", baseTime.Add(time.Hour))

	counts, err := s.CountByAction(context.Background(), baseTime, baseTime.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[types.ActionView])
}

func TestSQLiteStore_CountByActionForEvent(t *testing.T) {
	s := openTestStore(t)
	appendRow(t, s, 1, types.ActionView, "", baseTime)
	appendRow(t, s, 1, types.ActionRegister, "", baseTime)
	appendRow(t, s, 2, types.ActionView, "", baseTime)

	all, err := s.CountByAction(context.Background(), baseTime, baseTime.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[types.ActionView])

	one := int64(1)
	scoped, err := s.CountByAction(context.Background(), baseTime, baseTime.Add(time.Minute), &one)
	require.NoError(t, err)
	assert.Equal(t, map[types.Action]int64{types.ActionView: 1, types.ActionRegister: 1}, scoped)
}

func TestSQLiteStore_DailyBucketsInLocation(t *testing.T) {
	s := openTestStore(t)
	loc := time.FixedZone("UTC-5", -5*3600)

	// 02:00 UTC on the 16th is still the 15th at UTC-5.
	appendRow(t, s, 1, types.ActionView, "", time.Date(2024, 5, 16, 2, 0, 0, 0, time.UTC))
	appendRow(t, s, 1, types.ActionRegister, "", time.Date(2024, 5, 15, 14, 0, 0, 0, time.UTC))
	appendRow(t, s, 1, types.ActionView, "", time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC))
	appendRow(t, s, 1, types.ActionShare, "", time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC))

	points, err := s.Daily(context.Background(), baseTime.AddDate(0, 0, -1), baseTime.AddDate(0, 0, 2), loc)
	require.NoError(t, err)
	assert.Equal(t, []DailyPoint{
		{Date: "2024-05-15", Views: 1, Registrations: 1},
		{Date: "2024-05-16", Views: 1},
	}, points)
}

func TestSQLiteStore_TopEventsExcludesArchiveViews(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		appendRow(t, s, 0, types.ActionView, "", baseTime)
	}
	for i := 0; i < 3; i++ {
		appendRow(t, s, 2, types.ActionView, "", baseTime)
	}
	appendRow(t, s, 1, types.ActionView, "", baseTime)
	appendRow(t, s, 1, types.ActionRegister, "", baseTime)
	appendRow(t, s, 1, types.ActionRegister, "", baseTime)

	top, err := s.TopEvents(context.Background(), types.ActionView, baseTime, baseTime.Add(time.Minute), 5)
	require.NoError(t, err)
	assert.Equal(t, []EventCount{{EventID: 2, Count: 3}, {EventID: 1, Count: 1}}, top)
}

func TestSQLiteStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		appendRow(t, s, int64(i+1), types.ActionView, "", baseTime.Add(time.Duration(i)*time.Minute))
	}
	recent, err := s.Recent(context.Background(), baseTime, baseTime.Add(time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].EventID)
	assert.Equal(t, int64(3), recent[2].EventID)

	// end is exclusive
	recent, err = s.Recent(context.Background(), baseTime, baseTime.Add(4*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, int64(4), recent[0].EventID)
}

func TestSQLiteStore_IPCounts(t *testing.T) {
	s := openTestStore(t)
	appendRow(t, s, 1, types.ActionView, "198.51.100.1", baseTime)
	appendRow(t, s, 1, types.ActionView, "198.51.100.1", baseTime)
	appendRow(t, s, 1, types.ActionView, "198.51.100.2", baseTime)

	counts, err := s.IPCounts(context.Background(), baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"198.51.100.1": 2, "198.51.100.2": 1}, counts)
}

func TestSQLiteStore_PurgeIsStrict(t *testing.T) {
	s := openTestStore(t)
	appendRow(t, s, 1, types.ActionView, "", baseTime.Add(-time.Second))
	appendRow(t, s, 1, types.ActionView, "", baseTime)

	n, err := s.PurgeBefore(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.Rows(context.Background(), baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].CreatedAt.Equal(baseTime))

	require.NoError(t, s.Optimize(context.Background()))
}

func TestSQLiteStore_EmptyResultsAreNonNil(t *testing.T) {
	s := openTestStore(t)
	rows, err := s.Rows(context.Background(), baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}
