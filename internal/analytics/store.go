// Package analytics records discrete user actions against events and computes
// dashboards, funnels, geographic breakdowns, exports and retention purges.
package analytics

import (
	"context"
	"time"

	"github.com/eventdeck/eventdeck/pkg/types"
)

// Store is the append-only analytics row store. Windows are half-open:
// start <= created_at < end.
type Store interface {
	// Append inserts one row and returns its id.
	Append(ctx context.Context, row *types.AnalyticsEvent) (int64, error)

	// CountByAction counts rows per action in the window. A non-nil eventID
	// restricts the count to that event.
	CountByAction(ctx context.Context, start, end time.Time, eventID *int64) (map[types.Action]int64, error)

	// Daily returns per-day counts of views and registrations, bucketed by
	// calendar day in loc. Days without rows are omitted.
	Daily(ctx context.Context, start, end time.Time, loc *time.Location) ([]DailyPoint, error)

	// TopEvents returns the n events with the most rows of action, excluding
	// archive rows (event id 0).
	TopEvents(ctx context.Context, action types.Action, start, end time.Time, n int) ([]EventCount, error)

	// Recent returns the n newest rows in the window, newest first.
	Recent(ctx context.Context, start, end time.Time, n int) ([]types.AnalyticsEvent, error)

	// IPCounts returns the number of rows per client IP in the window.
	IPCounts(ctx context.Context, start, end time.Time) (map[string]int64, error)

	// Rows returns every row in the window, oldest first.
	Rows(ctx context.Context, start, end time.Time) ([]types.AnalyticsEvent, error)

	// PurgeBefore deletes rows strictly older than cutoff and returns how many.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Optimize reclaims space and refreshes planner statistics.
	Optimize(ctx context.Context) error

	Close() error
}

// DailyPoint is one day of the dashboard time series.
type DailyPoint struct {
	Date          string `json:"date"`
	Views         int64  `json:"views"`
	Registrations int64  `json:"registrations"`
}

// EventCount pairs an event with a row count.
type EventCount struct {
	EventID int64  `json:"event_id"`
	Title   string `json:"title"`
	Count   int64  `json:"count"`
}

// TitleLookup resolves event titles for joins. Missing ids are omitted.
type TitleLookup interface {
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
}
