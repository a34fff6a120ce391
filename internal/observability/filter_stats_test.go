package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFilterStats_RecordPredicate(t *testing.T) {
	fs := NewFilterStats(time.Hour)

	fs.RecordPredicate("status", "=")
	fs.RecordPredicate("status", "=")
	fs.RecordPredicate("start_date", ">=")
	fs.RecordPredicate("status", "!=")

	top := fs.GetTopPredicates(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(top))
	}
	if top[0].Field != "status" || top[0].Frequency != 3 {
		t.Errorf("expected status with 3 uses first, got %s/%d", top[0].Field, top[0].Frequency)
	}
	if top[0].Operators["="] != 2 || top[0].Operators["!="] != 1 {
		t.Errorf("unexpected operators: %v", top[0].Operators)
	}
}

func TestFilterStats_TopNLimitsAndCopies(t *testing.T) {
	fs := NewFilterStats(time.Hour)
	for i := 0; i < 3; i++ {
		fs.RecordFilter("count=6|category=music")
	}
	fs.RecordFilter("count=6|category=art")

	top := fs.GetTopFilters(1)
	if len(top) != 1 || top[0].Field != "count=6|category=music" {
		t.Fatalf("unexpected top filters: %+v", top)
	}
	top[0].Frequency = 999
	if fs.GetTopFilters(1)[0].Frequency != 3 {
		t.Error("GetTopFilters should return copies")
	}
	if len(fs.GetTopFilters(0)) != 0 {
		t.Error("n=0 should return empty slice")
	}
}

func TestFilterStats_Prune(t *testing.T) {
	fs := NewFilterStats(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return now }

	fs.RecordFilter("old")
	now = now.Add(2 * time.Minute)
	fs.RecordFilter("new")
	fs.Prune()

	top := fs.GetTopFilters(10)
	if len(top) != 1 || top[0].Field != "new" {
		t.Errorf("expected only recent entry to survive, got %+v", top)
	}
}

func TestFilterStats_NilSafe(t *testing.T) {
	var fs *FilterStats
	fs.RecordPredicate("x", "=")
	fs.RecordFilter("y")
	fs.Prune()
	if len(fs.GetTopPredicates(5)) != 0 {
		t.Error("nil stats should report nothing")
	}
}

func TestFilterStats_Concurrent(t *testing.T) {
	fs := NewFilterStats(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fs.RecordPredicate("category", "IN")
				_ = fs.GetTopPredicates(3)
			}
		}()
	}
	wg.Wait()

	if got := fs.GetTopPredicates(1)[0].Frequency; got != 800 {
		t.Errorf("expected 800, got %d", got)
	}
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	m.RecordCacheLookup(ctx, "memory", true)
	m.RecordCacheError(ctx, "sqlite", "set")
	m.RecordAnalyticsWrite(ctx, "view", errors.New("boom"))
	m.RecordGeoLookup(ctx, time.Millisecond, false)
}

func TestNewMetricsRecorder_UsesGlobalProvider(t *testing.T) {
	m := NewMetricsRecorder()
	if m == nil {
		t.Fatal("recorder should never be nil")
	}
	m.RecordCacheLookup(context.Background(), "memory", false)
}

func TestLogSwallowed_NilSafe(t *testing.T) {
	LogSwallowed(nil, "ignored", errors.New("x"))
	LogSwallowed(DiscardLogger(), "ignored", nil)
	if Component(nil, "cache") == nil {
		t.Error("Component should never return nil")
	}
}
