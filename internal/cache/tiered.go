package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/eventdeck/eventdeck/internal/observability"
)

// Tiered composes a fast tier and an optional persistent tier behind one
// get/set/delete/clearPrefix contract. Tier failures never surface: a failed
// read is a miss and a failed write is logged and dropped.
type Tiered struct {
	fast       Tier
	persistent Tier
	ttl        time.Duration
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
}

// TieredOption configures a Tiered cache.
type TieredOption func(*Tiered)

// WithLogger sets the logger used for swallowed tier failures.
func WithLogger(l *slog.Logger) TieredOption {
	return func(t *Tiered) { t.logger = observability.Component(l, "cache") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) TieredOption {
	return func(t *Tiered) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTiered builds a tiered cache. persistent may be nil. ttl is the default
// used by SetDefault.
func NewTiered(fast, persistent Tier, ttl time.Duration, opts ...TieredOption) *Tiered {
	t := &Tiered{
		fast:       fast,
		persistent: persistent,
		ttl:        ttl,
		logger:     observability.DiscardLogger(),
		metrics:    observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the default time-to-live.
func (t *Tiered) TTL() time.Duration { return t.ttl }

// Get checks the fast tier, then the persistent tier. A persistent hit is
// not copied back into the fast tier.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	for _, tier := range t.tiers() {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			t.metrics.RecordCacheError(ctx, tier.Name(), "get")
			observability.LogSwallowed(t.logger, "cache get failed", err,
				slog.String("tier", tier.Name()), slog.String("key", key))
			continue
		}
		t.metrics.RecordCacheLookup(ctx, tier.Name(), ok)
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes through to every tier.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	for _, tier := range t.tiers() {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			t.metrics.RecordCacheError(ctx, tier.Name(), "set")
			observability.LogSwallowed(t.logger, "cache set failed", err,
				slog.String("tier", tier.Name()), slog.String("key", key))
		}
	}
}

// SetDefault is Set with the default TTL.
func (t *Tiered) SetDefault(ctx context.Context, key string, value []byte) {
	t.Set(ctx, key, value, t.ttl)
}

// Delete removes key from every tier.
func (t *Tiered) Delete(ctx context.Context, key string) {
	for _, tier := range t.tiers() {
		if err := tier.Delete(ctx, key); err != nil {
			t.metrics.RecordCacheError(ctx, tier.Name(), "delete")
			observability.LogSwallowed(t.logger, "cache delete failed", err,
				slog.String("tier", tier.Name()), slog.String("key", key))
		}
	}
}

// ClearPrefix removes every key starting with prefix from every tier and
// returns the total number of keys removed.
func (t *Tiered) ClearPrefix(ctx context.Context, prefix string) int {
	total := 0
	for _, tier := range t.tiers() {
		n, err := tier.ClearPrefix(ctx, prefix)
		if err != nil {
			t.metrics.RecordCacheError(ctx, tier.Name(), "clear_prefix")
			observability.LogSwallowed(t.logger, "cache clear failed", err,
				slog.String("tier", tier.Name()), slog.String("prefix", prefix))
			continue
		}
		total += n
	}
	return total
}

// Stats reports per-tier statistics for tiers that expose them.
func (t *Tiered) Stats() []TierStats {
	var out []TierStats
	for _, tier := range t.tiers() {
		if s, ok := tier.(interface{ Stats() TierStats }); ok {
			out = append(out, s.Stats())
		}
	}
	return out
}

func (t *Tiered) tiers() []Tier {
	if t.persistent == nil {
		return []Tier{t.fast}
	}
	return []Tier{t.fast, t.persistent}
}
