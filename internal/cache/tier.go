// Package cache provides the tiered key/value cache that memoizes event
// queries: an in-process memory tier in front of a persistent SQLite tier.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Tier is one cache backend. Values are opaque bytes and every write is
// atomic per key.
type Tier interface {
	// Name identifies the tier in logs and metrics.
	Name() string

	// Get returns the value for key. Expired entries are reported as a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// ClearPrefix removes every key beginning with prefix and returns how
	// many were removed.
	ClearPrefix(ctx context.Context, prefix string) (int, error)
}

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	Errors    atomic.Int64
}

// TierStats is a point-in-time copy of a tier's metrics.
type TierStats struct {
	Tier      string  `json:"tier"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int64   `json:"entries"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
}

func (m *Metrics) snapshot(name string) TierStats {
	s := TierStats{
		Tier:      name,
		Hits:      m.Hits.Load(),
		Misses:    m.Misses.Load(),
		Evictions: m.Evictions.Load(),
		Entries:   m.Entries.Load(),
		Errors:    m.Errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}
