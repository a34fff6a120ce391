package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryOptions configures a MemoryTier.
type MemoryOptions struct {
	// MaxEntries caps the number of live keys. Zero means unbounded.
	MaxEntries int
	// SweepInterval is how often the janitor drops expired keys. Zero disables it.
	SweepInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryTier is the fast in-process tier.
type MemoryTier struct {
	opts      MemoryOptions
	now       func() time.Time
	metrics   Metrics
	index     sync.Map // key → *memEntry
	evictChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// memEntry is immutable once stored; a Set replaces the pointer.
type memEntry struct {
	value     []byte
	expiresAt int64 // Unix nanos
}

// NewMemoryTier creates a memory tier and starts its janitor.
func NewMemoryTier(opts MemoryOptions) *MemoryTier {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &MemoryTier{
		opts:      opts,
		now:       now,
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.janitor()
	return m
}

// Name implements Tier.
func (m *MemoryTier) Name() string { return "memory" }

// Close stops the janitor.
func (m *MemoryTier) Close() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// Get implements Tier.
func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.index.Load(key)
	if !ok {
		m.metrics.Misses.Add(1)
		return nil, false, nil
	}
	e := v.(*memEntry)
	if m.now().UnixNano() >= e.expiresAt {
		if m.index.CompareAndDelete(key, e) {
			m.metrics.Entries.Add(-1)
		}
		m.metrics.Misses.Add(1)
		return nil, false, nil
	}
	m.metrics.Hits.Add(1)
	return e.value, true, nil
}

// Set implements Tier. The value is copied so callers may reuse their buffer.
func (m *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl).UnixNano(),
	}
	if _, loaded := m.index.Swap(key, e); !loaded {
		m.metrics.Entries.Add(1)
	}

	if m.opts.MaxEntries > 0 && m.metrics.Entries.Load() > int64(m.opts.MaxEntries) {
		select {
		case m.evictChan <- struct{}{}:
		default:
			// An eviction pass is already queued.
		}
	}
	return nil
}

// Delete implements Tier.
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	if _, ok := m.index.LoadAndDelete(key); ok {
		m.metrics.Entries.Add(-1)
	}
	return nil
}

// ClearPrefix implements Tier.
func (m *MemoryTier) ClearPrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	m.index.Range(func(k, _ interface{}) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) {
			if _, ok := m.index.LoadAndDelete(key); ok {
				m.metrics.Entries.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (m *MemoryTier) Len() int64 {
	return m.metrics.Entries.Load()
}

// Stats returns a snapshot of the tier's metrics.
func (m *MemoryTier) Stats() TierStats {
	return m.metrics.snapshot(m.Name())
}

func (m *MemoryTier) janitor() {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.opts.SweepInterval > 0 {
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.stopChan:
			return
		case <-m.evictChan:
			m.sweepExpired()
			m.evictOverflow()
		case <-tick:
			m.sweepExpired()
		}
	}
}

// sweepExpired removes every entry whose TTL has elapsed.
func (m *MemoryTier) sweepExpired() int {
	now := m.now().UnixNano()
	removed := 0
	m.index.Range(func(k, v interface{}) bool {
		if now >= v.(*memEntry).expiresAt {
			if m.index.CompareAndDelete(k, v) {
				m.metrics.Entries.Add(-1)
				m.metrics.Evictions.Add(1)
				removed++
			}
		}
		return true
	})
	return removed
}

// evictOverflow drops the entries closest to expiry until the tier is back
// to 90% of MaxEntries.
func (m *MemoryTier) evictOverflow() {
	if m.opts.MaxEntries <= 0 {
		return
	}
	target := int64(float64(m.opts.MaxEntries) * 0.9)
	if m.metrics.Entries.Load() <= target {
		return
	}

	type candidate struct {
		key       string
		entry     *memEntry
		expiresAt int64
	}
	var candidates []candidate
	m.index.Range(func(k, v interface{}) bool {
		e := v.(*memEntry)
		candidates = append(candidates, candidate{key: k.(string), entry: e, expiresAt: e.expiresAt})
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt < candidates[j].expiresAt
	})

	for _, c := range candidates {
		if m.metrics.Entries.Load() <= target {
			break
		}
		if m.index.CompareAndDelete(c.key, c.entry) {
			m.metrics.Entries.Add(-1)
			m.metrics.Evictions.Add(1)
		}
	}
}
