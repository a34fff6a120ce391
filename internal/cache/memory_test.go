package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryTier_SetGet(t *testing.T) {
	m := NewMemoryTier(MemoryOptions{})
	defer m.Close()
	ctx := context.Background()

	buf := []byte("payload")
	if err := m.Set(ctx, "ns:a", buf, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	buf[0] = 'X'

	v, ok, err := m.Get(ctx, "ns:a")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(v) != "payload" {
		t.Errorf("stored value should be a copy, got %q", v)
	}

	if _, ok, _ := m.Get(ctx, "ns:missing"); ok {
		t.Error("expected miss for unknown key")
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMemoryTier_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryTier(MemoryOptions{Now: clock.Now})
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Hour)
	clock.Advance(59 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("entry should be live before ttl")
	}

	clock.Advance(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("entry must not be returned once ttl elapsed")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry should be removed on read, len=%d", m.Len())
	}
}

func TestMemoryTier_ClearPrefix(t *testing.T) {
	m := NewMemoryTier(MemoryOptions{})
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "events:q:1", []byte("a"), time.Hour)
	m.Set(ctx, "events:e:7", []byte("b"), time.Hour)
	m.Set(ctx, "other:q:1", []byte("c"), time.Hour)

	n, err := m.ClearPrefix(ctx, "events")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok, _ := m.Get(ctx, "other:q:1"); !ok {
		t.Error("keys outside the prefix must survive")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", m.Len())
	}
}

func TestMemoryTier_SweepAndOverflow(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryTier(MemoryOptions{MaxEntries: 10, Now: clock.Now})
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Set(ctx, fmt.Sprintf("short:%d", i), []byte("x"), time.Minute)
	}
	clock.Advance(2 * time.Minute)
	if removed := m.sweepExpired(); removed != 5 {
		t.Errorf("expected 5 expired entries swept, got %d", removed)
	}

	for i := 0; i < 20; i++ {
		m.Set(ctx, fmt.Sprintf("long:%02d", i), []byte("x"), time.Duration(i+1)*time.Hour)
	}
	m.evictOverflow()
	if m.Len() > 9 {
		t.Errorf("expected at most 9 entries after overflow eviction, got %d", m.Len())
	}
	// Entries furthest from expiry are kept.
	if _, ok, _ := m.Get(ctx, "long:19"); !ok {
		t.Error("longest-lived entry should survive eviction")
	}
}

func TestMemoryTier_ConcurrentAccess(t *testing.T) {
	m := NewMemoryTier(MemoryOptions{SweepInterval: time.Millisecond})
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("ns:%d", i%16)
				want := fmt.Sprintf("value-%d", i%16)
				m.Set(ctx, key, []byte(want), time.Minute)
				if v, ok, _ := m.Get(ctx, key); ok && string(v) != want {
					t.Errorf("torn read: got %q want %q", v, want)
					return
				}
				if i%50 == 0 {
					m.ClearPrefix(ctx, "ns:")
				}
			}
		}(g)
	}
	wg.Wait()
}
