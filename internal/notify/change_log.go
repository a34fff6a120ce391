package notify

import (
	"sync"
	"time"
)

// ChangeSnapshot summarizes the writes a ChangeLog has seen.
type ChangeSnapshot struct {
	Counts     map[string]int64 `json:"counts"`
	LastChange *time.Time       `json:"last_change,omitempty"`
	Dropped    int64            `json:"dropped"`
}

// ChangeLog is a channel subscriber that tallies content changes per type
// for the admin stats view. Counting happens off the write path.
type ChangeLog struct {
	notifier *Notifier
	sub      *Subscriber

	mu     sync.Mutex
	counts map[NotificationType]int64
	last   int64

	done chan struct{}
	once sync.Once
}

// NewChangeLog subscribes to topics on n (none means every topic) and starts
// counting. Close stops it.
func NewChangeLog(n *Notifier, topics ...string) *ChangeLog {
	c := &ChangeLog{
		notifier: n,
		sub:      n.Subscribe("", topics),
		counts:   make(map[NotificationType]int64),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *ChangeLog) run() {
	defer close(c.done)
	for notif := range c.sub.Ch {
		c.mu.Lock()
		c.counts[notif.Type]++
		if notif.Timestamp > c.last {
			c.last = notif.Timestamp
		}
		c.mu.Unlock()
	}
}

// Snapshot returns the current tallies.
func (c *ChangeLog) Snapshot() ChangeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := ChangeSnapshot{
		Counts:  make(map[string]int64, len(c.counts)),
		Dropped: c.notifier.Dropped(),
	}
	for typ, n := range c.counts {
		snap.Counts[typ.String()] = n
	}
	if c.last > 0 {
		t := time.Unix(0, c.last).UTC()
		snap.LastChange = &t
	}
	return snap
}

// Close unsubscribes and waits for pending notifications to be counted.
func (c *ChangeLog) Close() error {
	c.once.Do(func() {
		c.notifier.Unsubscribe(c.sub.ID)
		<-c.done
	})
	return nil
}
