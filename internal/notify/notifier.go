// Package notify provides an in-process change notification bus. Event and
// category writes are published here and the cache invalidator reacts to them.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the kind of content change.
type NotificationType int

const (
	EventCreated NotificationType = iota
	EventUpdated
	EventDeleted
	CategoryChanged
)

func (t NotificationType) String() string {
	switch t {
	case EventCreated:
		return "event_created"
	case EventUpdated:
		return "event_updated"
	case EventDeleted:
		return "event_deleted"
	case CategoryChanged:
		return "category_changed"
	}
	return "unknown"
}

// Notification describes one write to the event store.
type Notification struct {
	Type      NotificationType
	Topic     string // "event" or "category"
	ID        int64
	Timestamp int64
}

// Hook is a synchronous handler run inside Publish.
type Hook func(Notification)

// Notifier is an in-process pub/sub bus. Hooks run synchronously before
// Publish returns; channel subscribers receive best-effort copies.
type Notifier struct {
	subscribers sync.Map // id → *Subscriber
	hooks       atomic.Pointer[[]Hook]
	hooksMu     sync.Mutex
	closeMu     sync.RWMutex
	bufferSize  int
	dropped     atomic.Int64
}

// Subscriber represents a channel subscriber.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Notification
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize items.
func NewNotifier(bufferSize int) *Notifier {
	n := &Notifier{bufferSize: bufferSize}
	n.hooks.Store(&[]Hook{})
	return n
}

// Publish runs every hook, then offers the notification to each matching
// subscriber. A full subscriber channel drops the notification.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().UnixNano()
	}
	for _, h := range *n.hooks.Load() {
		h(notif)
	}

	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if matchesFilter(sub, notif.Topic) {
			select {
			case sub.Ch <- notif:
			default:
				n.dropped.Add(1)
			}
		}
		return true
	})
}

// OnChange registers a synchronous hook.
func (n *Notifier) OnChange(h Hook) {
	n.hooksMu.Lock()
	defer n.hooksMu.Unlock()
	cur := *n.hooks.Load()
	next := make([]Hook, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, h)
	n.hooks.Store(&next)
}

// Subscribe adds a channel subscriber. Filters are topic prefixes; none
// means every notification.
func (n *Notifier) Subscribe(id string, filters []string) *Subscriber {
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Dropped returns how many notifications were dropped on full channels.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func matchesFilter(sub *Subscriber, topic string) bool {
	if len(sub.Filters) == 0 {
		return true
	}
	for _, filter := range sub.Filters {
		if len(filter) == 0 {
			return true
		}
		if len(topic) >= len(filter) && topic[:len(filter)] == filter {
			return true
		}
	}
	return false
}
