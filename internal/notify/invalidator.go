package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/eventdeck/eventdeck/internal/observability"
)

// PrefixClearer is the cache operation the invalidator needs.
type PrefixClearer interface {
	ClearPrefix(ctx context.Context, prefix string) int
}

// Invalidator drops the whole cache namespace on any event or category change.
type Invalidator struct {
	cache     PrefixClearer
	namespace string
	logger    *slog.Logger
	runs      atomic.Int64
}

// NewInvalidator creates an invalidator for namespace.
func NewInvalidator(cache PrefixClearer, namespace string, logger *slog.Logger) *Invalidator {
	return &Invalidator{
		cache:     cache,
		namespace: namespace,
		logger:    observability.Component(logger, "invalidator"),
	}
}

// Attach registers the invalidator as a synchronous hook on n.
func (inv *Invalidator) Attach(n *Notifier) {
	n.OnChange(inv.Handle)
}

// Handle clears the namespace for a notification.
func (inv *Invalidator) Handle(notif Notification) {
	removed := inv.Invalidate(context.Background())
	inv.logger.Debug("cache namespace cleared",
		slog.String("change", notif.Type.String()),
		slog.Int64("id", notif.ID),
		slog.Int("removed", removed))
}

// Invalidate clears the namespace and returns the number of keys removed.
func (inv *Invalidator) Invalidate(ctx context.Context) int {
	inv.runs.Add(1)
	return inv.cache.ClearPrefix(ctx, inv.namespace)
}

// Runs returns how many times the namespace has been cleared.
func (inv *Invalidator) Runs() int64 {
	return inv.runs.Load()
}
