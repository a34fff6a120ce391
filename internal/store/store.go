// Package store provides the event store: query-by-predicate and get-by-id
// over raw event records, plus the write operations that publish change
// notifications.
package store

import (
	"context"

	"github.com/eventdeck/eventdeck/internal/notify"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// Meta keys persisted for every event.
const (
	MetaStartDate = "start_date"
	MetaEndDate   = "end_date"
	MetaStartTime = "start_time"
	MetaEndTime   = "end_time"
	MetaLocation  = "location"
	MetaCapacity  = "capacity"
	MetaPrice     = "price"
	MetaCurrency  = "currency"
	MetaStatus    = "status"
	MetaFeatured  = "featured"
	MetaTicketURL = "ticket_url"
)

// EventStore is the read side used by data access.
type EventStore interface {
	// Find returns the events matching q in q's sort order, categories attached.
	Find(ctx context.Context, q types.Query) ([]types.Event, error)

	// Get returns one record with its meta fields but without categories.
	// The record may be of any post type.
	Get(ctx context.Context, id int64) (*types.Event, error)

	// Categories returns the categories attached to an event.
	Categories(ctx context.Context, eventID int64) ([]types.Category, error)
}

// Writer is the write side. Every successful write publishes a notification.
type Writer interface {
	Upsert(ctx context.Context, e *types.Event) (int64, error)
	Delete(ctx context.Context, id int64) error
	UpsertCategory(ctx context.Context, c *types.Category) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// Publisher receives change notifications.
type Publisher interface {
	Publish(notify.Notification)
}
