// Package types provides core data types for eventdeck.
package types

// PostTypeEvent is the content type every displayable record must carry.
const PostTypeEvent = "event"

// EventStatus is the lifecycle state stored on an event.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusOngoing   EventStatus = "ongoing"
	StatusCompleted EventStatus = "completed"
	StatusCancelled EventStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Category is a taxonomy term attached to an event.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Event is a raw event record as supplied by the event store.
// It is treated as read-only for the duration of a request.
type Event struct {
	ID         int64  `json:"id"`
	PostType   string `json:"post_type"`
	PostStatus string `json:"post_status,omitempty"`
	Slug       string `json:"slug"`

	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt"`

	// ThumbnailURL is the resolved URL of the featured image, empty when none.
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	// Dates are YYYY-MM-DD, times are HH:MM (24h). Empty means unset.
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`

	Location  string      `json:"location,omitempty"`
	Capacity  int         `json:"capacity,omitempty"`
	Price     string      `json:"price,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Status    EventStatus `json:"status,omitempty"`
	Featured  bool        `json:"featured"`
	TicketURL string      `json:"ticket_url,omitempty"`

	Categories []Category `json:"categories,omitempty"`
}
