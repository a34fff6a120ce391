package types

import (
	"encoding/json"
	"time"
)

// Action is a discrete user action recorded by analytics.
type Action string

const (
	ActionView             Action = "view"
	ActionRegister         Action = "register"
	ActionShare            Action = "share"
	ActionCalendarDownload Action = "calendar_download"
)

// Valid reports whether a is a recordable action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionRegister, ActionShare, ActionCalendarDownload:
		return true
	}
	return false
}

// Payload is the opaque per-row blob supplied by the caller. It is stored
// exactly as given; nothing in the system interprets it.
type Payload []byte

// MarshalJSON embeds valid JSON verbatim and falls back to a JSON string for
// anything else, so a malformed payload never breaks an export.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(p) {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON keeps the raw bytes.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// String returns the payload as text.
func (p Payload) String() string {
	return string(p)
}

// AnalyticsEvent is one append-only analytics row. EventID 0 means an
// archive (listing) view rather than a single event.
type AnalyticsEvent struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Action    Action    `json:"action"`
	Payload   Payload   `json:"payload"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	UserID    *int64    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	// EventTitle is populated by joins for feeds and exports; it is not stored.
	EventTitle string `json:"event_title,omitempty"`
}

// Period names a reporting window ending now.
type Period string

const (
	Period7Days  Period = "7_days"
	Period30Days Period = "30_days"
	Period90Days Period = "90_days"
	Period1Year  Period = "1_year"
)

// ParsePeriod maps a string to a Period, falling back to 30 days.
func ParsePeriod(s string) Period {
	switch Period(s) {
	case Period7Days, Period30Days, Period90Days, Period1Year:
		return Period(s)
	}
	return Period30Days
}

// Days returns the length of the period in days.
func (p Period) Days() int {
	switch p {
	case Period7Days:
		return 7
	case Period90Days:
		return 90
	case Period1Year:
		return 365
	}
	return 30
}

// Window resolves the period to a concrete [start, end] range ending at now.
func (p Period) Window(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -ParsePeriod(string(p)).Days()), now
}
