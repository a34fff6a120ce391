// Package processing derives display fields from raw events. It performs no I/O.
package processing

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/eventdeck/eventdeck/pkg/types"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// Ellipsis is appended to truncated excerpts.
	Ellipsis = "…"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Config controls formatting.
type Config struct {
	DateFormat   string
	TimeFormat   string
	ExcerptWords int
	BaseURL      string
	Location     *time.Location
	Now          func() time.Time
}

// DefaultConfig returns the formatting used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DateFormat:   "January 2, 2006",
		TimeFormat:   "3:04 pm",
		ExcerptWords: 20,
		BaseURL:      "/events",
		Location:     time.UTC,
		Now:          time.Now,
	}
}

// Processor turns events into ProcessedEvents.
type Processor struct {
	cfg Config
}

// NewProcessor creates a processor. Zero fields in cfg take their defaults.
func NewProcessor(cfg Config) *Processor {
	def := DefaultConfig()
	if cfg.DateFormat == "" {
		cfg.DateFormat = def.DateFormat
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	if cfg.ExcerptWords <= 0 {
		cfg.ExcerptWords = def.ExcerptWords
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Processor{cfg: cfg}
}

// Process derives display fields for every event. Events without a valid id
// are dropped. Display params do not change derivation; they are accepted so
// callers can pass one value through the pipeline.
func (p *Processor) Process(events []types.Event, _ types.DisplayParams) []types.ProcessedEvent {
	midnight := p.todayMidnight()
	out := make([]types.ProcessedEvent, 0, len(events))
	for _, e := range events {
		if e.ID <= 0 {
			continue
		}
		out = append(out, p.processOne(e, midnight))
	}
	return out
}

// ProcessOne derives display fields for a single event.
func (p *Processor) ProcessOne(e types.Event) (types.ProcessedEvent, bool) {
	if e.ID <= 0 {
		return types.ProcessedEvent{}, false
	}
	return p.processOne(e, p.todayMidnight()), true
}

func (p *Processor) processOne(e types.Event, midnight time.Time) types.ProcessedEvent {
	return types.ProcessedEvent{
		Event:         e,
		FormattedDate: p.FormatDateRange(e.StartDate, e.EndDate),
		FormattedTime: p.FormatTimeRange(e.StartTime, e.EndTime),
		StatusClass:   StatusClass(e.Status),
		IsFeatured:    e.Featured,
		IsPast:        p.isPast(e.StartDate, midnight),
		Permalink:     p.permalink(e),
		ShortExcerpt:  TruncateWords(excerptSource(e), p.cfg.ExcerptWords),
	}
}

// FormatDateRange renders a single date, or "start - end" when the end date
// is set and differs from the start. Unparseable dates are left as given.
func (p *Processor) FormatDateRange(start, end string) string {
	return formatRange(start, end, dateLayout, p.cfg.DateFormat, p.cfg.Location)
}

// FormatTimeRange is FormatDateRange at time-of-day granularity.
func (p *Processor) FormatTimeRange(start, end string) string {
	return formatRange(start, end, timeLayout, p.cfg.TimeFormat, p.cfg.Location)
}

func formatRange(start, end, inLayout, outLayout string, loc *time.Location) string {
	if start == "" {
		return ""
	}
	s := formatOne(start, inLayout, outLayout, loc)
	if end == "" || end == start {
		return s
	}
	return s + " - " + formatOne(end, inLayout, outLayout, loc)
}

func formatOne(v, inLayout, outLayout string, loc *time.Location) string {
	t, err := time.ParseInLocation(inLayout, v, loc)
	if err != nil {
		return v
	}
	return t.Format(outLayout)
}

// StatusClass maps a status to its CSS class token. Unknown statuses read as upcoming.
func StatusClass(s types.EventStatus) string {
	if !s.Valid() {
		s = types.StatusUpcoming
	}
	return "event-status-" + string(s)
}

// isPast compares the start date alone against today's midnight.
func (p *Processor) isPast(start string, midnight time.Time) bool {
	t, err := time.ParseInLocation(dateLayout, start, p.cfg.Location)
	if err != nil {
		return false
	}
	return t.Before(midnight)
}

func (p *Processor) todayMidnight() time.Time {
	now := p.cfg.Now().In(p.cfg.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.cfg.Location)
}

func (p *Processor) permalink(e types.Event) string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if e.Slug == "" {
		return base + "/" + strconv.FormatInt(e.ID, 10) + "/"
	}
	return base + "/" + url.PathEscape(e.Slug) + "/"
}

func excerptSource(e types.Event) string {
	if strings.TrimSpace(e.Excerpt) != "" {
		return e.Excerpt
	}
	return tagPattern.ReplaceAllString(e.Content, " ")
}

// TruncateWords keeps the first n words of s and appends an ellipsis when
// anything was cut.
func TruncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + Ellipsis
}
