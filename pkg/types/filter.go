package types

import (
	"strconv"
	"strings"
)

// Filter set defaults and bounds.
const (
	DefaultCount = 6
	MinCount     = 1
	MaxCount     = 50

	DefaultOrderBy = "start_date"
)

// Layout selects the container used by the renderer.
type Layout string

const (
	LayoutGrid     Layout = "grid"
	LayoutList     Layout = "list"
	LayoutCarousel Layout = "carousel"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "ASC"
	OrderDesc SortOrder = "DESC"
)

// orderable lists the sort fields the event store understands.
var orderable = map[string]bool{
	"start_date": true,
	"end_date":   true,
	"title":      true,
	"date":       true,
	"price":      true,
}

// FilterSet is the typed form of the user-supplied display filters.
// Unknown keys have no representation here.
type FilterSet struct {
	Count    int         `json:"count"`
	Layout   Layout      `json:"layout"`
	Category string      `json:"category,omitempty"`
	Status   EventStatus `json:"status,omitempty"`
	OrderBy  string      `json:"orderby"`
	Order    SortOrder   `json:"order"`

	// ShowPast is nil when the caller did not say. Past events are only
	// excluded when it is explicitly false.
	ShowPast *bool `json:"show_past,omitempty"`

	Featured bool   `json:"featured"`
	Search   string `json:"search,omitempty"`
}

// NewFilterSet returns a filter set populated with the documented defaults.
func NewFilterSet() FilterSet {
	return FilterSet{
		Count:   DefaultCount,
		Layout:  LayoutGrid,
		OrderBy: DefaultOrderBy,
		Order:   OrderAsc,
	}
}

// Normalize clamps and defaults every field in place and returns the result.
// Out-of-range values are corrected silently, never rejected.
func (f FilterSet) Normalize() FilterSet {
	f.Count = ClampCount(f.Count)

	switch f.Layout {
	case LayoutGrid, LayoutList, LayoutCarousel:
	default:
		f.Layout = LayoutGrid
	}

	f.Category = strings.TrimSpace(f.Category)
	if !f.Status.Valid() {
		f.Status = ""
	}

	f.OrderBy = strings.ToLower(strings.TrimSpace(f.OrderBy))
	if !orderable[f.OrderBy] {
		f.OrderBy = DefaultOrderBy
	}
	f.Order = SortOrder(strings.ToUpper(string(f.Order)))
	if f.Order != OrderDesc {
		f.Order = OrderAsc
	}

	f.Search = strings.TrimSpace(f.Search)
	return f
}

// ExcludesPast reports whether the caller explicitly asked to hide past events.
func (f FilterSet) ExcludesPast() bool {
	return f.ShowPast != nil && !*f.ShowPast
}

// CanonicalString serializes the result-affecting fields in a fixed order.
// Layout is presentation only and is left out so every layout shares one
// cached result.
func (f FilterSet) CanonicalString() string {
	n := f.Normalize()
	showPast := "unset"
	if n.ShowPast != nil {
		showPast = strconv.FormatBool(*n.ShowPast)
	}

	var b strings.Builder
	b.WriteString("count=")
	b.WriteString(strconv.Itoa(n.Count))
	b.WriteString("|category=")
	b.WriteString(n.Category)
	b.WriteString("|status=")
	b.WriteString(string(n.Status))
	b.WriteString("|orderby=")
	b.WriteString(n.OrderBy)
	b.WriteString("|order=")
	b.WriteString(string(n.Order))
	b.WriteString("|show_past=")
	b.WriteString(showPast)
	b.WriteString("|featured=")
	b.WriteString(strconv.FormatBool(n.Featured))
	b.WriteString("|search=")
	b.WriteString(n.Search)
	return b.String()
}

// CacheString is CanonicalString plus the date the result was resolved
// against when past events are hidden, so such results roll over at midnight.
func (f FilterSet) CacheString(today string) string {
	s := f.CanonicalString()
	if f.ExcludesPast() {
		s += "|today=" + today
	}
	return s
}

// ClampCount forces a requested count into [MinCount, MaxCount].
func ClampCount(n int) int {
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

// ParseFilterSet builds a FilterSet from loosely typed key/value input such as
// URL query parameters or shortcode attributes. Unrecognized keys are ignored
// and malformed values fall back to their defaults.
func ParseFilterSet(values map[string]string) FilterSet {
	f := NewFilterSet()
	for key, raw := range values {
		v := strings.TrimSpace(raw)
		switch strings.ToLower(key) {
		case "count":
			if n, err := strconv.Atoi(v); err == nil {
				f.Count = n
			}
		case "layout":
			f.Layout = Layout(strings.ToLower(v))
		case "category":
			f.Category = v
		case "status":
			f.Status = EventStatus(strings.ToLower(v))
		case "orderby":
			f.OrderBy = v
		case "order":
			f.Order = SortOrder(v)
		case "show_past":
			if b, ok := parseBool(v); ok {
				f.ShowPast = &b
			}
		case "featured":
			if b, ok := parseBool(v); ok {
				f.Featured = b
			}
		case "search":
			f.Search = v
		}
	}
	return f.Normalize()
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// BoolPtr is a convenience for setting ShowPast.
func BoolPtr(b bool) *bool {
	return &b
}
