package types

// DisplayParams are the presentation options for one rendering call.
type DisplayParams struct {
	Layout        Layout `json:"layout"`
	Columns       int    `json:"columns"`
	ShowThumbnail bool   `json:"show_thumbnail"`
	ShowExcerpt   bool   `json:"show_excerpt"`
	ShowLocation  bool   `json:"show_location"`
	ShowPrice     bool   `json:"show_price"`
}

// DefaultDisplayParams returns the display options used when none are given.
func DefaultDisplayParams(layout Layout) DisplayParams {
	if layout == "" {
		layout = LayoutGrid
	}
	return DisplayParams{
		Layout:        layout,
		Columns:       3,
		ShowThumbnail: true,
		ShowExcerpt:   true,
		ShowLocation:  true,
		ShowPrice:     true,
	}
}

// ProcessedEvent is an Event with its display fields derived.
type ProcessedEvent struct {
	Event

	FormattedDate string `json:"formatted_date"`
	FormattedTime string `json:"formatted_time,omitempty"`
	StatusClass   string `json:"status_class"`
	IsFeatured    bool   `json:"is_featured"`
	IsPast        bool   `json:"is_past"`
	Permalink     string `json:"permalink"`
	ShortExcerpt  string `json:"short_excerpt"`
}
