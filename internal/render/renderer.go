// Package render turns processed events into HTML fragments. Rendering reads
// nothing but its arguments.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/eventdeck/eventdeck/pkg/types"
)

// EmptyMessage is shown when there is nothing to render.
const EmptyMessage = "No events found."

const fragments = `
{{define "empty"}}<div class="eventdeck-events eventdeck-empty"><p class="eventdeck-no-events">{{.}}</p></div>{{end}}

{{define "list"}}<div class="eventdeck-events eventdeck-layout-{{.Params.Layout}}" data-layout="{{.Params.Layout}}" data-columns="{{.Params.Columns}}">
{{- range .Events}}
{{template "event" dict "E" . "P" $.Params}}
{{- end}}
</div>{{end}}

{{define "event"}}{{with .E}}<article class="eventdeck-event {{.StatusClass}}{{if .IsFeatured}} is-featured{{end}}{{if .IsPast}} is-past{{end}}" data-event-id="{{.ID}}">
{{- if .IsFeatured}}<span class="eventdeck-featured-badge">Featured</span>{{end}}
{{- if and $.P.ShowThumbnail .ThumbnailURL}}<a class="eventdeck-thumb" href="{{.Permalink}}"><img src="{{.ThumbnailURL}}" alt="{{.Title}}" loading="lazy"></a>{{end}}
<h3 class="eventdeck-title"><a href="{{.Permalink}}">{{.Title}}</a></h3>
<p class="eventdeck-date">{{.FormattedDate}}{{if .FormattedTime}} <span class="eventdeck-time">{{.FormattedTime}}</span>{{end}}</p>
{{- if and $.P.ShowLocation .Location}}<p class="eventdeck-location">{{.Location}}</p>{{end}}
{{- if and $.P.ShowPrice .Price}}<p class="eventdeck-price">{{.Price}}{{if .Currency}} {{.Currency}}{{end}}</p>{{end}}
{{- if and $.P.ShowExcerpt .ShortExcerpt}}<p class="eventdeck-excerpt">{{.ShortExcerpt}}</p>{{end}}
{{- if .TicketURL}}<a class="eventdeck-tickets" href="{{.TicketURL}}" rel="noopener">Tickets</a>{{end}}
</article>{{end}}{{end}}
`

// Renderer renders event fragments.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the fragment templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("eventdeck").Funcs(template.FuncMap{"dict": dict}).Parse(fragments)
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNewRenderer is NewRenderer that panics on a template error.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render returns the markup for events. An empty slice renders a single
// "no events found" fragment.
func (r *Renderer) Render(events []types.ProcessedEvent, params types.DisplayParams) (string, error) {
	switch params.Layout {
	case types.LayoutGrid, types.LayoutList, types.LayoutCarousel:
	default:
		params.Layout = types.LayoutGrid
	}
	if params.Columns <= 0 {
		params.Columns = 3
	}

	var buf bytes.Buffer
	var err error
	if len(events) == 0 {
		err = r.tmpl.ExecuteTemplate(&buf, "empty", EmptyMessage)
	} else {
		err = r.tmpl.ExecuteTemplate(&buf, "list", struct {
			Events []types.ProcessedEvent
			Params types.DisplayParams
		}{events, params})
	}
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return buf.String(), nil
}

// RenderEmpty returns the "no events found" fragment.
func (r *Renderer) RenderEmpty() string {
	out, _ := r.Render(nil, types.DisplayParams{})
	return out
}

func dict(kv ...interface{}) (map[string]interface{}, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("dict: odd argument count")
	}
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}
