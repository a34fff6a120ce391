// Package core composes data access, processing and rendering into the
// display, single-event and search entry points.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// Events is the data access dependency.
type Events interface {
	GetEvents(ctx context.Context, f types.FilterSet) ([]types.Event, error)
	GetEvent(ctx context.Context, id int64) (*types.Event, error)
	SearchEvents(ctx context.Context, term string, f types.FilterSet) ([]types.Event, error)
}

// Processor derives display fields.
type Processor interface {
	Process(events []types.Event, params types.DisplayParams) []types.ProcessedEvent
}

// Renderer produces markup.
type Renderer interface {
	Render(events []types.ProcessedEvent, params types.DisplayParams) (string, error)
	RenderEmpty() string
}

// Recorder receives fire-and-forget analytics actions.
type Recorder interface {
	RecordAsync(ctx context.Context, action types.Action, eventID int64, payload []byte)
}

// Orchestrator holds references to its collaborators only and is safe for
// concurrent use.
type Orchestrator struct {
	events    Events
	processor Processor
	renderer  Renderer
	recorder  Recorder
	logger    *slog.Logger
}

// New creates an orchestrator. recorder and logger may be nil.
func New(events Events, processor Processor, renderer Renderer, recorder Recorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		events:    events,
		processor: processor,
		renderer:  renderer,
		recorder:  recorder,
		logger:    observability.Component(logger, "core"),
	}
}

// DisplayEvents renders the events selected by f using the default display
// options for f's layout.
func (o *Orchestrator) DisplayEvents(ctx context.Context, f types.FilterSet) string {
	f = f.Normalize()
	return o.DisplayEventsWith(ctx, f, types.DefaultDisplayParams(f.Layout))
}

// DisplayEventsWith is DisplayEvents with explicit display options. Storage
// failures render as "no events" and are logged.
func (o *Orchestrator) DisplayEventsWith(ctx context.Context, f types.FilterSet, params types.DisplayParams) string {
	events, err := o.events.GetEvents(ctx, f)
	if err != nil {
		o.logger.Error("display fetch failed", slog.String("error", err.Error()))
		return o.renderer.RenderEmpty()
	}

	processed := o.processor.Process(events, params)
	out, err := o.renderer.Render(processed, params)
	if err != nil {
		o.logger.Error("render failed", slog.String("error", err.Error()))
		return o.renderer.RenderEmpty()
	}

	o.record(ctx, types.ActionView, 0, map[string]interface{}{
		"source": "display",
		"layout": params.Layout,
		"count":  len(processed),
	})
	return out
}

// GetEvent returns one processed event and records a view for it.
// Not-found errors pass through unchanged.
func (o *Orchestrator) GetEvent(ctx context.Context, id int64) (*types.ProcessedEvent, error) {
	e, err := o.events.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	processed := o.processor.Process([]types.Event{*e}, types.DefaultDisplayParams(types.LayoutGrid))
	if len(processed) == 0 {
		return nil, apperrors.NewNotFoundError(apperrors.CodeEventNotFound,
			fmt.Sprintf("event %d has no displayable id", id))
	}

	o.record(ctx, types.ActionView, id, map[string]interface{}{"source": "single"})
	return &processed[0], nil
}

// SearchEvents returns processed events matching term within f.
func (o *Orchestrator) SearchEvents(ctx context.Context, term string, f types.FilterSet) ([]types.ProcessedEvent, error) {
	events, err := o.events.SearchEvents(ctx, term, f)
	if err != nil {
		return nil, err
	}
	return o.processor.Process(events, types.DefaultDisplayParams(f.Layout)), nil
}

func (o *Orchestrator) record(ctx context.Context, action types.Action, eventID int64, payload map[string]interface{}) {
	if o.recorder == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	o.recorder.RecordAsync(ctx, action, eventID, raw)
}
