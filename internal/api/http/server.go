package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventdeck/eventdeck/internal/analytics"
	"github.com/eventdeck/eventdeck/internal/cache"
	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/notify"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

const maxBodyBytes = 1 << 20

// Display is the orchestrator surface.
type Display interface {
	DisplayEventsWith(ctx context.Context, f types.FilterSet, params types.DisplayParams) string
	GetEvent(ctx context.Context, id int64) (*types.ProcessedEvent, error)
	SearchEvents(ctx context.Context, term string, f types.FilterSet) ([]types.ProcessedEvent, error)
}

// Analytics is the analytics engine surface.
type Analytics interface {
	Record(ctx context.Context, action types.Action, eventID int64, payload []byte) (int64, error)
	Dashboard(ctx context.Context, period types.Period) (*analytics.Dashboard, error)
	Funnel(ctx context.Context, eventID int64, period types.Period) (analytics.Funnel, error)
	EventConversion(ctx context.Context, eventID int64, period types.Period) (analytics.Conversion, error)
	Geographic(ctx context.Context, period types.Period) (map[string]int64, error)
	Export(ctx context.Context, format string, period types.Period) ([]byte, error)
	ArchiveExport(ctx context.Context, format string, period types.Period) (string, error)
	Purge(ctx context.Context, days int) (int64, error)
}

// EventWriter is the event store write side.
type EventWriter interface {
	Upsert(ctx context.Context, e *types.Event) (int64, error)
	Delete(ctx context.Context, id int64) error
	UpsertCategory(ctx context.Context, c *types.Category) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// Invalidator clears the query cache namespace.
type Invalidator interface {
	Invalidate(ctx context.Context) int
}

// CacheStats reports per-tier cache statistics.
type CacheStats interface {
	Stats() []cache.TierStats
}

// ChangeStats reports content change tallies.
type ChangeStats interface {
	Snapshot() notify.ChangeSnapshot
}

// Deps are the collaborators a Server routes to. Display and Analytics are
// required; the rest disable their routes when nil.
type Deps struct {
	Display     Display
	Analytics   Analytics
	Writer      EventWriter
	Invalidator Invalidator
	Cache       CacheStats
	Changes     ChangeStats
	FilterStats *observability.FilterStats
	APIKeys     []string
	Logger      *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// NewServer creates a server over deps.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:    deps,
		logger:  observability.Component(deps.Logger, "http"),
		started: time.Now(),
	}
}

// Router wires every route under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware, RecoveryMiddleware(s.logger))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)
		r.Get("/events", s.handleDisplay)
		r.Get("/events/search", s.handleSearch)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Post("/analytics/track", s.handleTrack)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(s.deps.APIKeys))

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/funnel/{id}", s.handleFunnel)
			r.Get("/conversion/{id}", s.handleConversion)
			r.Get("/geo", s.handleGeo)
			r.Get("/export", s.handleExport)
			r.Post("/purge", s.handlePurge)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Put("/events", s.handleUpsertEvent)
			r.Delete("/events/{id}", s.handleDeleteEvent)
			r.Put("/categories", s.handleUpsertCategory)
			r.Delete("/categories/{id}", s.handleDeleteCategory)
			r.Post("/cache/invalidate", s.handleInvalidate)
			r.Get("/stats", s.handleStats)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// filterSetFrom reads the recognized filter keys from the query string.
func filterSetFrom(r *http.Request) types.FilterSet {
	values := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return types.ParseFilterSet(values)
}

func displayParamsFrom(r *http.Request, layout types.Layout) types.DisplayParams {
	p := types.DefaultDisplayParams(layout)
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("columns")); err == nil && n > 0 && n <= 6 {
		p.Columns = n
	}
	flag := func(name string, dst *bool) {
		switch strings.ToLower(q.Get(name)) {
		case "0", "false", "no":
			*dst = false
		case "1", "true", "yes":
			*dst = true
		}
	}
	flag("show_thumbnail", &p.ShowThumbnail)
	flag("show_excerpt", &p.ShowExcerpt)
	flag("show_location", &p.ShowLocation)
	flag("show_price", &p.ShowPrice)
	return p
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	f := filterSetFrom(r)
	out := s.deps.Display.DisplayEventsWith(r.Context(), f, displayParamsFrom(r, f.Layout))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	events, err := s.deps.Display.SearchEvents(r.Context(), term, filterSetFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if events == nil {
		events = []types.ProcessedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "term": term})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := s.deps.Display.GetEvent(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type trackRequest struct {
	Action  types.Action    `json:"action"`
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(r.Context()))
		return
	}
	var payload []byte
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		payload = req.Payload
	}
	id, err := s.deps.Analytics.Record(r.Context(), req.Action, req.EventID, payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func periodFrom(r *http.Request) types.Period {
	return types.ParsePeriod(r.URL.Query().Get("period"))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Analytics.Dashboard(r.Context(), periodFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.deps.Analytics.Funnel(r.Context(), id, periodFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Analytics.EventConversion(r.Context(), id, periodFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGeo(w http.ResponseWriter, r *http.Request) {
	geo, err := s.deps.Analytics.Geographic(r.Context(), periodFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": geo, "order": analytics.Countries(geo)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = analytics.FormatCSV
	}
	period := periodFrom(r)

	if r.URL.Query().Get("archive") == "1" {
		path, err := s.deps.Analytics.ArchiveExport(r.Context(), format, period)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"object": path})
		return
	}

	data, err := s.deps.Analytics.Export(r.Context(), format, period)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	contentType := "text/csv; charset=utf-8"
	if format == analytics.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="eventdeck-analytics-%s.%s"`, period, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", GetRequestID(r.Context()))
			return
		}
		days = n
	}
	n, err := s.deps.Analytics.Purge(r.Context(), days)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleUpsertEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Writer == nil {
		writeError(w, http.StatusNotImplemented, "event writes are disabled", GetRequestID(r.Context()))
		return
	}
	var e types.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(r.Context()))
		return
	}
	if strings.TrimSpace(e.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", GetRequestID(r.Context()))
		return
	}
	id, err := s.deps.Writer.Upsert(r.Context(), &e)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Writer == nil {
		writeError(w, http.StatusNotImplemented, "event writes are disabled", GetRequestID(r.Context()))
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Writer.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertCategory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Writer == nil {
		writeError(w, http.StatusNotImplemented, "event writes are disabled", GetRequestID(r.Context()))
		return
	}
	var c types.Category
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(r.Context()))
		return
	}
	id, err := s.deps.Writer.UpsertCategory(r.Context(), &c)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Writer == nil {
		writeError(w, http.StatusNotImplemented, "event writes are disabled", GetRequestID(r.Context()))
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Writer.DeleteCategory(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Invalidator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"removed": 0})
		return
	}
	removed := s.deps.Invalidator.Invalidate(r.Context())
	s.logger.Info("cache invalidated by admin", "removed", removed, "request_id", GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"cache":          []cache.TierStats{},
		"top_predicates": []observability.FieldStats{},
		"top_filters":    []observability.FieldStats{},
		"changes":        notify.ChangeSnapshot{Counts: map[string]int64{}},
	}
	if fs := s.deps.FilterStats; fs != nil {
		resp["top_predicates"] = fs.GetTopPredicates(10)
		resp["top_filters"] = fs.GetTopFilters(10)
	}
	if s.deps.Cache != nil {
		if st := s.deps.Cache.Stats(); st != nil {
			resp["cache"] = st
		}
	}
	if s.deps.Changes != nil {
		resp["changes"] = s.deps.Changes.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAppError(w, r, apperrors.NewValidationError(apperrors.CodeInvalidInput,
			fmt.Sprintf("invalid id %q", raw)))
		return 0, false
	}
	return id, true
}
