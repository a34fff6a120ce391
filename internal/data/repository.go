// Package data resolves filter sets and ids to raw events, consulting the
// tiered cache before the event store.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventdeck/eventdeck/internal/cache"
	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/internal/query"
	"github.com/eventdeck/eventdeck/internal/store"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// Cache is the subset of the tiered cache the repository uses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Config holds repository settings.
type Config struct {
	Namespace string
	TTL       time.Duration
	Location  *time.Location
	Now       func() time.Time
}

// Repository is the data access layer.
type Repository struct {
	store   store.EventStore
	cache   Cache
	cfg     Config
	stats   *observability.FilterStats
	logger  *slog.Logger
	builder query.Builder
}

// NewRepository creates a repository. stats and logger may be nil.
func NewRepository(es store.EventStore, c Cache, cfg Config, stats *observability.FilterStats, logger *slog.Logger) *Repository {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Repository{
		store:   es,
		cache:   c,
		cfg:     cfg,
		stats:   stats,
		logger:  observability.Component(logger, "data"),
		builder: query.New(query.WithClock(cfg.Now, cfg.Location), query.WithStats(stats)),
	}
}

// GetEvents returns the events selected by f. Results are cached under the
// hash of the normalized filter set.
func (r *Repository) GetEvents(ctx context.Context, f types.FilterSet) ([]types.Event, error) {
	f = f.Normalize()
	r.stats.RecordFilter(f.CanonicalString())

	key := cache.FilterKey(r.cfg.Namespace, f, r.builder.Today())
	var events []types.Event
	if r.load(ctx, key, &events) {
		return events, nil
	}

	q := r.builder.Apply(f).Build()
	events, err := r.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("data: get events: %w", err)
	}
	if events == nil {
		events = []types.Event{}
	}

	r.remember(ctx, key, events)
	return events, nil
}

// GetEvent returns one event with meta and categories attached. Records that
// are not events are reported as not found.
func (r *Repository) GetEvent(ctx context.Context, id int64) (*types.Event, error) {
	if id <= 0 {
		return nil, apperrors.NewNotFoundError(apperrors.CodeEventNotFound, fmt.Sprintf("event %d not found", id))
	}

	key := cache.EventKey(r.cfg.Namespace, id)
	var cached types.Event
	if r.load(ctx, key, &cached) {
		return &cached, nil
	}

	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.PostType != types.PostTypeEvent {
		return nil, apperrors.NewNotFoundError(apperrors.CodeWrongContentType,
			fmt.Sprintf("record %d is a %s, not an event", id, e.PostType))
	}

	cats, err := r.store.Categories(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("data: get event categories: %w", err)
	}
	e.Categories = cats

	r.remember(ctx, key, e)
	return e, nil
}

// SearchEvents runs f with its search slot set to term. A blank term adds no
// predicate, so the result is the plain listing for f. Search shares the
// filter cache namespace.
func (r *Repository) SearchEvents(ctx context.Context, term string, f types.FilterSet) ([]types.Event, error) {
	f.Search = term
	return r.GetEvents(ctx, f)
}

// load decodes a cached value into dst. An undecodable entry is a miss.
func (r *Repository) load(ctx context.Context, key string, dst interface{}) bool {
	if r.cache == nil {
		return false
	}
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		observability.LogSwallowed(r.logger, "discarding undecodable cache entry", err, slog.String("key", key))
		return false
	}
	return true
}

// remember writes v through the cache. Encoding failures are logged only.
func (r *Repository) remember(ctx context.Context, key string, v interface{}) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		observability.LogSwallowed(r.logger, "cache encode failed", err, slog.String("key", key))
		return
	}
	r.cache.Set(ctx, key, raw, r.cfg.TTL)
}
