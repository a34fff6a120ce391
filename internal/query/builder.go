// Package query compiles display filters into immutable, storage-agnostic
// event queries.
package query

import (
	"strings"
	"time"

	"github.com/eventdeck/eventdeck/internal/observability"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// Meta keys the builder emits predicates for.
const (
	MetaStatus    = "status"
	MetaFeatured  = "featured"
	MetaStartDate = "start_date"

	TaxonomyCategory = "event_category"

	PostStatusPublish = "publish"
)

// Builder accumulates predicates for one query. Every method returns a new
// Builder and leaves the receiver untouched, so a partially built value can
// be shared as a template.
type Builder struct {
	postType   string
	postStatus string
	predicates []types.Predicate
	sort       []types.Sort
	limit      int

	now   func() time.Time
	loc   *time.Location
	stats *observability.FilterStats
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the time source and zone used to resolve "today".
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithStats records every built predicate into stats.
func WithStats(stats *observability.FilterStats) Option {
	return func(b *Builder) { b.stats = stats }
}

// New returns a builder restricted to published events.
func New(opts ...Option) Builder {
	b := Builder{
		postType:   types.PostTypeEvent,
		postStatus: PostStatusPublish,
		now:        time.Now,
		loc:        time.UTC,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// PostType restricts the query to a content type.
func (b Builder) PostType(postType string) Builder {
	b = b.clone()
	b.postType = postType
	return b
}

// Status restricts the query to a publication status.
func (b Builder) Status(status string) Builder {
	b = b.clone()
	b.postStatus = status
	return b
}

// Limit caps the result size. Values outside [1,50] are clamped.
func (b Builder) Limit(n int) Builder {
	b = b.clone()
	b.limit = types.ClampCount(n)
	return b
}

// OrderBy appends a sort clause. An empty direction means ascending.
func (b Builder) OrderBy(field string, dir types.SortOrder) Builder {
	if dir != types.OrderDesc {
		dir = types.OrderAsc
	}
	b = b.clone()
	b.sort = append(b.sort, types.Sort{Field: field, Direction: dir})
	return b
}

// WhereMeta appends a meta comparison. An empty comparator means equality and
// an empty type means CHAR.
func (b Builder) WhereMeta(key, value, comparator, metaType string) Builder {
	if comparator == "" {
		comparator = "="
	}
	if metaType == "" {
		metaType = types.MetaTypeChar
	}
	b = b.clone()
	b.predicates = append(b.predicates, types.Predicate{
		Kind:     types.PredicateMeta,
		Key:      key,
		Operator: comparator,
		Value:    value,
		Type:     metaType,
	})
	return b
}

// WhereTaxonomy appends a taxonomy membership predicate.
func (b Builder) WhereTaxonomy(taxonomy, field string, terms ...string) Builder {
	b = b.clone()
	b.predicates = append(b.predicates, types.Predicate{
		Kind:     types.PredicateTaxonomy,
		Taxonomy: taxonomy,
		Field:    field,
		Terms:    append([]string(nil), terms...),
	})
	return b
}

// Search appends a full-text predicate over title, body and location.
func (b Builder) Search(term string) Builder {
	term = strings.TrimSpace(term)
	if term == "" {
		return b
	}
	b = b.clone()
	b.predicates = append(b.predicates, types.Predicate{
		Kind: types.PredicateSearch,
		Term: term,
	})
	return b
}

// Apply maps a filter set onto the builder's primitives.
func (b Builder) Apply(f types.FilterSet) Builder {
	f = f.Normalize()

	out := b.Limit(f.Count).OrderBy(f.OrderBy, f.Order)
	if f.Category != "" {
		out = out.WhereTaxonomy(TaxonomyCategory, "slug", f.Category)
	}
	if f.Status != "" {
		out = out.WhereMeta(MetaStatus, string(f.Status), "=", types.MetaTypeChar)
	}
	if f.Featured {
		out = out.WhereMeta(MetaFeatured, "1", "=", types.MetaTypeChar)
	}
	if f.ExcludesPast() {
		out = out.WhereMeta(MetaStartDate, b.Today(), ">=", types.MetaTypeDate)
	}
	if f.Search != "" {
		out = out.Search(f.Search)
	}
	return out
}

// Build returns the immutable query.
func (b Builder) Build() types.Query {
	if b.stats != nil {
		for _, p := range b.predicates {
			switch p.Kind {
			case types.PredicateMeta:
				b.stats.RecordPredicate(p.Key, p.Operator)
			case types.PredicateTaxonomy:
				b.stats.RecordPredicate(p.Taxonomy, "IN")
			case types.PredicateSearch:
				b.stats.RecordPredicate("search", "MATCH")
			}
		}
	}
	return types.NewQuery(b.postType, b.postStatus, b.predicates, b.sort, b.limit)
}

// Compile is New(opts...).Apply(f).Build().
func Compile(f types.FilterSet, opts ...Option) types.Query {
	return New(opts...).Apply(f).Build()
}

// Today is the date past-event filtering compares against.
func (b Builder) Today() string {
	return b.now().In(b.loc).Format("2006-01-02")
}

func (b Builder) clone() Builder {
	b.predicates = append([]types.Predicate(nil), b.predicates...)
	b.sort = append([]types.Sort(nil), b.sort...)
	return b
}
