package types

// PredicateKind distinguishes the three predicate families a query can carry.
type PredicateKind int

const (
	PredicateMeta PredicateKind = iota
	PredicateTaxonomy
	PredicateSearch
)

// Meta comparison value types.
const (
	MetaTypeChar    = "CHAR"
	MetaTypeDate    = "DATE"
	MetaTypeNumeric = "NUMERIC"
)

// Predicate is one storage-agnostic condition on an event.
type Predicate struct {
	Kind PredicateKind

	// Meta predicates: Key compared to Value with Operator ("=", "!=", "<", "<=", ">", ">=").
	Key      string
	Operator string
	Value    string
	Type     string

	// Taxonomy predicates: Field ("slug", "id", "name") of Taxonomy in Terms.
	Taxonomy string
	Field    string
	Terms    []string

	// Search predicates: full-text term matched against title, body and location.
	Term string
}

// Sort is a single ordering clause.
type Sort struct {
	Field     string
	Direction SortOrder
}

// Query is the compiled form of a FilterSet. Values are copied in at
// construction and the accessors hand out copies, so a Query cannot be
// mutated after it is built.
type Query struct {
	postType   string
	postStatus string
	predicates []Predicate
	sort       []Sort
	limit      int
}

// NewQuery constructs an immutable query.
func NewQuery(postType, postStatus string, predicates []Predicate, sort []Sort, limit int) Query {
	return Query{
		postType:   postType,
		postStatus: postStatus,
		predicates: copyPredicates(predicates),
		sort:       append([]Sort(nil), sort...),
		limit:      limit,
	}
}

// PostType returns the content type the query is restricted to.
func (q Query) PostType() string { return q.postType }

// PostStatus returns the publication status the query is restricted to.
func (q Query) PostStatus() string { return q.postStatus }

// Limit returns the maximum number of records; 0 means unbounded.
func (q Query) Limit() int { return q.limit }

// Predicates returns a copy of the predicate list.
func (q Query) Predicates() []Predicate { return copyPredicates(q.predicates) }

// Sort returns a copy of the sort specification.
func (q Query) Sort() []Sort { return append([]Sort(nil), q.sort...) }

func copyPredicates(in []Predicate) []Predicate {
	out := make([]Predicate, len(in))
	for i, p := range in {
		p.Terms = append([]string(nil), p.Terms...)
		out[i] = p
	}
	return out
}
