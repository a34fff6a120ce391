package store

import (
	"fmt"
	"strings"

	"github.com/eventdeck/eventdeck/pkg/types"
)

const eventColumns = `e.id, e.post_type, e.post_status, e.slug, e.title, e.content, e.excerpt, e.thumbnail_url`

var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// buildFindQuery compiles a query into SQL over the events table.
func buildFindQuery(q types.Query) (string, []interface{}, error) {
	var (
		b    strings.Builder
		args []interface{}
	)

	b.WriteString("SELECT " + eventColumns + " FROM events e WHERE 1=1")
	if q.PostType() != "" {
		b.WriteString(" AND e.post_type = ?")
		args = append(args, q.PostType())
	}
	if q.PostStatus() != "" {
		b.WriteString(" AND e.post_status = ?")
		args = append(args, q.PostStatus())
	}

	for _, pred := range q.Predicates() {
		clause, predArgs, err := buildPredicateClause(pred)
		if err != nil {
			return "", nil, err
		}
		if clause != "" {
			b.WriteString(" AND " + clause)
			args = append(args, predArgs...)
		}
	}

	b.WriteString(" ORDER BY ")
	for _, s := range q.Sort() {
		b.WriteString(orderExpr(s.Field))
		b.WriteString(" ")
		b.WriteString(string(s.Direction))
		b.WriteString(", ")
	}
	b.WriteString("e.id ASC")

	if q.Limit() > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit())
	}
	return b.String(), args, nil
}

// buildPredicateClause builds a SQL clause from a predicate.
func buildPredicateClause(pred types.Predicate) (string, []interface{}, error) {
	switch pred.Kind {
	case types.PredicateMeta:
		if !allowedOperators[pred.Operator] {
			return "", nil, fmt.Errorf("store: unsupported operator %q", pred.Operator)
		}
		value := "m.meta_value"
		var arg interface{} = pred.Value
		if pred.Type == types.MetaTypeNumeric {
			value = "CAST(m.meta_value AS REAL)"
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM event_meta m WHERE m.event_id = e.id AND m.meta_key = ? AND %s %s ?)",
			value, pred.Operator), []interface{}{pred.Key, arg}, nil

	case types.PredicateTaxonomy:
		if len(pred.Terms) == 0 {
			return "", nil, nil
		}
		col, err := categoryColumn(pred.Field)
		if err != nil {
			return "", nil, err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Terms)), ", ")
		args := make([]interface{}, len(pred.Terms))
		for i, t := range pred.Terms {
			args[i] = t
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM event_categories ec JOIN categories c ON c.id = ec.category_id WHERE ec.event_id = e.id AND c.%s IN (%s))",
			col, placeholders), args, nil

	case types.PredicateSearch:
		like := "%" + escapeLike(pred.Term) + "%"
		return `(e.title LIKE ? ESCAPE '\' OR e.content LIKE ? ESCAPE '\' OR EXISTS (SELECT 1 FROM event_meta m WHERE m.event_id = e.id AND m.meta_key = 'location' AND m.meta_value LIKE ? ESCAPE '\'))`,
			[]interface{}{like, like, like}, nil
	}
	return "", nil, fmt.Errorf("store: unknown predicate kind %d", pred.Kind)
}

func categoryColumn(field string) (string, error) {
	switch field {
	case "", "slug":
		return "slug", nil
	case "id":
		return "id", nil
	case "name":
		return "name", nil
	}
	return "", fmt.Errorf("store: unsupported taxonomy field %q", field)
}

// orderExpr maps a sort field onto a SQL expression. Unknown fields sort by
// start date.
func orderExpr(field string) string {
	switch field {
	case "title":
		return "e.title"
	case "date":
		return "e.published_at"
	case "price":
		return "(SELECT CAST(m.meta_value AS REAL) FROM event_meta m WHERE m.event_id = e.id AND m.meta_key = 'price')"
	case "end_date":
		return "(SELECT m.meta_value FROM event_meta m WHERE m.event_id = e.id AND m.meta_key = 'end_date')"
	}
	return "(SELECT m.meta_value FROM event_meta m WHERE m.event_id = e.id AND m.meta_key = 'start_date')"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
