package store

import (
	"fmt"
	"strings"
	"time"

	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

// Filter is a conjunction of column comparisons. The zero Filter matches
// every row.
type Filter struct {
	terms []term
}

type term struct {
	col string
	op  string
	val any
}

func cmp(col, op string, v any) Filter {
	return Filter{terms: []term{{col: col, op: op, val: v}}}
}

// Eq matches rows where col = v.
func Eq(col string, v any) Filter { return cmp(col, "=", v) }

// Ne matches rows where col <> v.
func Ne(col string, v any) Filter { return cmp(col, "<>", v) }

// Lte matches rows where col <= v.
func Lte(col string, v any) Filter { return cmp(col, "<=", v) }

// Gte matches rows where col >= v.
func Gte(col string, v any) Filter { return cmp(col, ">=", v) }

// And combines filters.
func And(fs ...Filter) Filter {
	var out Filter
	for _, f := range fs {
		out.terms = append(out.terms, f.terms...)
	}
	return out
}

// IsZero reports whether the filter matches every row.
func (f Filter) IsZero() bool { return len(f.terms) == 0 }

// DateBetween matches dates in [from, to].
func DateBetween(from, to time.Time) Filter {
	return And(Gte("date", from), Lte("date", to))
}

func (f Filter) String() string {
	parts := make([]string, len(f.terms))
	for i, t := range f.terms {
		parts[i] = fmt.Sprintf("%s %s %v", t.col, t.op, sqlValue(t.val))
	}
	return strings.Join(parts, " AND ")
}

// where renders the filter against the columns a table allows.
func (f Filter) where(columns map[string]bool) (string, []any, error) {
	if f.IsZero() {
		return "", nil, nil
	}
	parts := make([]string, 0, len(f.terms))
	args := make([]any, 0, len(f.terms))
	for _, t := range f.terms {
		if !columns[t.col] {
			return "", nil, fmt.Errorf("%w: unknown column %q", ErrBadFilter, t.col)
		}
		parts = append(parts, t.col+" "+t.op+" ?")
		args = append(args, sqlValue(t.val))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// sqlValue converts domain values to their stored representation.
func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return timegrid.DateKey(x)
	case timegrid.Clock:
		return x.String()
	case model.Status:
		return string(x)
	case model.Money:
		return int64(x)
	case int:
		return int64(x)
	}
	return v
}

var appointmentColumns = map[string]bool{
	"id":              true,
	"date":            true,
	"time":            true,
	"box":             true,
	"status":          true,
	"client_id":       true,
	"professional_id": true,
	"treatment_id":    true,
	"subtreatment_id": true,
}

var availabilityColumns = map[string]bool{
	"id":           true,
	"treatment_id": true,
	"box":          true,
	"start_date":   true,
	"end_date":     true,
}
