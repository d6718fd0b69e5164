package reconcile

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Candidate pairs a staged row with the current version of its key, every
// attribute in its Postgres text form
type Candidate struct {
	Key     string
	Staged  []pgtype.Text
	Exists  bool
	Current []pgtype.Text
}

// Plan is the outcome of comparing staged rows with current versions
type Plan struct {
	Inserted  []string
	Changed   []string
	Unchanged []string
}

// Diff classifies candidates by key. Attributes compare null-safely: two
// nulls are equal and a null never equals an empty string.
func Diff(candidates []Candidate) Plan {
	var plan Plan

	for _, c := range candidates {
		switch {
		case !c.Exists:
			plan.Inserted = append(plan.Inserted, c.Key)
		case changed(c.Staged, c.Current):
			plan.Changed = append(plan.Changed, c.Key)
		default:
			plan.Unchanged = append(plan.Unchanged, c.Key)
		}
	}

	return plan
}

func changed(staged, current []pgtype.Text) bool {
	if len(staged) != len(current) {
		return true
	}

	for i := range staged {
		if staged[i].Valid != current[i].Valid {
			return true
		}

		if staged[i].Valid && staged[i].String != current[i].String {
			return true
		}
	}

	return false
}

// keyOf formats key values the way Postgres renders them as text
func keyOf(values []any) string {
	parts := make([]string, len(values))

	for i, v := range values {
		if valuer, ok := v.(driver.Valuer); ok {
			if dv, err := valuer.Value(); err == nil {
				v = dv
			}
		}

		if v == nil {
			parts[i] = ""

			continue
		}

		parts[i] = fmt.Sprint(v)
	}

	return strings.Join(parts, "\x1f")
}

// textOf converts a scanned ::text column to a nullable text
func textOf(v any) pgtype.Text {
	switch t := v.(type) {
	case nil:
		return pgtype.Text{}
	case string:
		return pgtype.Text{String: t, Valid: true}
	case pgtype.Text:
		return t
	default:
		return pgtype.Text{String: fmt.Sprint(t), Valid: true}
	}
}
