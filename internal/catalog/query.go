package catalog

import (
	"fmt"
	"strings"

	"github.com/cinematch/cinematch/internal/model"
)

// buildSearchQuery turns a validated filter into a parameterized SELECT.
// Callers must have run Normalize and Validate first; the builder trusts the
// order_by column name because Validate restricts it to the orderable set.
func buildSearchQuery(f model.QueryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Title != "" {
		where = append(where, "title ILIKE "+arg(containsPattern(f.Title)))
	}
	if f.Director != "" {
		where = append(where, "director ILIKE "+arg(containsPattern(f.Director)))
	}

	// An exact year takes precedence over a year range.
	switch {
	case f.Year != 0:
		where = append(where, "year = "+arg(f.Year))
	default:
		if f.YearMin != 0 {
			where = append(where, "year >= "+arg(f.YearMin))
		}
		if f.YearMax != 0 {
			where = append(where, "year <= "+arg(f.YearMax))
		}
	}

	// List fields match any-of: a movie qualifies when at least one requested
	// value appears in its tag array. Matching is case-insensitive substring,
	// so "sci" matches "Science Fiction".
	if cond := anyTagMatch("genres", f.Genre, arg); cond != "" {
		where = append(where, cond)
	}
	if cond := anyTagMatch(`"cast"`, f.Cast, arg); cond != "" {
		where = append(where, cond)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(movieColumns)
	b.WriteString(" FROM movies")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(f.OrderBy)
	b.WriteString(" ")
	b.WriteString(f.OrderDir)
	b.WriteString(", id ASC")
	b.WriteString(" LIMIT ")
	b.WriteString(arg(f.Limit))
	if f.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(arg(f.Offset))
	}

	return b.String(), args
}

// anyTagMatch builds an EXISTS condition that is true when any of the
// comma-separated values case-insensitively matches an element of the array
// column.
func anyTagMatch(column, csv string, arg func(any) string) string {
	var pats []string
	for _, v := range strings.Split(csv, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		pats = append(pats, containsPattern(v))
	}
	if len(pats) == 0 {
		return ""
	}
	return fmt.Sprintf(
		`EXISTS (SELECT 1 FROM unnest(%s) AS tag WHERE tag ILIKE ANY(%s::text[]))`,
		column, arg(pats))
}

// containsPattern wraps a value in %...% for ILIKE matching, escaping LIKE
// metacharacters in the value itself.
func containsPattern(v string) string {
	return "%" + escapeLike(v) + "%"
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}
