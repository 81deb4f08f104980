// Package query composes optional slide search criteria into a single
// parameterized SQL predicate.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the format of deck_modified values and time range bounds.
const DateLayout = "2006-01-02"

// ErrInvalidCriteria is returned when a criterion cannot be turned into a
// predicate (for example a malformed date bound).
var ErrInvalidCriteria = errors.New("query: invalid criteria")

// Criteria are the independently optional search filters. Zero values
// contribute no clause.
type Criteria struct {
	Text      string    `json:"text,omitempty"`  // substring of slide text or notes
	Title     string    `json:"title,omitempty"` // substring of deck name
	TimeRange TimeRange `json:"time_range"`
}

// TimeRange bounds deck_modified. Both bounds are inclusive.
type TimeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// IsZero reports whether no bound is set.
func (r TimeRange) IsZero() bool {
	return strings.TrimSpace(r.From) == "" && strings.TrimSpace(r.To) == ""
}

// Predicate is a WHERE clause with its bound arguments. Where is empty when
// no clause was contributed.
type Predicate struct {
	Where string
	Args  []any
}

// clause is one parameterized condition. The number of placeholders in sql
// always equals len(args).
type clause struct {
	sql  string
	args []any
}

// Builder accumulates clauses in the order they are added. The zero value is
// ready to use.
type Builder struct {
	clauses []clause
	err     error
}

// Contains adds a case-insensitive substring match over one or more columns.
// Multiple columns are OR-ed inside one parenthesized clause.
func (b *Builder) Contains(term string, columns ...string) *Builder {
	if strings.TrimSpace(term) == "" || len(columns) == 0 {
		return b
	}
	pattern := "%" + EscapeLike(Fold(term)) + "%"
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf(`%s(%s) LIKE ? ESCAPE '\'`, FoldFunc, col)
		args[i] = pattern
	}
	sql := parts[0]
	if len(parts) > 1 {
		sql = "(" + strings.Join(parts, " OR ") + ")"
	}
	b.clauses = append(b.clauses, clause{sql: sql, args: args})
	return b
}

// Between adds an inclusive date range on column. A missing bound leaves that
// side open; two missing bounds add nothing.
func (b *Builder) Between(column string, r TimeRange) *Builder {
	from, err := normalizeDate(r.From)
	if err != nil {
		b.fail(fmt.Errorf("%w: from: %v", ErrInvalidCriteria, err))
		return b
	}
	to, err := normalizeDate(r.To)
	if err != nil {
		b.fail(fmt.Errorf("%w: to: %v", ErrInvalidCriteria, err))
		return b
	}

	switch {
	case from != "" && to != "":
		if from > to {
			b.fail(fmt.Errorf("%w: range starts after it ends (%s > %s)", ErrInvalidCriteria, from, to))
			return b
		}
		b.clauses = append(b.clauses, clause{sql: column + " BETWEEN ? AND ?", args: []any{from, to}})
	case from != "":
		b.clauses = append(b.clauses, clause{sql: column + " >= ?", args: []any{from}})
	case to != "":
		b.clauses = append(b.clauses, clause{sql: column + " <= ?", args: []any{to}})
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Len returns the number of clauses added so far.
func (b *Builder) Len() int { return len(b.clauses) }

// Build folds the clauses with AND. The first clause is introduced by WHERE
// and every later one by AND.
func (b *Builder) Build() (Predicate, error) {
	if b.err != nil {
		return Predicate{}, b.err
	}
	if len(b.clauses) == 0 {
		return Predicate{}, nil
	}

	var sb strings.Builder
	var args []any
	for i, c := range b.clauses {
		if i == 0 {
			sb.WriteString("WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(c.sql)
		args = append(args, c.args...)
	}
	return Predicate{Where: sb.String(), Args: args}, nil
}

// ForSlides builds the predicate for c against the slides table.
func ForSlides(c Criteria) (Predicate, error) {
	var b Builder
	b.Contains(c.Text, "text", "notes")
	b.Contains(c.Title, "deck_name")
	b.Between("deck_modified", c.TimeRange)
	return b.Build()
}

// normalizeDate accepts YYYY-MM-DD (and RFC 3339 timestamps, reduced to their
// date) and returns the date string; blank input returns "".
func normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("%q is not a YYYY-MM-DD date", s)
	}
	return t.Format(DateLayout), nil
}
