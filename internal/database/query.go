package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/micronews/internal/model"
)

const articleColumns = "id, title, author, content, category, date, timestamp, views, tags"

// dialect captures the differences between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	// dateExpr compares dates byte-wise.
	dateExpr string
	// explicitNulls makes NULLs sort as the smallest value, as in SQLite.
	explicitNulls bool
	timeArg       func(t time.Time) any
}

// buildSelect renders q as a SELECT over the articles table.
func buildSelect(d dialect, q Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if q.Category != "" {
		where = append(where, "category = "+arg(q.Category))
	}
	if q.DateBefore != nil {
		where = append(where, d.dateExpr+" < "+arg(*q.DateBefore))
	}
	if q.DateAfter != nil {
		where = append(where, d.dateExpr+" > "+arg(*q.DateAfter))
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= "+arg(d.timeArg(q.Since)))
	}

	query := "SELECT " + articleColumns + " FROM articles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order := make([]string, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		var expr string
		switch o.Field {
		case model.FieldDate:
			expr = d.dateExpr
		case model.FieldViews:
			expr = "COALESCE(views, 0)"
		case model.FieldTimestamp:
			expr = "timestamp"
		}
		order = append(order, expr+direction(d, o.Desc))
	}
	order = append(order, "id"+direction(d, q.tieBreakDesc()))
	query += " ORDER BY " + strings.Join(order, ", ")

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args, nil
}

func direction(d dialect, desc bool) string {
	switch {
	case desc && d.explicitNulls:
		return " DESC NULLS LAST"
	case desc:
		return " DESC"
	case d.explicitNulls:
		return " ASC NULLS FIRST"
	default:
		return " ASC"
	}
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
