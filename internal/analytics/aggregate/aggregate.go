package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ehr/reports/internal/analytics/predicate"
)

// Query is one grouped statistical computation over a predicate set.
type Query struct {
	Name    string
	Set     *predicate.Set
	GroupBy []Dimension
	Metrics []Metric
}

// SQL renders the query with numbered placeholders and its arguments. Select
// list markers come first, then the shared WHERE clause of the predicate set.
func (q Query) SQL() (string, []any, error) {
	if q.Set == nil {
		return "", nil, fmt.Errorf("query %s: predicate set is required", q.Name)
	}
	if len(q.Metrics) == 0 {
		return "", nil, fmt.Errorf("query %s: at least one metric is required", q.Name)
	}

	var (
		cols []string
		args []any
	)
	for i, d := range q.GroupBy {
		cols = append(cols, fmt.Sprintf("%s AS g%d", d.Expr(), i))
	}
	for i, m := range q.Metrics {
		if err := m.Validate(); err != nil {
			return "", nil, fmt.Errorf("query %s: %w", q.Name, err)
		}
		expr, margs := m.Expr()
		cols = append(cols, fmt.Sprintf("%s AS m%d", expr, i))
		args = append(args, margs...)
	}

	where, wargs := q.Set.Where()
	args = append(args, wargs...)

	stmt := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), q.Set.Table(), where)
	if len(q.GroupBy) > 0 {
		pos := make([]string, len(q.GroupBy))
		for i := range pos {
			pos[i] = fmt.Sprint(i + 1)
		}
		stmt += " GROUP BY " + strings.Join(pos, ", ")
	}

	numbered, n := predicate.Number(stmt)
	if n != len(args) {
		return "", nil, fmt.Errorf("query %s: %d placeholders for %d arguments", q.Name, n, len(args))
	}
	return numbered, args, nil
}

// Run executes the query and returns one raw row per group combination
// present in the filtered data. Rows are in source order, not domain order.
// The query is attempted once; errors are returned wrapped.
func Run(ctx context.Context, src Source, q Query) (*Table, error) {
	stmt, args, err := q.SQL()
	if err != nil {
		return nil, err
	}

	rows, err := src.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query failed: %w", q.Name, err)
	}
	defer rows.Close()

	t := &Table{Name: q.Name}
	for _, d := range q.GroupBy {
		t.Dimensions = append(t.Dimensions, d.Name)
	}
	for _, m := range q.Metrics {
		t.Columns = append(t.Columns, m.Name)
	}

	labels := make([]sql.NullString, len(q.GroupBy))
	values := make([]sql.NullFloat64, len(q.Metrics))
	dest := make([]any, 0, len(labels)+len(values))
	for i := range labels {
		dest = append(dest, &labels[i])
	}
	for i := range values {
		dest = append(dest, &values[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s scan failed: %w", q.Name, err)
		}
		row := Row{
			Labels:   make([]string, len(labels)),
			Measures: make([]Measure, len(values)),
		}
		for i, l := range labels {
			row.Labels[i] = l.String
		}
		for i, v := range values {
			row.Measures[i] = Measure{Value: v.Float64, Valid: v.Valid}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows failed: %w", q.Name, err)
	}
	return t, nil
}
