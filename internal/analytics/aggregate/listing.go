package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/reports/internal/analytics/predicate"
)

// ListColumn is one text column of a listing.
type ListColumn struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// Listing fetches individual records (most recent first) over a predicate
// set, computing each record's turnaround with the fallback chain.
type Listing struct {
	Name       string
	Set        *predicate.Set
	Columns    []ListColumn
	Turnaround *Turnaround
	Unit       string
	Limit      int
}

// SQL renders the listing query.
func (l Listing) SQL() (string, []any, error) {
	if l.Set == nil {
		return "", nil, fmt.Errorf("listing %s: predicate set is required", l.Name)
	}
	if len(l.Columns) == 0 {
		return "", nil, fmt.Errorf("listing %s: at least one column is required", l.Name)
	}
	if l.Limit <= 0 {
		return "", nil, fmt.Errorf("listing %s: limit must be positive", l.Name)
	}
	if _, err := unitSeconds(l.Unit); err != nil {
		return "", nil, fmt.Errorf("listing %s: %w", l.Name, err)
	}

	var cols []string
	for _, c := range l.Columns {
		cols = append(cols, fmt.Sprintf("COALESCE(%s::text, '')", c.Column))
	}
	if l.Turnaround != nil {
		cols = append(cols, l.Turnaround.Columns()...)
	}

	where, args := l.Set.Where()
	stmt := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT %s",
		strings.Join(cols, ", "), l.Set.Table(), where, l.Set.Entity().Timestamp, predicate.Marker)
	args = append(args, l.Limit)

	numbered, _ := predicate.Number(stmt)
	return numbered, args, nil
}

// RunListing executes the listing. The resulting table has one dimension per
// listed column and, when turnaround is configured, a single "turnaround"
// measure in the listing's unit (invalid when no timestamp pair is complete).
func RunListing(ctx context.Context, src Source, l Listing) (*Table, error) {
	stmt, args, err := l.SQL()
	if err != nil {
		return nil, err
	}

	rows, err := src.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s listing failed: %w", l.Name, err)
	}
	defer rows.Close()

	t := &Table{Name: l.Name, Columns: []string{}}
	for _, c := range l.Columns {
		t.Dimensions = append(t.Dimensions, c.Name)
	}
	if l.Turnaround != nil {
		t.Columns = append(t.Columns, "turnaround")
	}
	secs, _ := unitSeconds(l.Unit)

	labels := make([]string, len(l.Columns))
	var stamps [4]sql.NullTime
	dest := make([]any, 0, len(labels)+len(stamps))
	for i := range labels {
		dest = append(dest, &labels[i])
	}
	if l.Turnaround != nil {
		for i := range stamps {
			dest = append(dest, &stamps[i])
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s listing scan failed: %w", l.Name, err)
		}
		row := Row{Labels: append([]string(nil), labels...), Measures: []Measure{}}
		if l.Turnaround != nil {
			s := Stamps{
				Created:   timePtr(stamps[0]),
				Started:   timePtr(stamps[1]),
				Updated:   timePtr(stamps[2]),
				Completed: timePtr(stamps[3]),
			}
			if d, ok := s.Resolve(); ok {
				row.Measures = append(row.Measures, Value(inUnit(d, secs)))
			} else {
				row.Measures = append(row.Measures, Null())
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s listing rows failed: %w", l.Name, err)
	}
	return t, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// inUnit converts a duration to the listing unit, rounded half away from
// zero to two decimals.
func inUnit(d time.Duration, secs int) float64 {
	v, _ := decimal.NewFromFloat(d.Seconds()).
		Div(decimal.NewFromInt(int64(secs))).
		Round(2).
		Float64()
	return v
}
