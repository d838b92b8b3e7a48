package aggregate

import (
	"fmt"
	"strings"

	"github.com/ehr/reports/internal/analytics/predicate"
)

// DimensionKind selects how a group-by label is derived from a column.
type DimensionKind string

const (
	DimColumn  DimensionKind = "column"
	DimAgeBand DimensionKind = "age_band"
	DimMonth   DimensionKind = "month"
)

// Dimension is one group-by axis.
type Dimension struct {
	Name   string        `yaml:"name"`
	Column string        `yaml:"column"`
	Kind   DimensionKind `yaml:"kind"`
}

// Expr renders the dimension as a text-valued SQL expression.
func (d Dimension) Expr() string {
	switch d.Kind {
	case DimAgeBand:
		return ageBandExpr(d.Column)
	case DimMonth:
		return fmt.Sprintf("EXTRACT(MONTH FROM %s)::int::text", d.Column)
	default:
		return d.Column + "::text"
	}
}

// AgeBand is a half-open age interval [Min, Max) in years. Max of zero means
// unbounded.
type AgeBand struct {
	Label string
	Min   int
	Max   int
}

// AgeBands returns the seven canonical age bands, youngest first.
func AgeBands() []AgeBand {
	return []AgeBand{
		{Label: "0-4", Min: 0, Max: 5},
		{Label: "5-14", Min: 5, Max: 15},
		{Label: "15-24", Min: 15, Max: 25},
		{Label: "25-34", Min: 25, Max: 35},
		{Label: "35-49", Min: 35, Max: 50},
		{Label: "50-64", Min: 50, Max: 65},
		{Label: "65+", Min: 65},
	}
}

// BandFor returns the label of the band an age falls into, or "" for a
// negative age.
func BandFor(age int) string {
	if age < 0 {
		return ""
	}
	for _, b := range AgeBands() {
		if b.Max == 0 || age < b.Max {
			return b.Label
		}
	}
	return ""
}

func ageBandExpr(col string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CASE WHEN %s IS NULL OR %s < 0 THEN NULL", col, col)
	for _, band := range AgeBands() {
		if band.Max == 0 {
			fmt.Fprintf(&b, " ELSE '%s'", band.Label)
			continue
		}
		fmt.Fprintf(&b, " WHEN %s < %d THEN '%s'", col, band.Max, band.Label)
	}
	b.WriteString(" END")
	return b.String()
}

// MetricKind names a statistic the Aggregator can compute.
type MetricKind string

const (
	Count         MetricKind = "count"
	CountDistinct MetricKind = "count_distinct"
	CountIf       MetricKind = "count_if"
	Sum           MetricKind = "sum"
	SumIf         MetricKind = "sum_if"
	Avg           MetricKind = "avg"
	WeightedAvg   MetricKind = "weighted_avg"
	AvgDuration   MetricKind = "avg_duration"
)

// Match restricts a conditional metric to rows whose column is one of Values.
type Match struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

func (m Match) clause() (string, []any) {
	args := make([]any, len(m.Values))
	for i, v := range m.Values {
		args[i] = v
	}
	return predicate.In(m.Column, len(args)), args
}

// Metric is one named statistic.
type Metric struct {
	Name   string      `yaml:"name"`
	Kind   MetricKind  `yaml:"kind"`
	Column string      `yaml:"column"`
	Weight string      `yaml:"weight"`
	Match  *Match      `yaml:"match"`
	Unit   string      `yaml:"unit"`
	Stamps *Turnaround `yaml:"-"`
}

// Validate checks that the metric carries what its kind needs.
func (m Metric) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("metric name is required")
	}
	switch m.Kind {
	case Count:
	case CountDistinct, Sum, Avg:
		if m.Column == "" {
			return fmt.Errorf("metric %s: %s requires a column", m.Name, m.Kind)
		}
	case CountIf:
		if m.Match == nil || m.Match.Column == "" || len(m.Match.Values) == 0 {
			return fmt.Errorf("metric %s: count_if requires a match", m.Name)
		}
	case SumIf:
		if m.Column == "" || m.Match == nil || m.Match.Column == "" || len(m.Match.Values) == 0 {
			return fmt.Errorf("metric %s: sum_if requires a column and a match", m.Name)
		}
	case WeightedAvg:
		if m.Column == "" || m.Weight == "" {
			return fmt.Errorf("metric %s: weighted_avg requires a column and a weight", m.Name)
		}
	case AvgDuration:
		if m.Stamps == nil {
			return fmt.Errorf("metric %s: avg_duration requires turnaround columns", m.Name)
		}
		if _, err := unitSeconds(m.Unit); err != nil {
			return fmt.Errorf("metric %s: %w", m.Name, err)
		}
	default:
		return fmt.Errorf("metric %s: unknown kind %q", m.Name, m.Kind)
	}
	return nil
}

// Expr renders the metric as a float8 SQL expression with unnumbered
// markers, returning the values those markers bind.
func (m Metric) Expr() (string, []any) {
	switch m.Kind {
	case Count:
		return "COUNT(*)::float8", nil
	case CountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)::float8", m.Column), nil
	case CountIf:
		cond, args := m.Match.clause()
		return fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)::float8", cond), args
	case Sum:
		return fmt.Sprintf("COALESCE(SUM(%s), 0)::float8", m.Column), nil
	case SumIf:
		cond, args := m.Match.clause()
		return fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN %s ELSE 0 END), 0)::float8", cond, m.Column), args
	case Avg:
		return fmt.Sprintf("AVG(%s)::float8", m.Column), nil
	case WeightedAvg:
		// NULL values drop out of both sums, so they never reach the denominator.
		return fmt.Sprintf("(SUM(%[1]s * %[2]s) / NULLIF(SUM(CASE WHEN %[1]s IS NOT NULL THEN %[2]s END), 0))::float8",
			m.Column, m.Weight), nil
	case AvgDuration:
		secs, _ := unitSeconds(m.Unit)
		return fmt.Sprintf("(AVG(EXTRACT(EPOCH FROM %s)) / %d)::float8", m.Stamps.Expr(), secs), nil
	}
	return "NULL::float8", nil
}

func unitSeconds(unit string) (int, error) {
	switch unit {
	case "", "hours":
		return 3600, nil
	case "minutes":
		return 60, nil
	case "days":
		return 86400, nil
	case "seconds":
		return 1, nil
	}
	return 0, fmt.Errorf("unknown duration unit %q", unit)
}
