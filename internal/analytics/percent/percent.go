package percent

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ehr/reports/internal/analytics/aggregate"
)

// Kind selects the denominator of a percentage column.
type Kind string

const (
	// Global divides every row by the column total.
	Global Kind = "global"
	// Group divides every row by the total of the rows sharing its outer label.
	Group Kind = "group"
	// Subset divides rows in a named label subset by the subset total; rows
	// outside the subset get no value.
	Subset Kind = "subset"
	// Column divides one column by another within each row.
	Column Kind = "column"
)

// Rule appends a percentage column to a table.
type Rule struct {
	Kind   Kind     `yaml:"kind"`
	Of     string   `yaml:"of"`
	Over   string   `yaml:"over"`
	Subset []string `yaml:"subset"`
	As     string   `yaml:"as"`

	// Base overrides the Global denominator, e.g. with a summary total.
	Base *float64 `yaml:"-"`
}

// Validate checks that the rule carries what its kind needs.
func (r Rule) Validate() error {
	if r.Of == "" || r.As == "" {
		return fmt.Errorf("percent rule: of and as are required")
	}
	switch r.Kind {
	case Global, Group:
	case Subset:
		if len(r.Subset) == 0 {
			return fmt.Errorf("percent rule %s: subset requires labels", r.As)
		}
	case Column:
		if r.Over == "" {
			return fmt.Errorf("percent rule %s: column requires over", r.As)
		}
	default:
		return fmt.Errorf("percent rule %s: unknown kind %q", r.As, r.Kind)
	}
	return nil
}

// Percent returns part/whole*100 rounded half away from zero to two decimals.
// A zero denominator yields exactly 0.
func Percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	v, _ := decimal.NewFromFloat(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(whole)).
		Round(2).
		Float64()
	return v
}

// Ratio returns a/b rounded to two decimals. The result is invalid (not
// applicable) unless b is positive.
func Ratio(a, b float64) aggregate.Measure {
	if b <= 0 {
		return aggregate.Null()
	}
	v, _ := decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)).Round(2).Float64()
	return aggregate.Value(v)
}

// Apply computes the rule over t and appends the result as column r.As.
func Apply(t *aggregate.Table, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	of := t.Index(r.Of)
	if of < 0 {
		return fmt.Errorf("percent rule %s: table %s has no column %s", r.As, t.Name, r.Of)
	}

	values := make([]aggregate.Measure, len(t.Rows))
	switch r.Kind {
	case Global:
		whole := t.Total(r.Of)
		if r.Base != nil {
			whole = *r.Base
		}
		for i, row := range t.Rows {
			values[i] = share(row.Measures[of], whole)
		}

	case Group:
		totals := map[string]float64{}
		for _, row := range t.Rows {
			totals[outer(row)] += row.Measures[of].Or(0)
		}
		for i, row := range t.Rows {
			values[i] = share(row.Measures[of], totals[outer(row)])
		}

	case Subset:
		in := make(map[string]bool, len(r.Subset))
		for _, l := range r.Subset {
			in[l] = true
		}
		var whole float64
		for _, row := range t.Rows {
			if in[row.Label()] {
				whole += row.Measures[of].Or(0)
			}
		}
		for i, row := range t.Rows {
			if !in[row.Label()] {
				values[i] = aggregate.Null()
				continue
			}
			values[i] = share(row.Measures[of], whole)
		}

	case Column:
		over := t.Index(r.Over)
		if over < 0 {
			return fmt.Errorf("percent rule %s: table %s has no column %s", r.As, t.Name, r.Over)
		}
		for i, row := range t.Rows {
			values[i] = share(row.Measures[of], row.Measures[over].Or(0))
		}
	}

	return t.AddColumn(r.As, values)
}

// ApplyRatio appends column as = num/den per row.
func ApplyRatio(t *aggregate.Table, as, num, den string) error {
	n, d := t.Index(num), t.Index(den)
	if n < 0 || d < 0 {
		return fmt.Errorf("ratio %s: table %s needs columns %s and %s", as, t.Name, num, den)
	}
	values := make([]aggregate.Measure, len(t.Rows))
	for i, row := range t.Rows {
		if !row.Measures[n].Valid || !row.Measures[d].Valid {
			values[i] = aggregate.Null()
			continue
		}
		values[i] = Ratio(row.Measures[n].Value, row.Measures[d].Value)
	}
	return t.AddColumn(as, values)
}

func share(part aggregate.Measure, whole float64) aggregate.Measure {
	if !part.Valid {
		return aggregate.Null()
	}
	return aggregate.Value(Percent(part.Value, whole))
}

func outer(row aggregate.Row) string {
	if len(row.Labels) == 0 {
		return ""
	}
	return row.Labels[0]
}
