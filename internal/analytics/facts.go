package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/catalog"
	"github.com/ehr/reports/internal/analytics/percent"
)

// derive adds one fact to the generation. A fact whose source value is not
// available (an invalid measure, a missing row) is left unset, which rule
// tables can test with the absent operator.
func (g *generation) derive(f catalog.Fact) {
	if f.Kind == catalog.FactRatio {
		num, okNum := g.facts.Values[f.Num]
		den, okDen := g.facts.Values[f.Den]
		if !okNum || !okDen {
			return
		}
		if m := percent.Ratio(num, den); m.Valid {
			g.facts.Values[f.Name] = m.Value
		}
		return
	}

	t, ok := g.tables[f.Table]
	if !ok {
		return
	}

	switch f.Kind {
	case catalog.FactRecords:
		total := t.Total(f.Column)
		g.facts.Records = int(total)
		g.facts.Values[f.Name] = total

	case catalog.FactValue:
		row := 0
		if f.Label != "" {
			row = t.Find(f.Label)
		}
		if m := t.Measure(row, f.Column); m.Valid {
			g.facts.Values[f.Name] = m.Value
		}

	case catalog.FactTotal:
		g.facts.Values[f.Name] = t.Total(f.Column)

	case catalog.FactArgmax:
		if label, v, ok := argmax(t, f.Column); ok {
			g.facts.Labels[f.Name] = label
			if f.Value != "" {
				g.facts.Values[f.Value] = v
			}
		}

	case catalog.FactTrend:
		order, ok := g.chronology(f.Table, t)
		if !ok {
			return
		}
		g.facts.Values[f.Name] = trend(t, f.Column, order)
	}
}

// chronology returns the row order a trend follows. Month tables are in
// January to December order, so they are rotated to start at the first month
// of the window. A window longer than twelve months folds several years into
// one month row and has no chronology.
func (g *generation) chronology(name string, t *aggregate.Table) ([]int, bool) {
	order := make([]int, len(t.Rows))
	for i := range order {
		order[i] = i
	}
	if !g.monthly[name] {
		return order, true
	}

	from, to := g.filter.From(), g.filter.To()
	if (to.Year()-from.Year())*12+int(to.Month())-int(from.Month()) >= 12 {
		return nil, false
	}
	pos := func(row int) int {
		m, ok := monthOf(t.Rows[row].Label())
		if !ok {
			return 12
		}
		return (int(m) - int(from.Month()) + 12) % 12
	}
	sort.SliceStable(order, func(a, b int) bool { return pos(order[a]) < pos(order[b]) })
	return order, true
}

func monthOf(label string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if m.String() == label {
			return m, true
		}
	}
	return 0, false
}

// argmax returns the label of the row with the largest valid value. The
// first row wins ties, so domain order decides. A column whose largest value
// is zero has no leader.
func argmax(t *aggregate.Table, column string) (string, float64, bool) {
	best, found := 0.0, -1
	for i := range t.Rows {
		m := t.Measure(i, column)
		if !m.Valid {
			continue
		}
		if found < 0 || m.Value > best {
			best, found = m.Value, i
		}
	}
	if found < 0 || best == 0 {
		return "", 0, false
	}
	return strings.Join(t.Rows[found].Labels, " / "), best, true
}

// trend is the percent change from the first to the last row with a non-zero
// value, visiting rows in order. Fewer than two such rows is no change.
func trend(t *aggregate.Table, column string, order []int) float64 {
	first, last := -1, -1
	for _, i := range order {
		if m := t.Measure(i, column); m.Valid && m.Value != 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 || first == last {
		return 0
	}
	a := t.Measure(first, column).Value
	b := t.Measure(last, column).Value
	return percent.Percent(b-a, a)
}
