package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/catalog"
	"github.com/ehr/reports/internal/analytics/filter"
	"github.com/ehr/reports/internal/analytics/narrative"
	"github.com/ehr/reports/internal/analytics/normalize"
)

func monthTable(counts map[time.Month]float64) *aggregate.Table {
	t := &aggregate.Table{Name: "by_month", Dimensions: []string{"month"}, Columns: []string{"total"}}
	for _, label := range normalize.Months().Labels() {
		v := 0.0
		for m, c := range counts {
			if m.String() == label {
				v = c
			}
		}
		t.Rows = append(t.Rows, aggregate.Row{Labels: []string{label}, Measures: []aggregate.Measure{aggregate.Value(v)}})
	}
	return t
}

func newFactGeneration(from, to time.Time, tables map[string]*aggregate.Table, monthly ...string) *generation {
	g := &generation{
		filter:  filter.NewSpec(from, to),
		tables:  tables,
		monthly: map[string]bool{},
		facts:   narrative.Facts{Values: map[string]float64{}, Labels: map[string]string{}},
	}
	for _, name := range monthly {
		g.monthly[name] = true
	}
	return g
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTrend_AcrossYearBoundary(t *testing.T) {
	tbl := monthTable(map[time.Month]float64{time.November: 100, time.December: 100, time.January: 10, time.February: 10})
	g := newFactGeneration(date(2023, 11, 1), date(2024, 2, 29), map[string]*aggregate.Table{"by_month": tbl}, "by_month")

	g.derive(catalog.Fact{Name: "monthly_change", Kind: catalog.FactTrend, Table: "by_month", Column: "total"})

	require.Contains(t, g.facts.Values, "monthly_change")
	assert.Equal(t, -90.0, g.facts.Values["monthly_change"])
	assert.Equal(t, "January", tbl.Rows[0].Label(), "table keeps domain order")
}

func TestTrend_WithinOneYear(t *testing.T) {
	tbl := monthTable(map[time.Month]float64{time.March: 40, time.May: 50})
	g := newFactGeneration(date(2024, 3, 1), date(2024, 5, 31), map[string]*aggregate.Table{"by_month": tbl}, "by_month")

	g.derive(catalog.Fact{Name: "monthly_change", Kind: catalog.FactTrend, Table: "by_month", Column: "total"})

	assert.Equal(t, 25.0, g.facts.Values["monthly_change"])
}

func TestTrend_WindowOverTwelveMonthsIsUnset(t *testing.T) {
	tbl := monthTable(map[time.Month]float64{time.January: 10, time.June: 20})
	g := newFactGeneration(date(2023, 1, 15), date(2024, 1, 10), map[string]*aggregate.Table{"by_month": tbl}, "by_month")

	g.derive(catalog.Fact{Name: "monthly_change", Kind: catalog.FactTrend, Table: "by_month", Column: "total"})

	assert.NotContains(t, g.facts.Values, "monthly_change")
}

func TestTrend_NonMonthTableUsesRowOrder(t *testing.T) {
	tbl := &aggregate.Table{Name: "by_week", Columns: []string{"total"}, Rows: []aggregate.Row{
		{Labels: []string{"w1"}, Measures: []aggregate.Measure{aggregate.Value(10)}},
		{Labels: []string{"w2"}, Measures: []aggregate.Measure{aggregate.Value(15)}},
	}}
	g := newFactGeneration(date(2023, 1, 1), date(2024, 6, 1), map[string]*aggregate.Table{"by_week": tbl})

	g.derive(catalog.Fact{Name: "change", Kind: catalog.FactTrend, Table: "by_week", Column: "total"})

	assert.Equal(t, 50.0, g.facts.Values["change"])
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name      string
		values    []float64
		wantLabel string
		wantSet   bool
	}{
		{"leader", []float64{5, 30, 30}, "5-14", true},
		{"all zero", []float64{0, 0, 0}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := &aggregate.Table{Name: "by_age", Columns: []string{"percentage"}}
			for i, v := range tt.values {
				tbl.Rows = append(tbl.Rows, aggregate.Row{
					Labels:   []string{[]string{"0-4", "5-14", "15-24"}[i]},
					Measures: []aggregate.Measure{aggregate.Value(v)},
				})
			}
			g := newFactGeneration(date(2024, 1, 1), date(2024, 1, 31), map[string]*aggregate.Table{"by_age": tbl})
			g.facts.Records = 4

			g.derive(catalog.Fact{Name: "top_age_group", Kind: catalog.FactArgmax, Table: "by_age", Column: "percentage", Value: "top_age_share"})

			label, ok := g.facts.Labels["top_age_group"]
			assert.Equal(t, tt.wantSet, ok)
			assert.Equal(t, tt.wantLabel, label)
			_, ok = g.facts.Values["top_age_share"]
			assert.Equal(t, tt.wantSet, ok)
		})
	}
}
