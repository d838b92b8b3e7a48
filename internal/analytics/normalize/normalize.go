package normalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/reports/internal/analytics/aggregate"
)

// Entry is one domain member. Key is matched against raw group labels; Label
// is what the normalized row carries.
type Entry struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
}

// Domain is the ordered, complete set of values a dimension can take.
type Domain struct {
	Name    string
	Entries []Entry
}

// Static builds a domain whose keys and labels are the same strings.
func Static(name string, values ...string) Domain {
	d := Domain{Name: name}
	for _, v := range values {
		d.Entries = append(d.Entries, Entry{Key: v, Label: v})
	}
	return d
}

// AgeBands is the canonical age band domain, youngest first.
func AgeBands() Domain {
	d := Domain{Name: "age_band"}
	for _, b := range aggregate.AgeBands() {
		d.Entries = append(d.Entries, Entry{Key: b.Label, Label: b.Label})
	}
	return d
}

// Months is the calendar month domain. Keys are month numbers as produced by
// a month dimension ("1".."12"); labels are month names.
func Months() Domain {
	d := Domain{Name: "month"}
	for m := time.January; m <= time.December; m++ {
		d.Entries = append(d.Entries, Entry{Key: strconv.Itoa(int(m)), Label: m.String()})
	}
	return d
}

// Labels returns the entry labels in domain order.
func (d Domain) Labels() []string {
	out := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = e.Label
	}
	return out
}

// Validate rejects empty keys and duplicate keys.
func (d Domain) Validate() error {
	seen := make(map[string]bool, len(d.Entries))
	for _, e := range d.Entries {
		if e.Key == "" {
			return fmt.Errorf("domain %s: empty key", d.Name)
		}
		if seen[e.Key] {
			return fmt.Errorf("domain %s: duplicate key %q", d.Name, e.Key)
		}
		seen[e.Key] = true
	}
	return nil
}

func (d Domain) index() map[string]int {
	idx := make(map[string]int, len(d.Entries))
	for i, e := range d.Entries {
		idx[e.Key] = i
	}
	return idx
}

// Reference describes a domain read from a reference table, such as the list
// of registered facilities. Values come back in the order of OrderBy (the
// value column when empty).
type Reference struct {
	Name    string `yaml:"name"`
	Table   string `yaml:"table"`
	Column  string `yaml:"column"`
	OrderBy string `yaml:"order_by"`
}

// SQL renders the reference query.
func (r Reference) SQL() string {
	order := r.OrderBy
	if order == "" {
		order = r.Column
	}
	return fmt.Sprintf("SELECT %[1]s::text FROM %[2]s WHERE %[1]s IS NOT NULL GROUP BY %[1]s ORDER BY MIN(%[3]s)",
		r.Column, r.Table, order)
}

// Load reads a reference domain from the source.
func Load(ctx context.Context, src aggregate.Source, r Reference) (Domain, error) {
	rows, err := src.Query(ctx, r.SQL())
	if err != nil {
		return Domain{}, fmt.Errorf("domain %s query failed: %w", r.Name, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return Domain{}, fmt.Errorf("domain %s scan failed: %w", r.Name, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return Domain{}, fmt.Errorf("domain %s rows failed: %w", r.Name, err)
	}
	return Static(r.Name, values...), nil
}

// Fill returns a table with exactly one row per domain tuple, in domain
// order, outer domain first. Tuples with no raw row get a row whose measures
// are all zero. Raw rows with a label outside its domain (including NULL
// labels) are dropped; the count of dropped rows is returned.
//
// An ungrouped table with no rows gets a single zero row.
func Fill(t *aggregate.Table, domains ...Domain) (*aggregate.Table, int, error) {
	if len(domains) != len(t.Dimensions) {
		return nil, 0, fmt.Errorf("table %s: %d domains for %d dimensions", t.Name, len(domains), len(t.Dimensions))
	}

	out := &aggregate.Table{
		Name:       t.Name,
		Title:      t.Title,
		Dimensions: append([]string(nil), t.Dimensions...),
		Columns:    append([]string(nil), t.Columns...),
	}

	if len(domains) == 0 {
		for _, r := range t.Rows {
			out.Rows = append(out.Rows, copyRow(r))
		}
		if len(out.Rows) == 0 {
			out.Rows = append(out.Rows, out.ZeroRow())
		}
		return out, 0, nil
	}

	indexes := make([]map[string]int, len(domains))
	for i, d := range domains {
		indexes[i] = d.index()
	}

	present := make(map[string]aggregate.Row, len(t.Rows))
	dropped := 0
	for _, r := range t.Rows {
		key, ok := tupleKey(r.Labels, indexes)
		if !ok {
			dropped++
			continue
		}
		if _, dup := present[key]; dup {
			dropped++
			continue
		}
		present[key] = r
	}

	pos := make([]int, len(domains))
	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(domains) {
			labels := make([]string, len(domains))
			for i, p := range pos {
				labels[i] = domains[i].Entries[p].Label
			}
			if r, ok := present[positionKey(pos)]; ok {
				row := copyRow(r)
				row.Labels = labels
				out.Rows = append(out.Rows, row)
				return
			}
			out.Rows = append(out.Rows, out.ZeroRow(labels...))
			return
		}
		for i := range domains[depth].Entries {
			pos[depth] = i
			walk(depth + 1)
		}
	}
	walk(0)

	return out, dropped, nil
}

func tupleKey(labels []string, indexes []map[string]int) (string, bool) {
	if len(labels) != len(indexes) {
		return "", false
	}
	pos := make([]int, len(labels))
	for i, l := range labels {
		p, ok := indexes[i][strings.TrimSpace(l)]
		if !ok {
			return "", false
		}
		pos[i] = p
	}
	return positionKey(pos), true
}

func positionKey(pos []int) string {
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, "/")
}

func copyRow(r aggregate.Row) aggregate.Row {
	return aggregate.Row{
		Labels:   append([]string(nil), r.Labels...),
		Measures: append([]aggregate.Measure(nil), r.Measures...),
	}
}
