package aggregate

import (
	"encoding/json"
	"fmt"
)

// Measure is one numeric cell. An invalid measure has no value (a NULL
// average, a ratio with a zero denominator) and renders as JSON null.
type Measure struct {
	Value float64
	Valid bool
}

// Value returns a valid measure.
func Value(v float64) Measure { return Measure{Value: v, Valid: true} }

// Null returns an invalid measure.
func Null() Measure { return Measure{} }

// Or returns the measure's value, or def when it is invalid.
func (m Measure) Or(def float64) float64 {
	if !m.Valid {
		return def
	}
	return m.Value
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Null()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Value(v)
	return nil
}

// Row is one metric row: a label per group-by dimension and a measure per column.
type Row struct {
	Labels   []string  `json:"labels"`
	Measures []Measure `json:"measures"`
}

// Label returns the innermost label, or "" for an ungrouped row.
func (r Row) Label() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[len(r.Labels)-1]
}

// Table is a named set of metric rows sharing dimensions and columns.
type Table struct {
	Name       string   `json:"name"`
	Title      string   `json:"title,omitempty"`
	Dimensions []string `json:"dimensions"`
	Columns    []string `json:"columns"`
	Rows       []Row    `json:"rows"`
}

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Measure returns a row's measure for a column. Unknown columns and rows
// yield an invalid measure.
func (t *Table) Measure(row int, column string) Measure {
	i := t.Index(column)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row].Measures) {
		return Null()
	}
	return t.Rows[row].Measures[i]
}

// Find returns the index of the first row whose innermost label matches, or -1.
func (t *Table) Find(label string) int {
	for i, r := range t.Rows {
		if r.Label() == label {
			return i
		}
	}
	return -1
}

// Total sums the valid values of a column.
func (t *Table) Total(column string) float64 {
	i := t.Index(column)
	if i < 0 {
		return 0
	}
	var sum float64
	for _, r := range t.Rows {
		if i < len(r.Measures) && r.Measures[i].Valid {
			sum += r.Measures[i].Value
		}
	}
	return sum
}

// AddColumn appends a column, one measure per row.
func (t *Table) AddColumn(name string, values []Measure) error {
	if t.Index(name) >= 0 {
		return fmt.Errorf("table %s: column %s already exists", t.Name, name)
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("table %s: column %s has %d values for %d rows", t.Name, name, len(values), len(t.Rows))
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i].Measures = append(t.Rows[i].Measures, values[i])
	}
	return nil
}

// ZeroRow returns a row with the given labels and every measure at zero.
func (t *Table) ZeroRow(labels ...string) Row {
	measures := make([]Measure, len(t.Columns))
	for i := range measures {
		measures[i] = Value(0)
	}
	return Row{Labels: labels, Measures: measures}
}
