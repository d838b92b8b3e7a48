package predicate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/reports/internal/analytics/filter"
)

// Marker is the unnumbered placeholder used inside condition templates.
// Number replaces each occurrence with $1, $2, ... in textual order.
const Marker = "$%d"

// Entity describes a row source: its table, the timestamp column that the
// reporting window applies to, and the column each filter maps onto.
type Entity struct {
	Name      string            `yaml:"name" json:"name"`
	Table     string            `yaml:"table" json:"table"`
	Timestamp string            `yaml:"timestamp" json:"timestamp"`
	Columns   map[string]string `yaml:"filters" json:"filters"`
}

// Condition is one row-level predicate with the values it binds.
type Condition struct {
	Clause string
	Args   []any
}

// Set is the ordered predicate list for one entity. A Set is built once per
// entity per report and shared verbatim by every query against that entity.
type Set struct {
	entity     Entity
	conditions []Condition
}

// Build translates a filter.Spec into the predicate set for an entity. The
// date predicate is always first; categorical filters follow in selection
// order. Filters the entity does not map are skipped.
func Build(spec filter.Spec, entity Entity) *Set {
	s := &Set{entity: entity}

	s.add(
		fmt.Sprintf("%[1]s >= %[2]s AND %[1]s < %[2]s", entity.Timestamp, Marker),
		spec.From(), spec.Until(),
	)

	for _, sel := range spec.Selections() {
		col, ok := entity.Columns[sel.Name]
		if !ok || len(sel.Values) == 0 {
			continue
		}
		args := make([]any, len(sel.Values))
		for i, v := range sel.Values {
			args[i] = v
		}
		s.add(In(col, len(args)), args...)
	}

	return s
}

func (s *Set) add(clause string, args ...any) {
	s.conditions = append(s.conditions, Condition{Clause: clause, Args: args})
}

// Entity returns the entity the set was built for.
func (s *Set) Entity() Entity { return s.entity }

// Table returns the entity's table.
func (s *Set) Table() string { return s.entity.Table }

// Conditions returns a copy of the ordered conditions.
func (s *Set) Conditions() []Condition {
	out := make([]Condition, len(s.conditions))
	for i, c := range s.conditions {
		out[i] = Condition{Clause: c.Clause, Args: append([]any(nil), c.Args...)}
	}
	return out
}

// Args returns the shared bound parameters in condition order.
func (s *Set) Args() []any {
	var args []any
	for _, c := range s.conditions {
		args = append(args, c.Args...)
	}
	return args
}

// Where returns the WHERE clause with unnumbered markers and its arguments.
func (s *Set) Where() (string, []any) {
	if len(s.conditions) == 0 {
		return "", nil
	}
	clauses := make([]string, len(s.conditions))
	for i, c := range s.conditions {
		clauses[i] = c.Clause
	}
	return " WHERE " + strings.Join(clauses, " AND "), s.Args()
}

// Fingerprint is a stable description of the filtered universe. Two queries
// whose sets share a fingerprint are computed over identical rows.
func (s *Set) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.entity.Table)
	for _, c := range s.conditions {
		b.WriteString("|")
		b.WriteString(c.Clause)
		for _, a := range c.Args {
			b.WriteString(";")
			switch v := a.(type) {
			case time.Time:
				b.WriteString(v.Format(time.RFC3339))
			default:
				fmt.Fprint(&b, v)
			}
		}
	}
	return b.String()
}

// In renders "col = marker" for one value or "col IN (marker, ...)" for several.
func In(col string, n int) string {
	if n == 1 {
		return col + " = " + Marker
	}
	markers := make([]string, n)
	for i := range markers {
		markers[i] = Marker
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(markers, ", "))
}

// Number replaces markers with positional placeholders starting at $1 and
// returns the rendered SQL with the count of placeholders written.
func Number(sql string) (string, int) {
	var b strings.Builder
	n := 0
	for {
		i := strings.Index(sql, Marker)
		if i < 0 {
			b.WriteString(sql)
			return b.String(), n
		}
		n++
		b.WriteString(sql[:i])
		fmt.Fprintf(&b, "$%d", n)
		sql = sql[i+len(Marker):]
	}
}
