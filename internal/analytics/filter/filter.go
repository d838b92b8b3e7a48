package filter

import (
	"encoding/json"
	"strings"
	"time"
)

// Request parameter names for the reporting window.
const (
	ParamDateFrom = "date_from"
	ParamDateTo   = "date_to"
)

// DateLayout is the canonical calendar-date layout used in parameters and output.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"02/01/2006",
}

// Dimension declares a categorical filter and the values it accepts.
type Dimension struct {
	Name    string   `yaml:"name" json:"name"`
	Allowed []string `yaml:"allowed" json:"allowed"`
}

// Selection is one resolved categorical filter.
type Selection struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Spec is the validated set of filters for one report request.
// From and To are inclusive calendar dates and From is never after To.
type Spec struct {
	from       time.Time
	to         time.Time
	selections []Selection
}

// NewSpec builds a Spec directly, swapping the dates if they are reversed.
func NewSpec(from, to time.Time, selections ...Selection) Spec {
	from, to = dateOnly(from), dateOnly(to)
	if from.After(to) {
		from, to = to, from
	}
	s := Spec{from: from, to: to}
	for _, sel := range selections {
		if len(sel.Values) == 0 {
			continue
		}
		s.selections = append(s.selections, Selection{
			Name:   sel.Name,
			Values: append([]string(nil), sel.Values...),
		})
	}
	return s
}

// Resolve normalizes raw request parameters into a Spec.
//
// Missing or unparseable dates default to the first day of now's month and
// now's date. Reversed dates are swapped. Categorical values outside a
// dimension's allow-list are dropped; a dimension left without values is unset.
func Resolve(params map[string]string, dims []Dimension, now time.Time) Spec {
	loc := now.Location()
	defaultFrom := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	defaultTo := dateOnly(now)

	from, ok := parseDate(params[ParamDateFrom], loc)
	if !ok {
		from = defaultFrom
	}
	to, ok := parseDate(params[ParamDateTo], loc)
	if !ok {
		to = defaultTo
	}

	var selections []Selection
	for _, dim := range dims {
		raw, present := params[dim.Name]
		if !present {
			continue
		}
		if values := accept(raw, dim.Allowed); len(values) > 0 {
			selections = append(selections, Selection{Name: dim.Name, Values: values})
		}
	}

	return NewSpec(from, to, selections...)
}

// From returns the first day of the window.
func (s Spec) From() time.Time { return s.from }

// To returns the last day of the window (inclusive).
func (s Spec) To() time.Time { return s.to }

// Until returns the exclusive upper bound: the day after To.
func (s Spec) Until() time.Time { return s.to.AddDate(0, 0, 1) }

// Days returns the inclusive length of the window in days.
func (s Spec) Days() int {
	return int(s.Until().Sub(s.from).Hours()/24 + 0.5)
}

// Selections returns a copy of the resolved categorical filters in
// dimension-declaration order.
func (s Spec) Selections() []Selection {
	out := make([]Selection, len(s.selections))
	for i, sel := range s.selections {
		out[i] = Selection{Name: sel.Name, Values: append([]string(nil), sel.Values...)}
	}
	return out
}

// Values returns the accepted values for a dimension, or nil when unset.
func (s Spec) Values(name string) []string {
	for _, sel := range s.selections {
		if sel.Name == name {
			return append([]string(nil), sel.Values...)
		}
	}
	return nil
}

// Pin returns a copy of the Spec with the named dimension forced to a single
// value, replacing whatever the request asked for.
func (s Spec) Pin(name, value string) Spec {
	out := Spec{from: s.from, to: s.to}
	pinned := false
	for _, sel := range s.Selections() {
		if sel.Name == name {
			sel.Values = []string{value}
			pinned = true
		}
		out.selections = append(out.selections, sel)
	}
	if !pinned {
		out.selections = append(out.selections, Selection{Name: name, Values: []string{value}})
	}
	return out
}

// MarshalJSON renders the effective filter for report consumers.
func (s Spec) MarshalJSON() ([]byte, error) {
	filters := s.Selections()
	if filters == nil {
		filters = []Selection{}
	}
	return json.Marshal(struct {
		DateFrom string      `json:"date_from"`
		DateTo   string      `json:"date_to"`
		Days     int         `json:"days"`
		Filters  []Selection `json:"filters"`
	}{
		DateFrom: s.from.Format(DateLayout),
		DateTo:   s.to.Format(DateLayout),
		Days:     s.Days(),
		Filters:  filters,
	})
}

func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// accept splits a comma-separated parameter and keeps the values found in the
// allow-list, using the allow-list spelling and dropping duplicates.
func accept(raw string, allowed []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, a := range allowed {
			if strings.EqualFold(a, part) && !seen[a] {
				seen[a] = true
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
