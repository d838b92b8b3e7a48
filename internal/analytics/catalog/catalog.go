package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/filter"
	"github.com/ehr/reports/internal/analytics/narrative"
	"github.com/ehr/reports/internal/analytics/normalize"
	"github.com/ehr/reports/internal/analytics/percent"
	"github.com/ehr/reports/internal/analytics/predicate"
)

//go:embed default.yaml
var defaultYAML []byte

// Built-in domain names, available without declaration.
const (
	DomainAgeBand = "age_band"
	DomainMonth   = "month"
)

// Catalog is the declarative description of every report type: the row
// sources, filter dimensions, value domains, narrative rule tables and the
// sections each report is made of. A loaded Catalog is immutable.
type Catalog struct {
	Filters    []filter.Dimension `yaml:"filters"`
	Domains    []Domain           `yaml:"domains"`
	Entities   []Entity           `yaml:"entities"`
	RuleTables []narrative.Table  `yaml:"rule_tables"`
	Reports    []Report           `yaml:"reports"`

	entities   map[string]Entity
	domains    map[string]Domain
	narratives map[string]*narrative.Compiled
	reports    map[string]Report
}

// Domain declares the complete value set of a dimension: a static list of
// values, static entries with display labels, or a reference table.
type Domain struct {
	Name      string               `yaml:"name"`
	Values    []string             `yaml:"values"`
	Entries   []normalize.Entry    `yaml:"entries"`
	Reference *normalize.Reference `yaml:"reference"`
}

// Static returns the static domain; ok is false for reference domains.
func (d Domain) Static() (normalize.Domain, bool) {
	switch {
	case d.Reference != nil:
		return normalize.Domain{}, false
	case len(d.Entries) > 0:
		return normalize.Domain{Name: d.Name, Entries: append([]normalize.Entry(nil), d.Entries...)}, true
	default:
		return normalize.Static(d.Name, d.Values...), true
	}
}

// Entity is a row source with its optional turnaround timestamps.
type Entity struct {
	predicate.Entity `yaml:",inline"`
	Turnaround       *aggregate.Turnaround `yaml:"turnaround"`
}

// Report is one report type.
type Report struct {
	Type     string    `yaml:"type" json:"type"`
	Title    string    `yaml:"title" json:"title"`
	Roles    []string  `yaml:"roles" json:"roles"`
	Sections []Section `yaml:"sections" json:"-"`
}

// Section is one titled block of a report.
type Section struct {
	Title      string   `yaml:"title"`
	Tables     []Table  `yaml:"tables"`
	Listing    *Listing `yaml:"listing"`
	Facts      []Fact   `yaml:"facts"`
	Narratives []string `yaml:"narratives"`
}

// Table is one aggregate query with its normalization and derived columns.
type Table struct {
	Name     string             `yaml:"name"`
	Title    string             `yaml:"title"`
	Entity   string             `yaml:"entity"`
	GroupBy  []GroupBy          `yaml:"group_by"`
	Metrics  []aggregate.Metric `yaml:"metrics"`
	Percents []Percent          `yaml:"percents"`
	Ratios   []Ratio            `yaml:"ratios"`
}

// GroupBy is a dimension with the domain its labels are normalized against.
// Age band and month dimensions default to the built-in domains.
type GroupBy struct {
	aggregate.Dimension `yaml:",inline"`
	Domain              string `yaml:"domain"`
}

// DomainName returns the effective domain name.
func (g GroupBy) DomainName() string {
	if g.Domain != "" {
		return g.Domain
	}
	switch g.Kind {
	case aggregate.DimAgeBand:
		return DomainAgeBand
	case aggregate.DimMonth:
		return DomainMonth
	}
	return ""
}

// Percent is a percentage rule; BaseFact optionally names a fact used as the
// global denominator.
type Percent struct {
	percent.Rule `yaml:",inline"`
	BaseFact     string `yaml:"base_fact"`
}

// Ratio appends num/den as a column.
type Ratio struct {
	As  string `yaml:"as"`
	Num string `yaml:"num"`
	Den string `yaml:"den"`
}

// Listing is a per-record detail block.
type Listing struct {
	Name       string                 `yaml:"name"`
	Title      string                 `yaml:"title"`
	Entity     string                 `yaml:"entity"`
	Columns    []aggregate.ListColumn `yaml:"columns"`
	Turnaround bool                   `yaml:"turnaround"`
	Unit       string                 `yaml:"unit"`
	Limit      int                    `yaml:"limit"`
}

// FactKind selects how a fact is derived from a table.
type FactKind string

const (
	// FactRecords sets the record count narratives test for "no data", and
	// the value of the same name.
	FactRecords FactKind = "records"
	// FactValue takes a column from the first row, or from the row with Label.
	FactValue FactKind = "value"
	// FactTotal sums a column.
	FactTotal FactKind = "total"
	// FactArgmax takes the row label with the largest value of a column as a
	// label fact, and the value itself under Value when set. Ties go to the
	// first row in domain order; a column whose largest value is zero leaves
	// both unset.
	FactArgmax FactKind = "argmax"
	// FactTrend is the percent change between the first and last rows with
	// a non-zero value. Rows of a month table are taken in calendar order from
	// the start of the window; windows over twelve months leave it unset.
	FactTrend FactKind = "trend"
	// FactRatio divides two previously derived facts.
	FactRatio FactKind = "ratio"
)

// Fact derives one named narrative input.
type Fact struct {
	Name   string   `yaml:"name"`
	Kind   FactKind `yaml:"kind"`
	Table  string   `yaml:"table"`
	Column string   `yaml:"column"`
	Label  string   `yaml:"label"`
	Value  string   `yaml:"value"`
	Num    string   `yaml:"num"`
	Den    string   `yaml:"den"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Load(defaultYAML)
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Load(data)
}

// Load parses and validates a catalog document.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// Report returns a report type by name.
func (c *Catalog) Report(typ string) (Report, bool) {
	r, ok := c.reports[typ]
	return r, ok
}

// Types returns the report types in declaration order.
func (c *Catalog) Types() []Report {
	return append([]Report(nil), c.Reports...)
}

// Entity returns a row source by name.
func (c *Catalog) Entity(name string) (Entity, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Domain returns a declared or built-in domain by name.
func (c *Catalog) Domain(name string) (Domain, bool) {
	d, ok := c.domains[name]
	return d, ok
}

// Narrative returns a compiled rule table by name.
func (c *Catalog) Narrative(name string) (*narrative.Compiled, bool) {
	n, ok := c.narratives[name]
	return n, ok
}

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

func checkIdent(what, s string) error {
	if !identifier.MatchString(s) {
		return fmt.Errorf("%s %q is not a valid identifier", what, s)
	}
	return nil
}
