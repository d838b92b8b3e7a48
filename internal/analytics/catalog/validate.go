package catalog

import (
	"fmt"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/narrative"
	"github.com/ehr/reports/internal/analytics/normalize"
)

func (c *Catalog) validate() error {
	filters := map[string]bool{}
	for _, f := range c.Filters {
		if f.Name == "" || len(f.Allowed) == 0 {
			return fmt.Errorf("filter %q: name and allowed values are required", f.Name)
		}
		if filters[f.Name] {
			return fmt.Errorf("filter %s declared twice", f.Name)
		}
		filters[f.Name] = true
	}

	c.domains = map[string]Domain{
		DomainAgeBand: {Name: DomainAgeBand, Entries: normalize.AgeBands().Entries},
		DomainMonth:   {Name: DomainMonth, Entries: normalize.Months().Entries},
	}
	for _, d := range c.Domains {
		if err := validateDomain(d); err != nil {
			return err
		}
		if _, dup := c.domains[d.Name]; dup {
			return fmt.Errorf("domain %s declared twice", d.Name)
		}
		if d.Reference != nil {
			d.Reference.Name = d.Name
		}
		c.domains[d.Name] = d
	}

	c.entities = map[string]Entity{}
	for _, e := range c.Entities {
		if err := validateEntity(e, filters); err != nil {
			return err
		}
		if _, dup := c.entities[e.Name]; dup {
			return fmt.Errorf("entity %s declared twice", e.Name)
		}
		c.entities[e.Name] = e
	}

	c.narratives = map[string]*narrative.Compiled{}
	for _, t := range c.RuleTables {
		compiled, err := t.Compile()
		if err != nil {
			return err
		}
		if _, dup := c.narratives[t.Name]; dup {
			return fmt.Errorf("rule table %s declared twice", t.Name)
		}
		c.narratives[t.Name] = compiled
	}

	c.reports = map[string]Report{}
	for _, r := range c.Reports {
		if err := c.validateReport(r); err != nil {
			return fmt.Errorf("report %s: %w", r.Type, err)
		}
		if _, dup := c.reports[r.Type]; dup {
			return fmt.Errorf("report %s declared twice", r.Type)
		}
		c.reports[r.Type] = r
	}
	if len(c.reports) == 0 {
		return fmt.Errorf("no reports declared")
	}
	return nil
}

func validateDomain(d Domain) error {
	if d.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	kinds := 0
	if len(d.Values) > 0 {
		kinds++
	}
	if len(d.Entries) > 0 {
		kinds++
	}
	if d.Reference != nil {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("domain %s: exactly one of values, entries or reference is required", d.Name)
	}
	if d.Reference != nil {
		if err := checkIdent("domain "+d.Name+" table", d.Reference.Table); err != nil {
			return err
		}
		if err := checkIdent("domain "+d.Name+" column", d.Reference.Column); err != nil {
			return err
		}
		if d.Reference.OrderBy != "" {
			if err := checkIdent("domain "+d.Name+" order_by", d.Reference.OrderBy); err != nil {
				return err
			}
		}
		return nil
	}
	static, _ := d.Static()
	return static.Validate()
}

func validateEntity(e Entity, filters map[string]bool) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if err := checkIdent("entity "+e.Name+" table", e.Table); err != nil {
		return err
	}
	if err := checkIdent("entity "+e.Name+" timestamp", e.Timestamp); err != nil {
		return err
	}
	for f, col := range e.Columns {
		if !filters[f] {
			return fmt.Errorf("entity %s: unknown filter %s", e.Name, f)
		}
		if err := checkIdent("entity "+e.Name+" column", col); err != nil {
			return err
		}
	}
	if t := e.Turnaround; t != nil {
		for _, col := range t.Columns() {
			if err := checkIdent("entity "+e.Name+" turnaround column", col); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Catalog) validateReport(r Report) error {
	if r.Type == "" || r.Title == "" {
		return fmt.Errorf("type and title are required")
	}
	if len(r.Sections) == 0 {
		return fmt.Errorf("no sections")
	}

	tables := map[string]map[string]bool{}
	facts := map[string]bool{}
	for _, s := range r.Sections {
		if s.Title == "" {
			return fmt.Errorf("section title is required")
		}
		for _, t := range s.Tables {
			cols, err := c.validateTable(t, facts)
			if err != nil {
				return err
			}
			if _, dup := tables[t.Name]; dup {
				return fmt.Errorf("table %s declared twice", t.Name)
			}
			tables[t.Name] = cols
		}
		if l := s.Listing; l != nil {
			cols, err := c.validateListing(*l)
			if err != nil {
				return err
			}
			if _, dup := tables[l.Name]; dup {
				return fmt.Errorf("table %s declared twice", l.Name)
			}
			tables[l.Name] = cols
		}
		for _, f := range s.Facts {
			if err := validateFact(f, tables, facts); err != nil {
				return err
			}
			facts[f.Name] = true
			if f.Value != "" {
				facts[f.Value] = true
			}
		}
		for _, n := range s.Narratives {
			if _, ok := c.narratives[n]; !ok {
				return fmt.Errorf("section %s: unknown rule table %s", s.Title, n)
			}
		}
	}
	return nil
}

func (c *Catalog) validateTable(t Table, facts map[string]bool) (map[string]bool, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	e, ok := c.entities[t.Entity]
	if !ok {
		return nil, fmt.Errorf("table %s: unknown entity %q", t.Name, t.Entity)
	}
	if len(t.Metrics) == 0 {
		return nil, fmt.Errorf("table %s: no metrics", t.Name)
	}

	for _, g := range t.GroupBy {
		if g.Name == "" {
			return nil, fmt.Errorf("table %s: group_by name is required", t.Name)
		}
		if err := checkIdent("table "+t.Name+" group_by column", g.Column); err != nil {
			return nil, err
		}
		switch g.Kind {
		case "", aggregate.DimColumn, aggregate.DimAgeBand, aggregate.DimMonth:
		default:
			return nil, fmt.Errorf("table %s: unknown dimension kind %q", t.Name, g.Kind)
		}
		if _, ok := c.domains[g.DomainName()]; !ok {
			return nil, fmt.Errorf("table %s: dimension %s has unknown domain %q", t.Name, g.Name, g.DomainName())
		}
	}

	cols := map[string]bool{}
	for _, m := range t.Metrics {
		if m.Kind == aggregate.AvgDuration {
			if e.Turnaround == nil {
				return nil, fmt.Errorf("table %s: entity %s has no turnaround columns", t.Name, e.Name)
			}
			m.Stamps = e.Turnaround
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		for _, col := range []string{m.Column, m.Weight} {
			if col == "" {
				continue
			}
			if err := checkIdent("table "+t.Name+" metric column", col); err != nil {
				return nil, err
			}
		}
		if m.Match != nil {
			if err := checkIdent("table "+t.Name+" match column", m.Match.Column); err != nil {
				return nil, err
			}
		}
		if cols[m.Name] {
			return nil, fmt.Errorf("table %s: column %s declared twice", t.Name, m.Name)
		}
		cols[m.Name] = true
	}

	for _, p := range t.Percents {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		if !cols[p.Of] || (p.Over != "" && !cols[p.Over]) {
			return nil, fmt.Errorf("table %s: percent %s references an unknown column", t.Name, p.As)
		}
		if p.BaseFact != "" && !facts[p.BaseFact] {
			return nil, fmt.Errorf("table %s: percent %s: unknown base fact %s", t.Name, p.As, p.BaseFact)
		}
		if cols[p.As] {
			return nil, fmt.Errorf("table %s: column %s declared twice", t.Name, p.As)
		}
		cols[p.As] = true
	}
	for _, r := range t.Ratios {
		if r.As == "" || !cols[r.Num] || !cols[r.Den] {
			return nil, fmt.Errorf("table %s: ratio %q references an unknown column", t.Name, r.As)
		}
		if cols[r.As] {
			return nil, fmt.Errorf("table %s: column %s declared twice", t.Name, r.As)
		}
		cols[r.As] = true
	}
	return cols, nil
}

func (c *Catalog) validateListing(l Listing) (map[string]bool, error) {
	if l.Name == "" {
		return nil, fmt.Errorf("listing name is required")
	}
	e, ok := c.entities[l.Entity]
	if !ok {
		return nil, fmt.Errorf("listing %s: unknown entity %q", l.Name, l.Entity)
	}
	if len(l.Columns) == 0 {
		return nil, fmt.Errorf("listing %s: no columns", l.Name)
	}
	for _, col := range l.Columns {
		if err := checkIdent("listing "+l.Name+" column", col.Column); err != nil {
			return nil, err
		}
	}
	if l.Limit < 0 {
		return nil, fmt.Errorf("listing %s: negative limit", l.Name)
	}
	cols := map[string]bool{}
	if l.Turnaround {
		if e.Turnaround == nil {
			return nil, fmt.Errorf("listing %s: entity %s has no turnaround columns", l.Name, e.Name)
		}
		cols["turnaround"] = true
	}
	return cols, nil
}

func validateFact(f Fact, tables map[string]map[string]bool, facts map[string]bool) error {
	if f.Name == "" {
		return fmt.Errorf("fact name is required")
	}
	switch f.Kind {
	case FactRecords, FactValue, FactTotal, FactArgmax, FactTrend:
		cols, ok := tables[f.Table]
		if !ok {
			return fmt.Errorf("fact %s: unknown table %q", f.Name, f.Table)
		}
		if !cols[f.Column] {
			return fmt.Errorf("fact %s: table %s has no column %q", f.Name, f.Table, f.Column)
		}
	case FactRatio:
		if !facts[f.Num] || !facts[f.Den] {
			return fmt.Errorf("fact %s: ratio of unknown facts %q and %q", f.Name, f.Num, f.Den)
		}
	default:
		return fmt.Errorf("fact %s: unknown kind %q", f.Name, f.Kind)
	}
	return nil
}
