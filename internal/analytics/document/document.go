package document

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/filter"
)

// Section is one titled block of a report.
type Section struct {
	Title      string             `json:"title"`
	Tables     []*aggregate.Table `json:"tables"`
	Narratives []string           `json:"narratives"`
}

// Report is the assembled, serializable result of one generation.
type Report struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	Title       string      `json:"title"`
	GeneratedAt time.Time   `json:"generated_at"`
	Filter      filter.Spec `json:"filter"`
	Sections    []Section   `json:"sections"`
}

// Assembler collects sections in the order they are added.
type Assembler struct {
	typ      string
	title    string
	sections []Section
}

// NewAssembler starts a report of the given type.
func NewAssembler(typ, title string) *Assembler {
	return &Assembler{typ: typ, title: title}
}

// Section appends a section. Tables and narratives are taken as given.
func (a *Assembler) Section(title string, tables []*aggregate.Table, narratives []string) *Assembler {
	a.sections = append(a.sections, Section{
		Title:      title,
		Tables:     append([]*aggregate.Table{}, tables...),
		Narratives: append([]string{}, narratives...),
	})
	return a
}

// Build produces the report. The assembler can keep being used afterwards
// without affecting the returned report.
func (a *Assembler) Build(spec filter.Spec, now time.Time) *Report {
	sections := make([]Section, len(a.sections))
	copy(sections, a.sections)
	return &Report{
		ID:          uuid.New(),
		Type:        a.typ,
		Title:       a.title,
		GeneratedAt: now,
		Filter:      spec,
		Sections:    sections,
	}
}
