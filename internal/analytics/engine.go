package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/reports/internal/analytics/aggregate"
	"github.com/ehr/reports/internal/analytics/catalog"
	"github.com/ehr/reports/internal/analytics/document"
	"github.com/ehr/reports/internal/analytics/filter"
	"github.com/ehr/reports/internal/analytics/narrative"
	"github.com/ehr/reports/internal/analytics/normalize"
	"github.com/ehr/reports/internal/analytics/percent"
	"github.com/ehr/reports/internal/analytics/predicate"
)

var (
	// ErrGenerationFailed wraps any data-source or computation failure. No
	// partial report is returned with it.
	ErrGenerationFailed = errors.New("report generation failed")
	// ErrUnknownReport is returned for a report type the catalog does not define.
	ErrUnknownReport = errors.New("unknown report type")
	// ErrForbidden is returned when the identity holds none of the report's roles.
	ErrForbidden = errors.New("report not permitted for this identity")
)

// DefaultListingLimit bounds listing sections that do not set their own limit.
const DefaultListingLimit = 50

// Request is one report generation request.
type Request struct {
	Type     string
	Params   map[string]string
	Identity Identity
	// AsOf overrides the current time used for default dates.
	AsOf time.Time
	// ListingLimit, when positive, replaces every listing's row limit.
	ListingLimit int
}

// Engine generates reports from a catalog over a data source. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	catalog      *catalog.Catalog
	source       aggregate.Source
	location     *time.Location
	listingLimit int
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the time zone calendar dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithListingLimit sets the default listing size.
func WithListingLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.listingLimit = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine.
func NewEngine(cat *catalog.Catalog, src aggregate.Source, opts ...Option) *Engine {
	e := &Engine{
		catalog:      cat,
		source:       src,
		location:     time.UTC,
		listingLimit: DefaultListingLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Types returns the report types the identity may generate.
func (e *Engine) Types(id Identity) []catalog.Report {
	var out []catalog.Report
	for _, r := range e.catalog.Types() {
		if id.Allowed(r.Roles) {
			out = append(out, r)
		}
	}
	return out
}

// Generate resolves the request's filters and builds the report. Input
// problems never fail a request; they are defaulted or dropped.
func (e *Engine) Generate(ctx context.Context, req Request) (*document.Report, error) {
	spec, ok := e.catalog.Report(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReport, req.Type)
	}
	if !req.Identity.Allowed(spec.Roles) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, req.Type)
	}

	now := req.AsOf
	if now.IsZero() {
		now = e.now()
	}
	now = now.In(e.location)

	fs := filter.Resolve(req.Params, e.catalog.Filters, now)
	if req.Identity.Facility != "" {
		fs = fs.Pin("facility", req.Identity.Facility)
	}

	log := zerolog.Ctx(ctx).With().Str("report_type", req.Type).Logger()
	start := time.Now()

	g := &generation{
		engine:  e,
		report:  spec,
		filter:  fs,
		limit:   req.ListingLimit,
		log:     log,
		sets:    map[string]*predicate.Set{},
		domains: map[string]normalize.Domain{},
		tables:  map[string]*aggregate.Table{},
		monthly: map[string]bool{},
		facts:   narrative.Facts{Values: map[string]float64{}, Labels: map[string]string{}},
	}
	doc, err := g.run(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("report generation failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, req.Type, err)
	}

	log.Info().
		Int("sections", len(doc.Sections)).
		Dur("duration", time.Since(start)).
		Msg("report generated")
	return doc, nil
}

// generation is the state of one Generate call.
type generation struct {
	engine *Engine
	report catalog.Report
	filter filter.Spec
	limit  int
	log    zerolog.Logger

	// One predicate set per entity, shared by every query against it.
	sets    map[string]*predicate.Set
	domains map[string]normalize.Domain
	tables  map[string]*aggregate.Table
	facts   narrative.Facts
	// Tables grouped by calendar month alone, whose rows trend facts reorder.
	monthly map[string]bool
}

func (g *generation) run(ctx context.Context, now time.Time) (*document.Report, error) {
	asm := document.NewAssembler(g.report.Type, g.report.Title)

	for _, s := range g.report.Sections {
		var tables []*aggregate.Table
		for _, t := range s.Tables {
			tbl, err := g.table(ctx, t)
			if err != nil {
				return nil, err
			}
			g.tables[t.Name] = tbl
			if len(t.GroupBy) == 1 && t.GroupBy[0].Kind == aggregate.DimMonth {
				g.monthly[t.Name] = true
			}
			tables = append(tables, tbl)
		}
		if s.Listing != nil {
			tbl, err := g.listing(ctx, *s.Listing)
			if err != nil {
				return nil, err
			}
			g.tables[s.Listing.Name] = tbl
			tables = append(tables, tbl)
		}

		for _, f := range s.Facts {
			g.derive(f)
		}

		var texts []string
		for _, name := range s.Narratives {
			rules, _ := g.engine.catalog.Narrative(name)
			text, err := rules.Evaluate(g.facts)
			if err != nil {
				return nil, err
			}
			texts = append(texts, text)
		}

		asm.Section(s.Title, tables, texts)
	}

	return asm.Build(g.filter, now), nil
}

func (g *generation) set(name string) (catalog.Entity, *predicate.Set) {
	entity, _ := g.engine.catalog.Entity(name)
	if s, ok := g.sets[name]; ok {
		return entity, s
	}
	s := predicate.Build(g.filter, entity.Entity)
	g.sets[name] = s
	g.log.Debug().
		Str("entity", name).
		Str("predicates", s.Fingerprint()).
		Msg("predicate set built")
	return entity, s
}

func (g *generation) table(ctx context.Context, t catalog.Table) (*aggregate.Table, error) {
	entity, set := g.set(t.Entity)

	q := aggregate.Query{Name: t.Name, Set: set}
	domains := make([]normalize.Domain, 0, len(t.GroupBy))
	for _, gb := range t.GroupBy {
		q.GroupBy = append(q.GroupBy, gb.Dimension)
		d, err := g.domain(ctx, gb.DomainName())
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	for _, m := range t.Metrics {
		if m.Kind == aggregate.AvgDuration {
			m.Stamps = entity.Turnaround
		}
		q.Metrics = append(q.Metrics, m)
	}

	start := time.Now()
	raw, err := aggregate.Run(ctx, g.engine.source, q)
	if err != nil {
		return nil, err
	}
	raw.Title = t.Title

	tbl, dropped, err := normalize.Fill(raw, domains...)
	if err != nil {
		return nil, err
	}
	ev := g.log.Debug().
		Str("table", t.Name).
		Str("entity", t.Entity).
		Int("rows", len(raw.Rows)).
		Dur("duration", time.Since(start))
	if dropped > 0 {
		ev = ev.Int("dropped", dropped)
	}
	ev.Msg("table computed")

	for _, p := range t.Percents {
		rule := p.Rule
		if p.BaseFact != "" {
			if v, ok := g.facts.Values[p.BaseFact]; ok {
				rule.Base = &v
			}
		}
		if err := percent.Apply(tbl, rule); err != nil {
			return nil, err
		}
	}
	for _, r := range t.Ratios {
		if err := percent.ApplyRatio(tbl, r.As, r.Num, r.Den); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (g *generation) domain(ctx context.Context, name string) (normalize.Domain, error) {
	if d, ok := g.domains[name]; ok {
		return d, nil
	}
	decl, _ := g.engine.catalog.Domain(name)
	d, ok := decl.Static()
	if !ok {
		var err error
		if d, err = normalize.Load(ctx, g.engine.source, *decl.Reference); err != nil {
			return normalize.Domain{}, err
		}
	}
	g.domains[name] = d
	return d, nil
}

func (g *generation) listing(ctx context.Context, l catalog.Listing) (*aggregate.Table, error) {
	entity, set := g.set(l.Entity)

	limit := l.Limit
	switch {
	case g.limit > 0:
		limit = g.limit
	case limit <= 0:
		limit = g.engine.listingLimit
	}
	q := aggregate.Listing{
		Name:    l.Name,
		Set:     set,
		Columns: l.Columns,
		Unit:    l.Unit,
		Limit:   limit,
	}
	if l.Turnaround {
		q.Turnaround = entity.Turnaround
	}

	tbl, err := aggregate.RunListing(ctx, g.engine.source, q)
	if err != nil {
		return nil, err
	}
	tbl.Title = l.Title
	g.log.Debug().Str("table", l.Name).Int("rows", len(tbl.Rows)).Msg("listing fetched")
	return tbl, nil
}
