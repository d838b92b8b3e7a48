package narrative

import (
	"bytes"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/shopspring/decimal"
)

// Op is a comparison against a fact.
type Op string

const (
	Gte     Op = "gte"
	Gt      Op = "gt"
	Lte     Op = "lte"
	Lt      Op = "lt"
	Eq      Op = "eq"
	Present Op = "present"
	Absent  Op = "absent"
	Always  Op = "always"
)

// Condition compares one named fact to a threshold.
type Condition struct {
	Fact  string  `yaml:"fact"`
	Op    Op      `yaml:"op"`
	Value float64 `yaml:"value"`
}

func (c Condition) match(f Facts) bool {
	if c.Op == Always {
		return true
	}
	if c.Op == Absent || c.Op == Present {
		return f.has(c.Fact) == (c.Op == Present)
	}
	v, ok := f.Values[c.Fact]
	if !ok {
		return false
	}
	switch c.Op {
	case Gte:
		return v >= c.Value
	case Gt:
		return v > c.Value
	case Lte:
		return v <= c.Value
	case Lt:
		return v < c.Value
	case Eq:
		return v == c.Value
	}
	return false
}

// guards reports whether the condition can only hold when its fact is set.
func (c Condition) guards() bool {
	return c.Op != Always && c.Op != Absent
}

// Rule produces Text when every condition holds.
type Rule struct {
	When []Condition `yaml:"when"`
	Text string      `yaml:"text"`
}

func (r Rule) catchAll() bool {
	for _, c := range r.When {
		if c.Op != Always {
			return false
		}
	}
	return true
}

// Table is an ordered rule table. Rules are tried top to bottom and the first
// match wins, so lower bounds of tiers are inclusive when written with gte.
type Table struct {
	Name   string `yaml:"name"`
	NoData string `yaml:"no_data"`
	Rules  []Rule `yaml:"rules"`
}

// Facts are the named numbers and labels a narrative may test and quote.
type Facts struct {
	Records int
	Values  map[string]float64
	Labels  map[string]string
}

func (f Facts) has(name string) bool {
	if _, ok := f.Values[name]; ok {
		return true
	}
	_, ok := f.Labels[name]
	return ok
}

func (f Facts) data() map[string]any {
	m := make(map[string]any, len(f.Values)+len(f.Labels)+1)
	for k, v := range f.Values {
		m[k] = v
	}
	for k, v := range f.Labels {
		m[k] = v
	}
	m["records"] = f.Records
	return m
}

var funcs = template.FuncMap{
	"pct": Pct,
	"num": Num,
	"dur": Dur,
	"abs": math.Abs,
}

// Compiled is a validated table with parsed templates, safe for concurrent use.
type Compiled struct {
	name   string
	noData *template.Template
	rules  []Rule
	texts  []*template.Template
}

// Compile validates the table and parses its templates. A table must have a
// no-data text, at least one rule, a valid operator on every condition, and
// a catch-all as its last rule. A rule may only quote facts it is sure to
// have: facts its own conditions require, and facts ruled out as absent by
// an earlier single-condition rule. The no-data text may only quote records.
func (t Table) Compile() (*Compiled, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("rule table name is required")
	}
	if t.NoData == "" {
		return nil, fmt.Errorf("rule table %s: no_data text is required", t.Name)
	}
	if len(t.Rules) == 0 {
		return nil, fmt.Errorf("rule table %s: no rules", t.Name)
	}
	if !t.Rules[len(t.Rules)-1].catchAll() {
		return nil, fmt.Errorf("rule table %s: last rule must be a catch-all", t.Name)
	}

	c := &Compiled{name: t.Name, rules: t.Rules}
	var err error
	if c.noData, err = parseTemplate(t.Name+"/no_data", t.NoData); err != nil {
		return nil, err
	}
	if err := checkQuoted(c.noData, nil); err != nil {
		return nil, fmt.Errorf("rule table %s: no_data: %w", t.Name, err)
	}
	present := map[string]bool{}
	for i, r := range t.Rules {
		for _, cond := range r.When {
			switch cond.Op {
			case Gte, Gt, Lte, Lt, Eq, Present, Absent, Always:
			default:
				return nil, fmt.Errorf("rule table %s: rule %d: unknown op %q", t.Name, i, cond.Op)
			}
			if cond.Op != Always && cond.Fact == "" {
				return nil, fmt.Errorf("rule table %s: rule %d: condition without fact", t.Name, i)
			}
		}
		tmpl, err := parseTemplate(fmt.Sprintf("%s/%d", t.Name, i), r.Text)
		if err != nil {
			return nil, err
		}
		known := maps.Clone(present)
		for _, cond := range r.When {
			if cond.guards() {
				known[cond.Fact] = true
			}
		}
		if err := checkQuoted(tmpl, known); err != nil {
			return nil, fmt.Errorf("rule table %s: rule %d: %w", t.Name, i, err)
		}
		if len(r.When) == 1 && r.When[0].Op == Absent {
			present[r.When[0].Fact] = true
		}
		c.texts = append(c.texts, tmpl)
	}
	return c, nil
}

// checkQuoted rejects a template that quotes a fact outside known.
func checkQuoted(tmpl *template.Template, known map[string]bool) error {
	fields := map[string]bool{}
	quoted(tmpl.Tree.Root, fields)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if name != "records" && !known[name] {
			return fmt.Errorf("template quotes %q, which may be unset here", name)
		}
	}
	return nil
}

func quoted(n parse.Node, out map[string]bool) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			quoted(c, out)
		}
	case *parse.ActionNode:
		quoted(n.Pipe, out)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			quoted(c, out)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			quoted(a, out)
		}
	case *parse.FieldNode:
		out[n.Ident[0]] = true
	case *parse.ChainNode:
		quoted(n.Node, out)
	case *parse.IfNode:
		quoted(n.Pipe, out)
		quoted(n.List, out)
		quoted(n.ElseList, out)
	case *parse.WithNode:
		quoted(n.Pipe, out)
		quoted(n.List, out)
		quoted(n.ElseList, out)
	case *parse.RangeNode:
		quoted(n.Pipe, out)
		quoted(n.List, out)
		quoted(n.ElseList, out)
	case *parse.TemplateNode:
		quoted(n.Pipe, out)
	}
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse narrative %s: %w", name, err)
	}
	return tmpl, nil
}

// Name returns the table name.
func (c *Compiled) Name() string { return c.name }

// Evaluate returns the text of the first matching rule, or the no-data text
// when there are no records.
func (c *Compiled) Evaluate(f Facts) (string, error) {
	if f.Records == 0 {
		return render(c.noData, f)
	}
	for i, r := range c.rules {
		ok := true
		for _, cond := range r.When {
			if !cond.match(f) {
				ok = false
				break
			}
		}
		if ok {
			return render(c.texts[i], f)
		}
	}
	// unreachable for a compiled table
	return "", fmt.Errorf("rule table %s: no rule matched", c.name)
}

func render(tmpl *template.Template, f Facts) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, f.data()); err != nil {
		return "", fmt.Errorf("render narrative %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Pct formats a percentage with two decimals, e.g. "95.50%".
func Pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// Num formats a number with at most two decimals and no trailing zeros.
func Num(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

// Dur formats a duration given in hours.
func Dur(hours float64) string {
	switch {
	case hours < 1:
		return Num(hours*60) + " minutes"
	case hours < 48:
		return Num(hours) + " hours"
	default:
		return Num(hours/24) + " days"
	}
}
