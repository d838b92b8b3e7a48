package narrative

import (
	"strings"
	"testing"
)

func completion() Table {
	return Table{
		Name:   "completion",
		NoData: "No records were found for the selected period.",
		Rules: []Rule{
			{When: []Condition{{Fact: "completion_rate", Op: Absent}}, Text: "Completion could not be measured."},
			{When: []Condition{{Fact: "completion_rate", Op: Gte, Value: 95}}, Text: "Completion is excellent at {{pct .completion_rate}}."},
			{When: []Condition{{Fact: "completion_rate", Op: Gte, Value: 85}}, Text: "Completion is good at {{pct .completion_rate}}."},
			{When: []Condition{{Fact: "completion_rate", Op: Gte, Value: 75}}, Text: "Completion is satisfactory at {{pct .completion_rate}}."},
			{When: []Condition{{Op: Always}}, Text: "Completion needs improvement at {{pct .completion_rate}}."},
		},
	}
}

func TestEvaluate_CompletionTiers(t *testing.T) {
	c, err := completion().Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tests := []struct {
		rate float64
		want string
	}{
		{95, "excellent"},
		{99.9, "excellent"},
		{85, "good"},
		{94.99, "good"},
		{75, "satisfactory"},
		{50, "needs improvement"},
		{0, "needs improvement"},
	}
	for _, tt := range tests {
		got, err := c.Evaluate(Facts{Records: 10, Values: map[string]float64{"completion_rate": tt.rate}})
		if err != nil {
			t.Fatalf("rate %v: unexpected error: %v", tt.rate, err)
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("rate %v: expected %q in %q", tt.rate, tt.want, got)
		}
	}
}

func TestEvaluate_NoData(t *testing.T) {
	c, err := completion().Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := c.Evaluate(Facts{Records: 0, Values: map[string]float64{"completion_rate": 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "No records were found for the selected period." {
		t.Errorf("expected no-data text, got %q", got)
	}
	if strings.Contains(got, "needs improvement") {
		t.Error("no-data text must differ from the lowest tier")
	}
}

func TestEvaluate_Template(t *testing.T) {
	c, err := completion().Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, _ := c.Evaluate(Facts{Records: 3, Values: map[string]float64{"completion_rate": 95.5}})
	if got != "Completion is excellent at 95.50%." {
		t.Errorf("unexpected text: %q", got)
	}
	got, err = c.Evaluate(Facts{Records: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Completion could not be measured." {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestEvaluate_MissingFactSkipsRule(t *testing.T) {
	table := Table{
		Name:   "trend",
		NoData: "none",
		Rules: []Rule{
			{When: []Condition{{Fact: "change", Op: Gte, Value: 5}}, Text: "increasing"},
			{When: []Condition{{Op: Always}}, Text: "stable"},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, _ := c.Evaluate(Facts{Records: 1})
	if got != "stable" {
		t.Errorf("expected fallthrough, got %q", got)
	}
}

func TestEvaluate_Absent(t *testing.T) {
	table := Table{
		Name:   "efficiency",
		NoData: "none",
		Rules: []Rule{
			{When: []Condition{{Fact: "avg_turnaround", Op: Absent}}, Text: "No turnaround data."},
			{When: []Condition{{Fact: "avg_turnaround", Op: Lte, Value: 24}}, Text: "Highly efficient."},
			{When: []Condition{{Op: Always}}, Text: "Slow."},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got, _ := c.Evaluate(Facts{Records: 4}); got != "No turnaround data." {
		t.Errorf("unexpected text: %q", got)
	}
	if got, _ := c.Evaluate(Facts{Records: 4, Values: map[string]float64{"avg_turnaround": 24}}); got != "Highly efficient." {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestEvaluate_MultipleConditions(t *testing.T) {
	table := Table{
		Name:   "band",
		NoData: "none",
		Rules: []Rule{
			{When: []Condition{{Fact: "h", Op: Gt, Value: 24}, {Fact: "h", Op: Lte, Value: 48}}, Text: "efficient"},
			{When: nil, Text: "other"},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for h, want := range map[float64]string{24: "other", 30: "efficient", 48: "efficient", 49: "other"} {
		got, _ := c.Evaluate(Facts{Records: 1, Values: map[string]float64{"h": h}})
		if got != want {
			t.Errorf("h=%v: expected %q, got %q", h, want, got)
		}
	}
}

func TestEvaluate_Labels(t *testing.T) {
	table := Table{
		Name:   "most_affected",
		NoData: "none",
		Rules: []Rule{
			{
				When: []Condition{{Fact: "top_group", Op: Present}, {Fact: "top_share", Op: Present}},
				Text: "The {{.top_group}} age group is most affected with {{num .top_share}}% of cases.",
			},
			{Text: "No age group stands out."},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got, _ := c.Evaluate(Facts{Records: 12}); got != "No age group stands out." {
		t.Errorf("expected fallthrough without labels, got %q", got)
	}
	got, err := c.Evaluate(Facts{
		Records: 12,
		Values:  map[string]float64{"top_share": 41.5},
		Labels:  map[string]string{"top_group": "5-14"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The 5-14 age group is most affected with 41.5% of cases." {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestEvaluate_AbsentSeesLabels(t *testing.T) {
	table := Table{
		Name:   "leading",
		NoData: "none",
		Rules: []Rule{
			{When: []Condition{{Fact: "top", Op: Absent}}, Text: "No leader."},
			{Text: "{{.top}} leads."},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got, _ := c.Evaluate(Facts{Records: 2, Labels: map[string]string{"top": "Malaria"}}); got != "Malaria leads." {
		t.Errorf("unexpected text: %q", got)
	}
	if got, _ := c.Evaluate(Facts{Records: 2}); got != "No leader." {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestCompile_UnsetQuotedFact(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"catch-all quotes fact", Table{Name: "x", NoData: "none", Rules: []Rule{
			{When: []Condition{{Fact: "ratio", Op: Gte, Value: 2}}, Text: "high {{num .ratio}}"},
			{Text: "{{num .ratio}} each"},
		}}},
		{"rule quotes untested fact", Table{Name: "x", NoData: "none", Rules: []Rule{
			{When: []Condition{{Fact: "rate", Op: Gte, Value: 70}}, Text: "{{num .outstanding}} outstanding"},
			{Text: "ok"},
		}}},
		{"multi-condition absent does not guard", Table{Name: "x", NoData: "none", Rules: []Rule{
			{When: []Condition{{Fact: "a", Op: Absent}, {Fact: "b", Op: Absent}}, Text: "neither"},
			{Text: "{{.a}}"},
		}}},
		{"absent guard comes later", Table{Name: "x", NoData: "none", Rules: []Rule{
			{When: []Condition{{Fact: "rate", Op: Lt, Value: 5}}, Text: "{{pct .share}}"},
			{When: []Condition{{Fact: "share", Op: Absent}}, Text: "none"},
			{Text: "ok"},
		}}},
		{"no-data quotes fact", Table{Name: "x", NoData: "{{.rate}}", Rules: []Rule{{Text: "ok"}}}},
		{"inside if", Table{Name: "x", NoData: "none", Rules: []Rule{{Text: "{{if .flag}}yes{{end}}"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.table.Compile(); err == nil {
				t.Error("expected compile error for a possibly unset fact")
			}
		})
	}
}

func TestEvaluate_GuardedCatchAllIsTotal(t *testing.T) {
	table := Table{
		Name:   "revisits",
		NoData: "No visits in {{.records}} records.",
		Rules: []Rule{
			{When: []Condition{{Fact: "ratio", Op: Absent}}, Text: "Visits per patient cannot be given."},
			{When: []Condition{{Fact: "ratio", Op: Gte, Value: 2}}, Text: "Patients returned often ({{num .ratio}})."},
			{Text: "Patients averaged {{num .ratio}} visits each."},
		},
	}
	c, err := table.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := c.Evaluate(Facts{Records: 3, Values: map[string]float64{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Visits per patient cannot be given." {
		t.Errorf("unexpected text: %q", got)
	}
	if got, _ := c.Evaluate(Facts{Records: 3, Values: map[string]float64{"ratio": 1.5}}); got != "Patients averaged 1.5 visits each." {
		t.Errorf("unexpected text: %q", got)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"no name", Table{NoData: "x", Rules: []Rule{{Text: "a"}}}},
		{"no no-data", Table{Name: "x", Rules: []Rule{{Text: "a"}}}},
		{"no rules", Table{Name: "x", NoData: "x"}},
		{"no catch-all", Table{Name: "x", NoData: "x", Rules: []Rule{{When: []Condition{{Fact: "a", Op: Gte, Value: 1}}, Text: "a"}}}},
		{"bad op", Table{Name: "x", NoData: "x", Rules: []Rule{{When: []Condition{{Fact: "a", Op: "between"}}, Text: "a"}, {Text: "b"}}}},
		{"bad template", Table{Name: "x", NoData: "x", Rules: []Rule{{Text: "{{.a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.table.Compile(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFormatters(t *testing.T) {
	if got := Pct(60); got != "60.00%" {
		t.Errorf("Pct: got %q", got)
	}
	if got := Num(12.345); got != "12.35" {
		t.Errorf("Num: got %q", got)
	}
	if got := Num(30); got != "30" {
		t.Errorf("Num: got %q", got)
	}
	tests := map[float64]string{0.5: "30 minutes", 6: "6 hours", 72: "3 days"}
	for h, want := range tests {
		if got := Dur(h); got != want {
			t.Errorf("Dur(%v) = %q, want %q", h, got, want)
		}
	}
}
