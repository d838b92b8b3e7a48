package predicate

import (
	"strings"
	"testing"
	"time"

	"github.com/ehr/reports/internal/analytics/filter"
)

var dispensing = Entity{
	Name:      "dispensing",
	Table:     "dispensing_event",
	Timestamp: "dispensed_at",
	Columns: map[string]string{
		"status":   "status",
		"facility": "facility_name",
	},
}

func testSpec(params map[string]string) filter.Spec {
	dims := []filter.Dimension{
		{Name: "status", Allowed: []string{"dispensed", "unavailable", "pending"}},
		{Name: "facility", Allowed: []string{"Central Clinic", "North Post"}},
		{Name: "gender", Allowed: []string{"male", "female"}},
	}
	return filter.Resolve(params, dims, time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC))
}

func TestBuild_AlwaysHasDateRange(t *testing.T) {
	set := Build(testSpec(map[string]string{}), dispensing)

	conds := set.Conditions()
	if len(conds) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(conds))
	}
	if conds[0].Clause != "dispensed_at >= $%d AND dispensed_at < $%d" {
		t.Errorf("unexpected date clause: %s", conds[0].Clause)
	}
	if len(conds[0].Args) != 2 {
		t.Fatalf("expected 2 date args, got %d", len(conds[0].Args))
	}
	from := conds[0].Args[0].(time.Time)
	until := conds[0].Args[1].(time.Time)
	if from.Format("2006-01-02") != "2024-03-01" || until.Format("2006-01-02") != "2024-03-18" {
		t.Errorf("unexpected window %s..%s", from, until)
	}
}

func TestBuild_CategoricalFilters(t *testing.T) {
	set := Build(testSpec(map[string]string{
		"status":   "dispensed,pending",
		"facility": "North Post",
	}), dispensing)

	where, args := set.Where()
	sql, n := Number(where)

	want := " WHERE dispensed_at >= $1 AND dispensed_at < $2 AND status IN ($3, $4) AND facility_name = $5"
	if sql != want {
		t.Errorf("unexpected where:\n got %q\nwant %q", sql, want)
	}
	if n != len(args) {
		t.Errorf("every placeholder needs one value: %d placeholders, %d args", n, len(args))
	}
	if args[2] != "dispensed" || args[3] != "pending" || args[4] != "North Post" {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestBuild_SkipsUnmappedFilters(t *testing.T) {
	set := Build(testSpec(map[string]string{"gender": "female"}), dispensing)
	if len(set.Conditions()) != 1 {
		t.Errorf("expected unmapped gender filter to be skipped, got %v", set.Conditions())
	}
}

func TestBuild_NeverInterpolatesValues(t *testing.T) {
	entity := dispensing
	entity.Columns = map[string]string{"facility": "facility_name"}
	dims := []filter.Dimension{{Name: "facility", Allowed: []string{"x' OR '1'='1"}}}
	spec := filter.Resolve(map[string]string{"facility": "x' OR '1'='1"}, dims, time.Now())

	where, _ := Build(spec, entity).Where()
	if strings.Contains(where, "'1'='1") {
		t.Errorf("value leaked into SQL: %s", where)
	}
}

func TestSet_FingerprintStable(t *testing.T) {
	spec := testSpec(map[string]string{"status": "pending"})
	a := Build(spec, dispensing)
	b := Build(spec, dispensing)
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("expected equal fingerprints:\n%s\n%s", a.Fingerprint(), b.Fingerprint())
	}

	c := Build(testSpec(map[string]string{"status": "dispensed"}), dispensing)
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("expected different fingerprints for different filters")
	}
}

func TestSet_ConditionsAreCopies(t *testing.T) {
	set := Build(testSpec(map[string]string{"status": "pending"}), dispensing)
	conds := set.Conditions()
	conds[1].Args[0] = "tampered"
	if set.Args()[2] != "pending" {
		t.Error("Set must not be mutable through Conditions()")
	}
}

func TestIn(t *testing.T) {
	if got := In("status", 1); got != "status = $%d" {
		t.Errorf("unexpected single: %s", got)
	}
	if got := In("status", 3); got != "status IN ($%d, $%d, $%d)" {
		t.Errorf("unexpected multi: %s", got)
	}
}

func TestNumber(t *testing.T) {
	sql, n := Number("SELECT SUM(CASE WHEN s = $%d THEN 1 ELSE 0 END) FROM t WHERE a >= $%d AND b < $%d")
	if sql != "SELECT SUM(CASE WHEN s = $1 THEN 1 ELSE 0 END) FROM t WHERE a >= $2 AND b < $3" {
		t.Errorf("unexpected numbering: %s", sql)
	}
	if n != 3 {
		t.Errorf("expected 3 placeholders, got %d", n)
	}

	plain, n := Number("SELECT 1")
	if plain != "SELECT 1" || n != 0 {
		t.Errorf("expected untouched SQL, got %q (%d)", plain, n)
	}
}
