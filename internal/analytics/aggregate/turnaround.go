package aggregate

import (
	"fmt"
	"time"
)

// Turnaround names the four timestamp columns of a process. Missing
// timestamps are common in operational data, so the elapsed time is taken
// from the first complete pair in this order:
//
//	started   -> completed
//	started   -> updated
//	created   -> completed
//
// and is NULL when none of the pairs is complete.
type Turnaround struct {
	Created   string `yaml:"created"`
	Started   string `yaml:"started"`
	Updated   string `yaml:"updated"`
	Completed string `yaml:"completed"`
}

type pair struct{ start, end string }

func (t Turnaround) chain() []pair {
	return []pair{
		{t.Started, t.Completed},
		{t.Started, t.Updated},
		{t.Created, t.Completed},
	}
}

// Expr renders the fallback chain as an interval-valued SQL expression.
func (t Turnaround) Expr() string {
	expr := "CASE"
	for _, p := range t.chain() {
		expr += fmt.Sprintf(" WHEN %[1]s IS NOT NULL AND %[2]s IS NOT NULL THEN %[2]s - %[1]s", p.start, p.end)
	}
	return expr + " ELSE NULL END"
}

// Stamps holds one record's nullable timestamps.
type Stamps struct {
	Created   *time.Time
	Started   *time.Time
	Updated   *time.Time
	Completed *time.Time
}

// Resolve applies the fallback chain to one record. ok is false when no pair
// is complete; such records are excluded from averages rather than counted
// as zero.
func (s Stamps) Resolve() (d time.Duration, ok bool) {
	pairs := [][2]*time.Time{
		{s.Started, s.Completed},
		{s.Started, s.Updated},
		{s.Created, s.Completed},
	}
	for _, p := range pairs {
		if p[0] != nil && p[1] != nil {
			return p[1].Sub(*p[0]), true
		}
	}
	return 0, false
}

// Columns returns the four column names in Created, Started, Updated,
// Completed order.
func (t Turnaround) Columns() []string {
	return []string{t.Created, t.Started, t.Updated, t.Completed}
}
