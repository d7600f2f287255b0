package engine

import (
	"time"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

// Entry is one planned operation. Item carries the content to act with (for
// updates, the winning side's snapshot); Mapping is nil for unmapped creates.
type Entry struct {
	Item    model.Item
	Mapping *mapping.Mapping
	Label   string
}

// Plan is the computed set of operations that converges one container pair.
// The buckets are disjoint: every observed item lands in exactly one.
type Plan struct {
	Pair model.ContainerPair

	CreateRemote []Entry // exists locally only → push to remote
	CreateLocal  []Entry // exists remotely only → push to local
	UpdateRemote []Entry // both changed or local changed, local wins
	UpdateLocal  []Entry // both changed or remote changed, remote wins
	DeleteRemote []Entry // deleted locally → remove from remote
	DeleteLocal  []Entry // deleted remotely → remove from local

	// Orphans are mappings whose item is gone on both sides; only the
	// mapping row is cleaned up, no adapter call is made.
	Orphans []*mapping.Mapping

	// Unchanged counts mapped items that need no operation, including
	// equal-timestamp conflicts (documented tie-break).
	Unchanged int

	// Skipped counts deletions neutralised by the skip-deletions policy.
	// Their mappings are retained so the items are reconsidered next run.
	Skipped int
}

// Deletions returns the count the deletion guard inspects.
func (p *Plan) Deletions() int {
	return len(p.DeleteLocal) + len(p.DeleteRemote)
}

// Mutations returns the total number of entries the executor will process,
// used as the progress denominator.
func (p *Plan) Mutations() int {
	return len(p.CreateRemote) + len(p.CreateLocal) +
		len(p.UpdateRemote) + len(p.UpdateLocal) +
		len(p.DeleteRemote) + len(p.DeleteLocal) +
		len(p.Orphans)
}

// Result reports the outcome of one container pair. Bucket counts always
// reflect the computed plan; execution failures are recorded in Errors, so a
// simulated run and a real run over the same snapshots report identical
// counts.
type Result struct {
	Pair model.ContainerPair

	CreateRemote int
	CreateLocal  int
	Update       int
	DeleteRemote int
	DeleteLocal  int
	Unchanged    int
	Skipped      int

	// Errors holds per-item adapter failures plus any fatal store or
	// container error that ended the pair early.
	Errors []error

	// GuardTripped is set when the deletion guard discarded the whole plan.
	// No bucket was applied, the delete counts above show what tripped it.
	GuardTripped bool

	Duration  time.Duration
	Simulated bool

	// Samples carries capped preview labels; populated for simulated runs.
	Samples *Samples
}

// Samples lists up to [sampleLimit] item labels per bucket for preview
// output. Counts in [Result] are always exact; only the listing is capped.
type Samples struct {
	CreateRemote []string
	CreateLocal  []string
	Update       []string
	DeleteRemote []string
	DeleteLocal  []string
}

// resultFromPlan seeds a Result with the plan's bucket counts.
func resultFromPlan(p *Plan) Result {
	return Result{
		Pair:         p.Pair,
		CreateRemote: len(p.CreateRemote),
		CreateLocal:  len(p.CreateLocal),
		Update:       len(p.UpdateRemote) + len(p.UpdateLocal),
		DeleteRemote: len(p.DeleteRemote),
		DeleteLocal:  len(p.DeleteLocal),
		Unchanged:    p.Unchanged,
		Skipped:      p.Skipped,
	}
}

// Totals aggregates per-pair results for the whole run.
type Totals struct {
	Pairs        int
	CreateRemote int
	CreateLocal  int
	Update       int
	DeleteRemote int
	DeleteLocal  int
	Unchanged    int
	Skipped      int
	Errors       int
	GuardTrips   int
}

// Sum aggregates results across container pairs.
func Sum(results []Result) Totals {
	var t Totals
	t.Pairs = len(results)
	for _, r := range results {
		t.CreateRemote += r.CreateRemote
		t.CreateLocal += r.CreateLocal
		t.Update += r.Update
		t.DeleteRemote += r.DeleteRemote
		t.DeleteLocal += r.DeleteLocal
		t.Unchanged += r.Unchanged
		t.Skipped += r.Skipped
		t.Errors += len(r.Errors)
		if r.GuardTripped {
			t.GuardTrips++
		}
	}
	return t
}
