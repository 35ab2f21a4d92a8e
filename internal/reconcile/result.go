package reconcile

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
)

const (
	StatusAdded    = "added"
	StatusUpdated  = "updated"
	StatusReopened = "reopened"
	StatusDeleted  = "deleted"
)

// Change describes one formation written by an import.
type Change struct {
	ID      snowflake.ID
	Key     domain.NaturalKey
	Status  string
	Changes diff.Changes
}

// Result is the outcome of one import. It is built by a single run and never
// modified afterwards.
type Result struct {
	added     []Change
	updated   []Change
	deleted   []Change
	rejected  []Rejection
	unchanged int
	snapshot  int
}

func (r Result) Added() []Change { return append([]Change(nil), r.added...) }
func (r Result) Updated() []Change { return append([]Change(nil), r.updated...) }
func (r Result) Deleted() []Change { return append([]Change(nil), r.deleted...) }
func (r Result) Rejected() []Rejection { return append([]Rejection(nil), r.rejected...) }
func (r Result) Unchanged() int { return r.unchanged }
func (r Result) SnapshotSize() int { return r.snapshot }

// Reopened counts the updates that republished a formation.
func (r Result) Reopened() int {
	n := 0
	for _, c := range r.updated {
		if c.Status == StatusReopened {
			n++
		}
	}
	return n
}

// run accumulates the writes of one Apply call.
type run struct {
	added     []Change
	updated   []Change
	deleted   []Change
	rejected  []Rejection
	unchanged int
	snapshot  int
}

func newRun(plan Plan) *run {
	return &run{
		rejected:  append([]Rejection(nil), plan.Rejected...),
		unchanged: plan.Unchanged,
		snapshot:  plan.SnapshotSize,
	}
}

func (r *run) freeze() Result {
	return Result{
		added:     r.added,
		updated:   r.updated,
		deleted:   r.deleted,
		rejected:  r.rejected,
		unchanged: r.unchanged,
		snapshot:  r.snapshot,
	}
}
