package reconcile

import (
	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
)

// Plan is the output of classification: disjoint partitions of one snapshot
// against the persisted set. Nothing has been written yet.
type Plan struct {
	Added    []domain.SourceRecord
	Updates  []Update
	Deleted  []domain.Formation
	Rejected []Rejection
	// Unchanged counts records that matched a published formation with no
	// difference.
	Unchanged int
	// SnapshotSize is the number of records classified.
	SnapshotSize int
}

// Update is a change set for an existing formation. A reactivation carries
// published=true on top of the changed fields.
type Update struct {
	Formation    domain.Formation
	Changes      diff.Changes
	Reactivation bool
}

type Rejection struct {
	Record domain.SourceRecord
	Reason error
}

func (p Plan) Empty() bool {
	return len(p.Added) == 0 && len(p.Updates) == 0 && len(p.Deleted) == 0
}
