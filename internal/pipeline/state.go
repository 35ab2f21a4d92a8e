package pipeline

import (
	"fmt"
	"time"

	"github.com/smallbiznis/catalogue/internal/convert"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	"github.com/smallbiznis/catalogue/internal/reconcile"
	"github.com/smallbiznis/catalogue/internal/report"
)

// runState gathers what the phases of one run produced. It lives for a single
// Run call and is frozen into the returned report.
type runState struct {
	runID    string
	started  time.Time
	summary  report.Summary
	added    []report.Entry
	updated  []report.Entry
	deleted  []report.Entry
	invalid  []report.Entry
	warnings []report.Entry
	errors   []string
}

func newRunState(runID string, started time.Time) *runState {
	return &runState{runID: runID, started: started}
}

func (s *runState) addError(phase string, err error) {
	s.errors = append(s.errors, fmt.Sprintf("%s: %v", phase, err))
	s.summary.ErrorCount++
}

func (s *runState) recordImport(res reconcile.Result) {
	s.summary.FormationsJCount = res.SnapshotSize()
	for _, c := range res.Added() {
		s.added = append(s.added, changeEntry(c))
	}
	for _, c := range res.Updated() {
		s.updated = append(s.updated, changeEntry(c))
	}
	for _, c := range res.Deleted() {
		s.deleted = append(s.deleted, changeEntry(c))
	}
	for _, r := range res.Rejected() {
		s.invalid = append(s.invalid, report.Entry{
			Key:    r.Record.Key.String(),
			Status: "rejected",
			Error:  r.Reason.Error(),
		})
	}
	s.summary.AddedCount = len(s.added)
	s.summary.UpdatedCount = len(s.updated)
	s.summary.DeletedCount = len(s.deleted)
	s.summary.ErrorCount += len(res.Rejected())
}

func (s *runState) recordDedupe(res dedupe.Result) {
	for _, e := range res.Errors {
		s.errors = append(s.errors, fmt.Sprintf("%s: %s", PhaseDedupe, e.Error()))
	}
	s.summary.ErrorCount += len(res.Errors)
}

func (s *runState) recordConvert(res convert.Result) {
	s.summary.ConvertedCount += len(res.Converted)
	for _, inv := range res.Invalid {
		s.invalid = append(s.invalid, report.Entry{
			Key:    inv.IDRcoFormation,
			Status: "invalid",
			Error:  inv.Error,
		})
	}
	s.summary.ErrorCount += len(res.Invalid)
}

func (s *runState) recordZipWarnings(warnings []convert.ZipWarning) {
	for _, w := range warnings {
		s.warnings = append(s.warnings, report.Entry{
			Key:    w.IDRcoFormation,
			Status: "zip_mismatch",
			Updates: map[string]any{
				"code_postal":        w.CodePostal,
				"code_commune_insee": w.CodeCommuneInsee,
			},
		})
	}
}

func (s *runState) freeze() report.Report {
	return report.Report{
		Type:     report.TypeImport,
		RunID:    s.runID,
		Date:     s.started,
		Summary:  s.summary,
		Added:    append([]report.Entry(nil), s.added...),
		Updated:  append([]report.Entry(nil), s.updated...),
		Deleted:  append([]report.Entry(nil), s.deleted...),
		Invalid:  append([]report.Entry(nil), s.invalid...),
		Warnings: append([]report.Entry(nil), s.warnings...),
		Errors:   append([]string(nil), s.errors...),
	}
}

func changeEntry(c reconcile.Change) report.Entry {
	var updates map[string]any
	if len(c.Changes) > 0 {
		updates = map[string]any(c.Changes)
	}
	return report.Entry{
		ID:      c.ID.String(),
		Key:     c.Key.String(),
		Status:  c.Status,
		Updates: updates,
	}
}
