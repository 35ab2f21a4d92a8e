package reconcile

import (
	"context"
	"fmt"

	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/scan"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type verdict int

const (
	verdictRejected verdict = iota
	verdictAdded
	verdictUpdated
	verdictUnchanged
)

type classified struct {
	verdict verdict
	update  Update
	reason  error
}

// Classify partitions snapshot against the persisted formations without
// writing anything. Records sharing a key within the snapshot are classified
// independently.
func (s *Service) Classify(ctx context.Context, snapshot []domain.SourceRecord) (Plan, error) {
	opts := s.scanOptions()
	plan := Plan{SnapshotSize: len(snapshot)}

	slots := make([]classified, len(snapshot))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range snapshot {
		i := i
		g.Go(func() error {
			c, err := s.classify(gctx, snapshot[i])
			if err != nil {
				return fmt.Errorf("lookup %s: %w", snapshot[i].Key, err)
			}
			slots[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, err
	}

	seen := make(map[domain.NaturalKey]struct{}, len(snapshot))
	for i, c := range slots {
		rec := snapshot[i]
		switch c.verdict {
		case verdictRejected:
			plan.Rejected = append(plan.Rejected, Rejection{Record: rec, Reason: c.reason})
			continue
		case verdictAdded:
			plan.Added = append(plan.Added, rec)
		case verdictUpdated:
			plan.Updates = append(plan.Updates, c.update)
		case verdictUnchanged:
			plan.Unchanged++
		}
		seen[rec.Key] = struct{}{}
	}

	deleted, err := s.absentFrom(ctx, seen, opts)
	if err != nil {
		return Plan{}, err
	}
	plan.Deleted = deleted

	s.logger(ctx).Info("reconcile.classified",
		zap.Int("snapshot", plan.SnapshotSize),
		zap.Int("added", len(plan.Added)),
		zap.Int("updated", len(plan.Updates)),
		zap.Int("deleted", len(plan.Deleted)),
		zap.Int("rejected", len(plan.Rejected)),
		zap.Int("unchanged", plan.Unchanged),
	)
	return plan, nil
}

func (s *Service) classify(ctx context.Context, rec domain.SourceRecord) (classified, error) {
	if !rec.Key.Complete() {
		return classified{verdict: verdictRejected, reason: domain.ErrIncompleteKey}, nil
	}

	rows, err := s.repo.FindByKey(ctx, s.db, rec.Key)
	if err != nil {
		return classified{}, err
	}
	if len(rows) == 0 {
		return classified{verdict: verdictAdded}, nil
	}

	current := rows[0]
	changes := diff.Diff(current.Fields, rec.Fields, domain.SystemFields...)
	if !current.Published {
		changes[domain.FieldPublished] = true
		return classified{
			verdict: verdictUpdated,
			update:  Update{Formation: current, Changes: changes, Reactivation: true},
		}, nil
	}
	if changes.Empty() {
		return classified{verdict: verdictUnchanged}, nil
	}
	return classified{
		verdict: verdictUpdated,
		update:  Update{Formation: current, Changes: changes},
	}, nil
}

// absentFrom walks every published formation and returns those whose key is
// not in seen. The walk only reads; deactivation happens in Apply.
func (s *Service) absentFrom(ctx context.Context, seen map[domain.NaturalKey]struct{}, opts scan.Options) ([]domain.Formation, error) {
	pager := scan.PagerFunc[domain.Formation]{
		Fetch: func(ctx context.Context, after pagination.Cursor, limit int) ([]domain.Formation, error) {
			return s.repo.ListPublished(ctx, s.db, after, limit)
		},
		Cursor: func(f domain.Formation) pagination.Cursor {
			return pagination.After(f.ID)
		},
	}

	var deleted []domain.Formation
	_, err := scan.Scan(ctx, pager, scan.Options{PageSize: opts.PageSize}, func(_ context.Context, f domain.Formation) error {
		if _, ok := seen[f.Key()]; !ok {
			deleted = append(deleted, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan published: %w", err)
	}
	return deleted, nil
}
