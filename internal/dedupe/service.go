// Package dedupe collapses formations, or converted formations, that share a
// natural key into a single survivor.
package dedupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/history"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Target string

const (
	TargetFormations Target = "formations"
	TargetConverted  Target = "converted"
)

var (
	ErrInvalidConfig = errors.New("invalid_dedupe_config")
	ErrUnknownTarget = errors.New("unknown_dedupe_target")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Converted domain.ConvertedRepository
	Ledger    *history.Ledger
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	ledger      *history.Ledger
	collections map[Target]collection
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Converted == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("dedupe.service"),
		clock:  p.Clock,
		ledger: p.Ledger,
		collections: map[Target]collection{
			TargetFormations: formations{repo: p.Repo},
			TargetConverted:  converted{repo: p.Converted},
		},
	}, nil
}

// GroupError records a duplicate that could not be merged into its survivor.
type GroupError struct {
	Key string
	Err error
}

func (e GroupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e GroupError) Unwrap() error { return e.Err }

type Result struct {
	Target Target
	Groups int
	Merged int
	// Survivors lists the surviving row of every group, keyed by group key.
	Survivors map[string]string
	Errors    []GroupError
}

// Err joins the per-group errors, nil when every group merged cleanly.
func (r Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Run finds every group of rows sharing a key, then merges each group into
// its earliest member. Groups are detected on the complete table before any
// merge. A storage error while detecting groups aborts the run; a failed merge
// is recorded and the run moves on.
func (s *Service) Run(ctx context.Context, target Target) (Result, error) {
	coll, ok := s.collections[target]
	if !ok {
		return Result{}, ErrUnknownTarget
	}
	result := Result{Target: target, Survivors: map[string]string{}}

	groups, err := coll.groups(ctx, s.db)
	if err != nil {
		return result, fmt.Errorf("find duplicate groups: %w", err)
	}
	result.Groups = len(groups)

	log := obslogger.WithContext(ctx, s.log).With(zap.String("target", string(target)))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		merged, survivor, errs := s.resolve(ctx, coll, g)
		result.Merged += merged
		if survivor != "" {
			result.Survivors[g.label] = survivor
		}
		for _, err := range errs {
			result.Errors = append(result.Errors, GroupError{Key: g.label, Err: err})
			log.Warn("dedupe.merge.failed", zap.String("key", g.label), zap.Error(err))
		}
	}

	log.Info("dedupe.finished",
		zap.Int("groups", result.Groups),
		zap.Int("merged", result.Merged),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// resolve merges every duplicate of g into the survivor, one transaction per
// duplicate. Later duplicates overwrite fields set by earlier ones.
func (s *Service) resolve(ctx context.Context, coll collection, g group) (int, string, []error) {
	members, err := coll.members(ctx, s.db, g)
	if err != nil {
		return 0, "", []error{err}
	}
	if len(members) < 2 {
		return 0, "", nil
	}

	survivor := members[0]
	current := make(map[string]any, len(survivor.values))
	for k, v := range survivor.values {
		current[k] = v
	}

	var errs []error
	merged := 0
	for _, dup := range members[1:] {
		changes := diff.Diff(current, dup.values, coll.excluded()...)
		now := s.clock.Now()

		_, err := s.ledger.Apply(ctx, s.db, history.Mutation{
			Ref:     history.Ref{Type: coll.entity(), ID: survivor.id},
			Current: current,
			To:      changes,
			At:      now,
			Persist: func(tx *gorm.DB) error {
				if err := coll.patch(ctx, tx, survivor.id, changes, now); err != nil {
					return err
				}
				if err := coll.remove(ctx, tx, dup.id); err != nil {
					return err
				}
				return s.ledger.Drop(ctx, tx, history.Ref{Type: coll.entity(), ID: dup.id})
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("merge %s: %w", dup.id, err))
			continue
		}
		for k, v := range changes {
			current[k] = v
		}
		merged++
	}
	return merged, survivor.id.String(), errs
}
