// Package reconcile classifies a feed snapshot against the persisted
// formations and applies the resulting inserts, updates and deactivations.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/history"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"github.com/smallbiznis/catalogue/internal/scan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_reconcile_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Ledger   *history.Ledger
	Pipeline *config.PipelineConfigHolder `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	ledger   *history.Ledger
	pipeline *config.PipelineConfigHolder
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	pipeline := p.Pipeline
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reconcile.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		ledger:   p.Ledger,
		pipeline: pipeline,
	}, nil
}

// Run classifies snapshot and applies the plan.
func (s *Service) Run(ctx context.Context, snapshot []domain.SourceRecord) (Result, error) {
	plan, err := s.Classify(ctx, snapshot)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(ctx, plan)
}

func (s *Service) scanOptions() scan.Options {
	cfg := s.pipeline.Get()
	opts := scan.Options{PageSize: cfg.PageSize, Workers: cfg.Workers}
	if opts.PageSize <= 0 {
		opts.PageSize = scan.DefaultPageSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return opts
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// Apply writes plan. Inserts, updates and deactivations are committed one
// formation at a time; the first storage error stops the run and is returned
// together with what was written so far.
func (s *Service) Apply(ctx context.Context, plan Plan) (Result, error) {
	r := newRun(plan)

	for _, rec := range plan.Added {
		change, err := s.insert(ctx, rec)
		if err != nil {
			return r.freeze(), fmt.Errorf("insert %s: %w", rec.Key, err)
		}
		r.added = append(r.added, change)
	}

	for _, u := range plan.Updates {
		change, err := s.update(ctx, u)
		if err != nil {
			return r.freeze(), fmt.Errorf("update %s: %w", u.Formation.Key(), err)
		}
		r.updated = append(r.updated, change)
	}

	for _, f := range plan.Deleted {
		change, err := s.deactivate(ctx, f)
		if err != nil {
			return r.freeze(), fmt.Errorf("deactivate %s: %w", f.Key(), err)
		}
		r.deleted = append(r.deleted, change)
	}

	result := r.freeze()
	s.logger(ctx).Info("reconcile.applied",
		zap.Int("added", len(result.added)),
		zap.Int("updated", len(result.updated)),
		zap.Int("reopened", result.Reopened()),
		zap.Int("deleted", len(result.deleted)),
		zap.Int("rejected", len(result.rejected)),
		zap.Int("unchanged", result.unchanged),
	)
	return result, nil
}

func (s *Service) insert(ctx context.Context, rec domain.SourceRecord) (Change, error) {
	now := s.clock.Now()
	f := &domain.Formation{
		ID:           s.genID.Generate(),
		NaturalKey:   rec.Key,
		Published:    true,
		Fields:       rec.Fields,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, f); err != nil {
		return Change{}, err
	}
	return Change{ID: f.ID, Key: f.Key(), Status: StatusAdded}, nil
}

func (s *Service) update(ctx context.Context, u Update) (Change, error) {
	now := s.clock.Now()
	patch := domain.PatchFromChanges(u.Changes, now)
	patch.ResetConversion = true

	_, err := s.ledger.Apply(ctx, s.db, history.Mutation{
		Ref:     history.Ref{Type: history.EntityFormation, ID: u.Formation.ID},
		Current: u.Formation.Values(),
		To:      u.Changes,
		At:      now,
		Persist: func(tx *gorm.DB) error {
			_, err := s.repo.ApplyPatch(ctx, tx, u.Formation.ID, patch)
			return err
		},
	})
	if err != nil {
		return Change{}, err
	}

	status := StatusUpdated
	if u.Reactivation {
		status = StatusReopened
	}
	return Change{ID: u.Formation.ID, Key: u.Formation.Key(), Status: status, Changes: u.Changes}, nil
}

func (s *Service) deactivate(ctx context.Context, f domain.Formation) (Change, error) {
	now := s.clock.Now()
	unpublished := false
	changes := map[string]any{domain.FieldPublished: false}

	_, err := s.ledger.Apply(ctx, s.db, history.Mutation{
		Ref:     history.Ref{Type: history.EntityFormation, ID: f.ID},
		Current: f.Values(),
		To:      changes,
		At:      now,
		Persist: func(tx *gorm.DB) error {
			_, err := s.repo.ApplyPatch(ctx, tx, f.ID, domain.Patch{
				Published:       &unpublished,
				LastUpdateAt:    now,
				ResetConversion: true,
			})
			return err
		},
	})
	if err != nil {
		return Change{}, err
	}
	return Change{ID: f.ID, Key: f.Key(), Status: StatusDeleted, Changes: changes}, nil
}
