package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/diff"
	directorydomain "github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/internal/matching/domain"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"github.com/smallbiznis/catalogue/internal/scan"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_matching_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Directory directorydomain.Directory
	Pipeline  *config.PipelineConfigHolder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	directory directorydomain.Directory
	pipeline  *config.PipelineConfigHolder
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Directory == nil {
		return nil, ErrInvalidConfig
	}
	pipeline := p.Pipeline
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("matching.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		directory: p.Directory,
		pipeline:  pipeline,
	}, nil
}

type Options struct {
	// Directory overrides the configured directory, typically with an index
	// loaded once for the whole run.
	Directory directorydomain.Directory
}

type Result struct {
	Formations int
	Updated    int
	Unchanged  int
	// Matched is the total number of establishments written.
	Matched int
}

// MatchFormation looks every role slot of every candidate of f up in dir and
// folds the hits into one entry per establishment, in discovery order, whose
// roles are the union of the roles it was found through.
func MatchFormation(ctx context.Context, dir directorydomain.Directory, f domain.PsFormation) ([]domain.MatchedEstablishment, error) {
	index := map[string]int{}
	var out []domain.MatchedEstablishment

	for _, candidate := range f.MatchingMnaFormation {
		for _, slot := range candidate.Slots() {
			hits, err := dir.LookupByUAI(ctx, slot.UAI)
			if err != nil {
				return nil, fmt.Errorf("lookup %s %s: %w", slot.Role, slot.UAI, err)
			}
			for _, e := range hits {
				id := e.ID.String()
				pos, ok := index[id]
				if !ok {
					index[id] = len(out)
					out = append(out, domain.NewMatchedEstablishment(e, slot.Role))
					continue
				}
				if !out[pos].HasRole(slot.Role) {
					out[pos].MatchedUAI = append(out[pos].MatchedUAI, slot.Role)
				}
			}
		}
	}
	return out, nil
}

// Run rematches every formation carrying a matching type and overwrites its
// matched establishments, including with an empty collection. A directory
// failure aborts the run.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	dir := opts.Directory
	if dir == nil {
		dir = s.directory
	}
	cfg := s.pipeline.Get()
	log := obslogger.WithContext(ctx, s.log)

	pager := scan.PagerFunc[domain.PsFormation]{
		Fetch: func(ctx context.Context, after pagination.Cursor, limit int) ([]domain.PsFormation, error) {
			return s.repo.ListMatchable(ctx, s.db, after, limit)
		},
		Cursor: func(f domain.PsFormation) pagination.Cursor {
			return pagination.After(f.ID)
		},
	}

	var (
		mu     sync.Mutex
		result Result
	)
	_, err := scan.Scan(ctx, pager, scan.Options{PageSize: cfg.PageSize, Workers: cfg.Workers}, func(ctx context.Context, f domain.PsFormation) error {
		matches, err := MatchFormation(ctx, dir, f)
		if err != nil {
			return err
		}
		if matches == nil {
			matches = []domain.MatchedEstablishment{}
		}

		changed := !diff.Equal(diff.FromAny([]domain.MatchedEstablishment(f.MatchingMnaEtablissement)), diff.FromAny(matches))
		if changed {
			if err := s.repo.ReplaceMatches(ctx, s.db, f.ID, matches, s.clock.Now()); err != nil {
				return fmt.Errorf("replace matches %s: %w", f.ID, err)
			}
		}

		mu.Lock()
		defer mu.Unlock()
		result.Formations++
		if changed {
			result.Updated++
			result.Matched += len(matches)
		} else {
			result.Unchanged++
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	log.Info("matching.finished",
		zap.Int("formations", result.Formations),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("matched", result.Matched),
	)
	return result, nil
}
