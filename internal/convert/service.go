// Package convert projects reconciled formations onto the catalogue schema.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/history"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"github.com/smallbiznis/catalogue/internal/scan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_convert_config")
	ErrNoProgress    = errors.New("conversion_no_progress")
)

// convertedExcluded are the converted formation columns never compared.
var convertedExcluded = []string{"id", "created_at", "last_update_at"}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Converted domain.ConvertedRepository
	Ledger    *history.Ledger
	Pipeline  *config.PipelineConfigHolder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	converted domain.ConvertedRepository
	ledger    *history.Ledger
	pipeline  *config.PipelineConfigHolder
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Converted == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	pipeline := p.Pipeline
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("convert.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		converted: p.Converted,
		ledger:    p.Ledger,
		pipeline:  pipeline,
	}, nil
}

type Options struct {
	// RetryErrors clears earlier failures so they are attempted again.
	RetryErrors bool
}

// Converted describes one formation written to the catalogue.
type Converted struct {
	IDRcoFormation string
	CFD            string
	// Updated is set when a catalogue record already existed for the key.
	Updated bool
	Changes diff.Changes
}

// Invalid describes a formation that failed to convert.
type Invalid struct {
	IDRcoFormation string
	CFD            string
	Error          string
}

type Result struct {
	Converted []Converted
	Invalid   []Invalid
	// Finalized is the number of formations flagged converted at the end of
	// the run.
	Finalized int64
	Retried   int64
}

type outcome struct {
	converted *Converted
	invalid   *Invalid
}

// Run converts every formation not yet converted nor attempted. Each page is
// the head of the remaining set: records leave the set as soon as they are
// marked, so the loop never skips or repeats a record. Flags are flipped to
// converted once the loop is done.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	var result Result
	log := obslogger.WithContext(ctx, s.log)
	cfg := s.pipeline.Get()
	pageSize, workers := cfg.PageSize, cfg.Workers
	if pageSize <= 0 {
		pageSize = scan.DefaultPageSize
	}
	if workers <= 0 {
		workers = 1
	}

	if opts.RetryErrors {
		n, err := s.repo.ResetConversionErrors(ctx, s.db)
		if err != nil {
			return result, fmt.Errorf("reset conversion errors: %w", err)
		}
		result.Retried = n
	}

	previous := int64(-1)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		remaining, err := s.repo.CountUnconverted(ctx, s.db)
		if err != nil {
			return result, fmt.Errorf("count unconverted: %w", err)
		}
		if remaining == 0 {
			break
		}
		if previous >= 0 && remaining >= previous {
			return result, ErrNoProgress
		}
		previous = remaining

		page, err := s.repo.ListUnconverted(ctx, s.db, pageSize)
		if err != nil {
			return result, fmt.Errorf("list unconverted: %w", err)
		}
		if len(page) == 0 {
			break
		}

		outcomes, err := s.convertPage(ctx, page, workers)
		if err != nil {
			return result, err
		}
		for _, o := range outcomes {
			if o.converted != nil {
				result.Converted = append(result.Converted, *o.converted)
			}
			if o.invalid != nil {
				result.Invalid = append(result.Invalid, *o.invalid)
			}
		}
		log.Info("convert.progress",
			zap.Int("page", len(page)),
			zap.Int64("remaining", remaining-int64(len(page))),
		)
	}

	finalized, err := s.repo.FinalizeConversions(ctx, s.db)
	if err != nil {
		return result, fmt.Errorf("finalize conversions: %w", err)
	}
	result.Finalized = finalized

	log.Info("convert.finished",
		zap.Int("converted", len(result.Converted)),
		zap.Int("invalid", len(result.Invalid)),
		zap.Int64("finalized", result.Finalized),
	)
	return result, nil
}

func (s *Service) convertPage(ctx context.Context, page []domain.Formation, workers int) ([]outcome, error) {
	outcomes := make([]outcome, len(page))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, lane := range lanesByKey(page) {
		lane := lane
		g.Go(func() error {
			for _, i := range lane {
				o, err := s.convertOne(gctx, page[i])
				if err != nil {
					return fmt.Errorf("convert %s: %w", page[i].Key(), err)
				}
				outcomes[i] = o
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// lanesByKey groups page indexes by catalogue identifier, in page order.
// Rows of one lane are converted sequentially so the catalogue record of a
// key is created at most once.
func lanesByKey(page []domain.Formation) [][]int {
	var lanes [][]int
	byKey := make(map[string]int, len(page))
	for i, f := range page {
		key := f.Key().String()
		lane, ok := byKey[key]
		if !ok {
			lane = len(lanes)
			byKey[key] = lane
			lanes = append(lanes, nil)
		}
		lanes[lane] = append(lanes[lane], i)
	}
	return lanes
}

// convertOne maps f and writes the outcome. A mapping error is stored on the
// formation and is not returned; only storage errors are.
func (s *Service) convertOne(ctx context.Context, f domain.Formation) (outcome, error) {
	mapped, mapErr := Map(f)
	if mapErr != nil {
		msg := mapErr.Error()
		if err := s.repo.MarkConversion(ctx, s.db, f.ID, msg); err != nil {
			return outcome{}, err
		}
		obslogger.WithContext(ctx, s.log).Warn("convert.invalid",
			zap.String("id_rco_formation", f.Key().String()),
			zap.String("cfd", f.Field("cfd")),
			zap.String("error", msg),
		)
		return outcome{invalid: &Invalid{
			IDRcoFormation: f.Key().String(),
			CFD:            f.Field("cfd"),
			Error:          msg,
		}}, nil
	}

	var converted Converted
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.upsert(ctx, tx, mapped)
		if err != nil {
			return err
		}
		converted = c
		return s.repo.MarkConversion(ctx, tx, f.ID, domain.ConversionPending)
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{converted: &converted}, nil
}

// upsert writes the catalogue record for mapped.IDRcoFormation, updating the
// existing one in place when there is one.
func (s *Service) upsert(ctx context.Context, tx *gorm.DB, mapped domain.ConvertedFormation) (Converted, error) {
	now := s.clock.Now()
	out := Converted{IDRcoFormation: mapped.IDRcoFormation, CFD: mapped.CFD}

	existing, err := s.converted.FindByRcoID(ctx, tx, mapped.IDRcoFormation)
	if err != nil {
		return out, err
	}
	if len(existing) == 0 {
		mapped.ID = s.genID.Generate()
		mapped.CreatedAt = now
		mapped.LastUpdateAt = now
		return out, s.converted.Insert(ctx, tx, &mapped)
	}

	current := existing[0]
	out.Updated = true
	changes := diff.Diff(current.Values(), mapped.Values(), convertedExcluded...)
	if changes.Empty() {
		return out, nil
	}
	out.Changes = changes
	if err := s.converted.UpdateFields(ctx, tx, current.ID, changes, now); err != nil {
		return out, err
	}
	_, err = s.ledger.Append(ctx, tx, history.Mutation{
		Ref:     history.Ref{Type: history.EntityConvertedFormation, ID: current.ID},
		Current: current.Values(),
		To:      changes,
		At:      now,
	})
	return out, err
}
