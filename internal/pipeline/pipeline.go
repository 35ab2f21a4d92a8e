// Package pipeline runs the catalogue phases in order: import the feed
// snapshot, merge duplicates, convert to the catalogue schema, match
// establishments and report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/convert"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	"github.com/smallbiznis/catalogue/internal/directory"
	dirrepository "github.com/smallbiznis/catalogue/internal/directory/repository"
	"github.com/smallbiznis/catalogue/internal/feed"
	formationdomain "github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/lock"
	matchingservice "github.com/smallbiznis/catalogue/internal/matching/service"
	obsmetrics "github.com/smallbiznis/catalogue/internal/observability/metrics"
	"github.com/smallbiznis/catalogue/internal/observability/obscontext"
	"github.com/smallbiznis/catalogue/internal/reconcile"
	"github.com/smallbiznis/catalogue/internal/report"
	"github.com/smallbiznis/catalogue/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	PhaseImport  = "import"
	PhaseDedupe  = "dedupe"
	PhaseConvert = "convert"
	PhaseMatch   = "match"
	PhaseReport  = "report"

	tracerName = "catalogue/pipeline"
)

// AllPhases lists every phase in execution order.
var AllPhases = []string{PhaseImport, PhaseDedupe, PhaseConvert, PhaseMatch, PhaseReport}

var (
	ErrInvalidConfig = errors.New("invalid_pipeline_config")
	ErrUnknownPhase  = errors.New("unknown_phase")
)

type Importer interface {
	Run(ctx context.Context, snapshot []formationdomain.SourceRecord) (reconcile.Result, error)
}

type Deduplicator interface {
	Run(ctx context.Context, target dedupe.Target) (dedupe.Result, error)
}

type Converter interface {
	Run(ctx context.Context, opts convert.Options) (convert.Result, error)
	CheckZipCodes(ctx context.Context) ([]convert.ZipWarning, error)
}

type Matcher interface {
	Run(ctx context.Context, opts matchingservice.Options) (matchingservice.Result, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config                       `optional:"true"`
	Pipeline   *config.PipelineConfigHolder `optional:"true"`
	Source     feed.Source
	Formations formationdomain.Repository
	Importer   Importer
	Dedupe     Deduplicator
	Converter  Converter
	Matcher    Matcher
	Reporter   report.Reporter      `optional:"true"`
	Locker     lock.Locker          `optional:"true"`
	Directory  *dirrepository.Store `optional:"true"`
	Pusher     *obsmetrics.Pusher   `optional:"true"`
}

type Pipeline struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	pipeline   *config.PipelineConfigHolder
	source     feed.Source
	formations formationdomain.Repository
	importer   Importer
	dedupe     Deduplicator
	converter  Converter
	matcher    Matcher
	reporter   report.Reporter
	locker     lock.Locker
	directory  *dirrepository.Store
	pusher     *obsmetrics.Pusher
}

func New(p Params) (*Pipeline, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Source == nil || p.Formations == nil ||
		p.Importer == nil || p.Dedupe == nil || p.Converter == nil || p.Matcher == nil {
		return nil, ErrInvalidConfig
	}
	pipeline := p.Pipeline
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Pipeline{
		db:         p.DB,
		log:        p.Log.Named("pipeline").With(zap.String("component", "pipeline")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		pipeline:   pipeline,
		source:     p.Source,
		formations: p.Formations,
		importer:   p.Importer,
		dedupe:     p.Dedupe,
		converter:  p.Converter,
		matcher:    p.Matcher,
		reporter:   p.Reporter,
		locker:     locker,
		directory:  p.Directory,
		pusher:     p.Pusher,
	}, nil
}

// RunOptions narrows a run. The zero value runs the configured phases.
type RunOptions struct {
	// Phases to run; they always execute in AllPhases order.
	Phases []string
	// Targets of the dedupe phase, formations only when empty.
	Targets     []dedupe.Target
	RetryErrors bool
}

type jobFunc func(ctx context.Context, job *jobRun) error

// RunOnce runs the configured phases once.
func (p *Pipeline) RunOnce(ctx context.Context) (report.Report, error) {
	return p.Run(ctx, RunOptions{})
}

// Run executes the selected phases under the run lock. Every phase runs even
// when an earlier one failed; their errors are joined. The report of the run
// is returned in all cases.
func (p *Pipeline) Run(parent context.Context, opts RunOptions) (report.Report, error) {
	phases, err := p.selectPhases(opts.Phases)
	if err != nil {
		return report.Report{}, err
	}
	cfg := p.pipeline.Get()

	ctx, _ := correlation.EnsureCorrelationID(parent)
	runID := p.genID.Generate().String()
	ctx = obscontext.WithRunID(ctx, runID)
	st := newRunState(runID, p.clock.Now())
	log := p.logger(ctx)

	token, ok, err := p.locker.TryLock(ctx, p.cfg.LockKey, p.cfg.LockTTL)
	if err != nil {
		return st.freeze(), fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		obsmetrics.Pipeline().IncJobError("pipeline", lock.ErrRunInProgress)
		log.Warn("pipeline.skipped", zap.String("reason", obsmetrics.JobReasonRunInProgress))
		return st.freeze(), lock.ErrRunInProgress
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), p.cfg.LockKey, token); err != nil {
			log.Warn("pipeline.lock.release_failed", zap.Error(err))
		}
	}()

	started := time.Now()
	log.Info("pipeline.start", zap.Strings("phases", phases))

	var runErr error
	for _, phase := range phases {
		var fn jobFunc
		switch phase {
		case PhaseImport:
			fn = p.importPhase(st)
		case PhaseDedupe:
			fn = p.dedupePhase(st, opts.Targets)
		case PhaseConvert:
			fn = p.convertPhase(st, opts.RetryErrors)
		case PhaseMatch:
			fn = p.matchPhase(cfg.PageSize)
		case PhaseReport:
			fn = p.reportPhase(st)
		}
		runErr = errors.Join(runErr, p.runJob(ctx, phase, cfg.PageSize, cfg.JobTimeout, st, fn))
	}

	if err := p.pusher.Push(ctx, runID); err != nil {
		log.Warn("pipeline.metrics.push_failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		zap.Int("error_count", st.summary.ErrorCount),
	}
	if runErr != nil {
		log.Warn("pipeline.finish", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("pipeline.finish", fields...)
	}
	return st.freeze(), runErr
}

// RunForever runs the pipeline every RunInterval until ctx is done.
func (p *Pipeline) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := p.clock.Now().Add(p.cfg.RunInterval)
	pipelineMetrics := obsmetrics.Pipeline()

	for {
		runLag := p.clock.Now().Sub(nextRun)
		if runLag > 0 {
			pipelineMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := p.RunOnce(ctx); err != nil {
			p.log.Warn("pipeline run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(p.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) selectPhases(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = p.pipeline.Get().Phases
	}
	if len(requested) == 0 {
		return append([]string(nil), AllPhases...), nil
	}
	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		if !isPhase(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
		}
		wanted[name] = true
	}
	phases := make([]string, 0, len(wanted))
	for _, name := range AllPhases {
		if wanted[name] {
			phases = append(phases, name)
		}
	}
	return phases, nil
}

func isPhase(name string) bool {
	for _, phase := range AllPhases {
		if phase == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	st *runState,
	fn jobFunc,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithPhase(ctx, name)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline."+name)
	span.SetAttributes(attribute.String("run_id", st.runID))
	defer span.End()

	run := newJobRun(name, st.runID, batchSize)
	p.logJobStart(ctx, run)
	log := p.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	pipelineMetrics := obsmetrics.Pipeline()
	pipelineMetrics.IncJobRun(name)

	err := fn(ctx, run)
	pipelineMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	p.logJobFinish(ctx, run)
	if err == nil {
		pipelineMetrics.MarkSuccess(name, p.clock.Now())
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	st.addError(name, err)

	// Only the phase's own deadline counts as a timeout.
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		pipelineMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
	}
	pipelineMetrics.IncJobError(name, err)

	return fmt.Errorf("%s: %w", name, err)
}

func (p *Pipeline) importPhase(st *runState) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		snapshot, err := p.source.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("fetch snapshot: %w", err)
		}

		res, err := p.importer.Run(ctx, snapshot)
		st.recordImport(res)
		run.AddProcessed(res.SnapshotSize())
		run.AddErrors(len(res.Rejected()))

		pipelineMetrics := obsmetrics.Pipeline()
		reopened := res.Reopened()
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeAdded, len(res.Added()))
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeUpdated, len(res.Updated())-reopened)
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeReactivated, reopened)
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeDeleted, len(res.Deleted()))
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeRejected, len(res.Rejected()))
		pipelineMetrics.AddRecords(PhaseImport, obsmetrics.OutcomeUnchanged, res.Unchanged())
		if err != nil {
			return err
		}

		published, err := p.formations.CountPublished(ctx, p.db)
		if err != nil {
			return err
		}
		deactivated, err := p.formations.CountUnpublished(ctx, p.db)
		if err != nil {
			return err
		}
		st.summary.PublishedCount = published
		st.summary.DeactivatedCount = deactivated
		return nil
	}
}

func (p *Pipeline) dedupePhase(st *runState, targets []dedupe.Target) jobFunc {
	if len(targets) == 0 {
		targets = []dedupe.Target{dedupe.TargetFormations}
	}
	return func(ctx context.Context, run *jobRun) error {
		pipelineMetrics := obsmetrics.Pipeline()
		for _, target := range targets {
			res, err := p.dedupe.Run(ctx, target)
			st.recordDedupe(res)
			run.AddProcessed(res.Groups)
			run.AddErrors(len(res.Errors))
			pipelineMetrics.AddRecords(PhaseDedupe, obsmetrics.OutcomeMerged, res.Merged)
			pipelineMetrics.AddRecords(PhaseDedupe, obsmetrics.OutcomeFailed, len(res.Errors))
			if err != nil {
				return fmt.Errorf("%s: %w", target, err)
			}
		}
		return nil
	}
}

func (p *Pipeline) convertPhase(st *runState, retryErrors bool) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		res, err := p.converter.Run(ctx, convert.Options{RetryErrors: retryErrors})
		st.recordConvert(res)
		run.AddProcessed(len(res.Converted) + len(res.Invalid))
		run.AddErrors(len(res.Invalid))

		pipelineMetrics := obsmetrics.Pipeline()
		pipelineMetrics.AddRecords(PhaseConvert, obsmetrics.OutcomeConverted, len(res.Converted))
		pipelineMetrics.AddRecords(PhaseConvert, obsmetrics.OutcomeFailed, len(res.Invalid))
		if err != nil {
			return err
		}

		warnings, err := p.converter.CheckZipCodes(ctx)
		if err != nil {
			return fmt.Errorf("check zip codes: %w", err)
		}
		st.recordZipWarnings(warnings)
		return nil
	}
}

func (p *Pipeline) matchPhase(pageSize int) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		var opts matchingservice.Options
		if p.cfg.PreloadDirectory && p.directory != nil {
			index, err := directory.Load(ctx, p.directory, pageSize)
			if err != nil {
				return fmt.Errorf("load directory: %w", err)
			}
			opts.Directory = index
		}

		res, err := p.matcher.Run(ctx, opts)
		run.AddProcessed(res.Formations)

		pipelineMetrics := obsmetrics.Pipeline()
		pipelineMetrics.AddRecords(PhaseMatch, obsmetrics.OutcomeMatched, res.Updated)
		pipelineMetrics.AddRecords(PhaseMatch, obsmetrics.OutcomeUnchanged, res.Unchanged)
		return err
	}
}

func (p *Pipeline) reportPhase(st *runState) jobFunc {
	return func(ctx context.Context, _ *jobRun) error {
		if p.reporter == nil {
			p.logger(ctx).Debug("pipeline.report.skipped")
			return nil
		}
		return p.reporter.Report(ctx, st.freeze())
	}
}
