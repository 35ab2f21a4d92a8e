package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/convert"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	directorydomain "github.com/smallbiznis/catalogue/internal/directory/domain"
	dirrepository "github.com/smallbiznis/catalogue/internal/directory/repository"
	"github.com/smallbiznis/catalogue/internal/feed"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/formation/repository"
	"github.com/smallbiznis/catalogue/internal/history"
	"github.com/smallbiznis/catalogue/internal/lock"
	matchingdomain "github.com/smallbiznis/catalogue/internal/matching/domain"
	matchingrepository "github.com/smallbiznis/catalogue/internal/matching/repository"
	matchingservice "github.com/smallbiznis/catalogue/internal/matching/service"
	obsmetrics "github.com/smallbiznis/catalogue/internal/observability/metrics"
	"github.com/smallbiznis/catalogue/internal/reconcile"
	"github.com/smallbiznis/catalogue/internal/report"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type capturingReporter struct {
	reports []report.Report
}

func (c *capturingReporter) Report(_ context.Context, r report.Report) error {
	c.reports = append(c.reports, r)
	return nil
}

type failingSource struct{ err error }

func (f failingSource) Snapshot(context.Context) ([]domain.SourceRecord, error) {
	return nil, f.err
}

type stalledConverter struct{}

func (stalledConverter) Run(ctx context.Context, _ convert.Options) (convert.Result, error) {
	<-ctx.Done()
	return convert.Result{}, ctx.Err()
}

func (stalledConverter) CheckZipCodes(context.Context) ([]convert.ZipWarning, error) {
	return nil, nil
}

type harness struct {
	db       *gorm.DB
	pipeline *Pipeline
	reporter *capturingReporter
	locker   *lock.LocalLocker
}

func newHarness(t *testing.T, source feed.Source) *harness {
	t.Helper()
	db := testutil.OpenDB(t,
		&domain.Formation{},
		&domain.ConvertedFormation{},
		&history.Entry{},
		&directorydomain.Establishment{},
		&matchingdomain.PsFormation{},
		&report.Record{},
	)
	node := testutil.Node(t)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2024, 9, 2, 6, 0, 0, 0, time.UTC))
	holder := config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	repo := repository.Provide()
	converted := repository.ProvideConverted()
	ledger := history.NewLedger(history.Params{Log: log, GenID: node, Repo: history.ProvideRepository()})
	store := dirrepository.NewStore(db)

	importer, err := reconcile.New(reconcile.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: repo, Ledger: ledger, Pipeline: holder,
	})
	require.NoError(t, err)
	deduplicator, err := dedupe.New(dedupe.Params{
		DB: db, Log: log, Clock: fake, Repo: repo, Converted: converted, Ledger: ledger,
	})
	require.NoError(t, err)
	converter, err := convert.New(convert.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: repo, Converted: converted, Ledger: ledger, Pipeline: holder,
	})
	require.NoError(t, err)
	matcher, err := matchingservice.New(matchingservice.Params{
		DB: db, Log: log, Clock: fake, Repo: matchingrepository.Provide(), Directory: store, Pipeline: holder,
	})
	require.NoError(t, err)

	reporter := &capturingReporter{}
	locker := lock.NewLocalLocker()
	p, err := New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Config:     DefaultConfig(),
		Pipeline:   holder,
		Source:     source,
		Formations: repo,
		Importer:   importer,
		Dedupe:     deduplicator,
		Converter:  converter,
		Matcher:    matcher,
		Reporter:   reporter,
		Locker:     locker,
		Directory:  store,
	})
	require.NoError(t, err)
	return &harness{db: db, pipeline: p, reporter: reporter, locker: locker}
}

func record(t *testing.T, key, cfd string) domain.SourceRecord {
	t.Helper()
	k, err := domain.ParseKey(key)
	require.NoError(t, err)
	return domain.SourceRecord{Key: k, Fields: map[string]any{"cfd": cfd}}
}

func swapPrometheusRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	prevRegisterer := prometheus.DefaultRegisterer
	prevGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetPipelineMetricsForTest()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = prevRegisterer
		prometheus.DefaultGatherer = prevGatherer
	})
	return registry
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestRunOnceImportsConvertsAndReports(t *testing.T) {
	h := newHarness(t, feed.Static{
		record(t, "F1|A1|C1", "50022137"),
		record(t, "F2|A2|C2", "50022138"),
	})

	got, err := h.pipeline.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, got.Summary.FormationsJCount)
	assert.Equal(t, 2, got.Summary.AddedCount)
	assert.Equal(t, 2, got.Summary.ConvertedCount)
	assert.Equal(t, int64(2), got.Summary.PublishedCount)
	assert.Equal(t, int64(0), got.Summary.DeactivatedCount)
	assert.Zero(t, got.Summary.ErrorCount)
	assert.Equal(t, report.TypeImport, got.Type)
	assert.NotEmpty(t, got.RunID)

	require.Len(t, h.reporter.reports, 1)
	assert.Equal(t, got.Summary, h.reporter.reports[0].Summary)

	var converted int64
	require.NoError(t, h.db.Model(&domain.ConvertedFormation{}).Count(&converted).Error)
	assert.Equal(t, int64(2), converted)
}

func TestRunOnceTwiceChangesNothing(t *testing.T) {
	h := newHarness(t, feed.Static{record(t, "F1|A1|C1", "50022137")})
	ctx := context.Background()

	_, err := h.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	second, err := h.pipeline.RunOnce(ctx)

	require.NoError(t, err)
	assert.Zero(t, second.Summary.AddedCount)
	assert.Zero(t, second.Summary.UpdatedCount)
	assert.Zero(t, second.Summary.ConvertedCount)
	assert.Equal(t, int64(1), second.Summary.PublishedCount)
}

func TestRunWithPhaseSubset(t *testing.T) {
	h := newHarness(t, feed.Static{record(t, "F1|A1|C1", "50022137")})

	got, err := h.pipeline.Run(context.Background(), RunOptions{Phases: []string{PhaseImport}})

	require.NoError(t, err)
	assert.Equal(t, 1, got.Summary.AddedCount)
	assert.Zero(t, got.Summary.ConvertedCount)
	assert.Empty(t, h.reporter.reports)
}

func TestRunRejectsUnknownPhase(t *testing.T) {
	h := newHarness(t, feed.Static{})

	_, err := h.pipeline.Run(context.Background(), RunOptions{Phases: []string{"rebuild"}})

	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestRunSkipsWhenAnotherRunHoldsTheLock(t *testing.T) {
	h := newHarness(t, feed.Static{record(t, "F1|A1|C1", "50022137")})
	cfg := DefaultConfig()
	_, ok, err := h.locker.TryLock(context.Background(), cfg.LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.pipeline.RunOnce(context.Background())

	assert.ErrorIs(t, err, lock.ErrRunInProgress)
	var count int64
	require.NoError(t, h.db.Model(&domain.Formation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunContinuesAfterFailedPhase(t *testing.T) {
	boom := errors.New("feed down")
	h := newHarness(t, failingSource{err: boom})

	got, err := h.pipeline.RunOnce(context.Background())

	assert.ErrorIs(t, err, boom)
	require.Len(t, h.reporter.reports, 1)
	assert.Equal(t, 1, got.Summary.ErrorCount)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "import: fetch snapshot")
	assert.Equal(t, got.Errors, h.reporter.reports[0].Errors)
}

func TestRunFailsWhenPhaseTimesOut(t *testing.T) {
	registry := swapPrometheusRegistry(t)
	h := newHarness(t, feed.Static{})
	cfg := config.DefaultPipelineConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	h.pipeline.pipeline = config.NewStaticPipelineConfigHolder(cfg)
	h.pipeline.converter = stalledConverter{}

	got, err := h.pipeline.Run(context.Background(), RunOptions{Phases: []string{PhaseConvert}})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "convert:")
	assert.Equal(t, 1, got.Summary.ErrorCount)
	assert.Equal(t, float64(1), getCounterValue(t, registry, "catalogue_pipeline_job_timeouts_total", map[string]string{"job": PhaseConvert}))
}

func TestRunRecordsPipelineMetrics(t *testing.T) {
	registry := swapPrometheusRegistry(t)
	h := newHarness(t, feed.Static{
		record(t, "F1|A1|C1", "50022137"),
		record(t, "F2|A2|C2", "50022138"),
	})

	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(1), getCounterValue(t, registry, "catalogue_pipeline_job_runs_total", map[string]string{"job": PhaseImport}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "catalogue_pipeline_job_runs_total", map[string]string{"job": PhaseReport}))
	assert.Equal(t, float64(2), getCounterValue(t, registry, "catalogue_pipeline_records_total", map[string]string{
		"job":     PhaseImport,
		"outcome": obsmetrics.OutcomeAdded,
	}))
	assert.Equal(t, float64(2), getCounterValue(t, registry, "catalogue_pipeline_records_total", map[string]string{
		"job":     PhaseConvert,
		"outcome": obsmetrics.OutcomeConverted,
	}))
}

func TestSelectPhasesKeepsExecutionOrder(t *testing.T) {
	h := newHarness(t, feed.Static{})

	got, err := h.pipeline.selectPhases([]string{PhaseReport, PhaseImport, PhaseReport})

	require.NoError(t, err)
	assert.Equal(t, []string{PhaseImport, PhaseReport}, got)
}
