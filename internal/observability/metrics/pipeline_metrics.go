package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/catalogue/internal/lock"
	"gorm.io/gorm"
)

// Config labels every pipeline metric and optionally points at a Pushgateway.
type Config struct {
	ServiceName    string
	Environment    string
	PushgatewayURL string
}

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonRunInProgress        = "run_in_progress"
	JobReasonUnknown              = "unknown"
)

const (
	OutcomeAdded       = "added"
	OutcomeUpdated     = "updated"
	OutcomeReactivated = "reactivated"
	OutcomeDeleted     = "deleted"
	OutcomeRejected    = "rejected"
	OutcomeMerged      = "merged"
	OutcomeConverted   = "converted"
	OutcomeFailed      = "failed"
	OutcomeMatched     = "matched"
	OutcomeUnchanged   = "unchanged"
)

// PipelineMetrics captures reconciliation pipeline health signals.
type PipelineMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
	lastSuccess      *prometheus.GaugeVec
	runLoopLag       prometheus.Observer
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "catalogue"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogue_pipeline_job_runs_total",
		Help:        "Pipeline phase runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "catalogue_pipeline_job_duration_seconds",
		Help:        "Pipeline phase latency.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogue_pipeline_job_timeouts_total",
		Help:        "Pipeline phases that hit their timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogue_pipeline_job_errors_total",
		Help:        "Pipeline phase errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	recordsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogue_pipeline_records_total",
		Help:        "Records handled by each phase, by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "catalogue_pipeline_last_success_timestamp_seconds",
		Help:        "Unix time of the last successful phase completion.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "catalogue_pipeline_runloop_lag_seconds",
		Help:        "Scheduled run lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.1, 1, 10, 60, 300, 900, 3600},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		recordsProcessed,
		lastSuccess,
		runLoopLag,
	)

	return &PipelineMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		recordsProcessed: recordsProcessed,
		lastSuccess:      lastSuccess,
		runLoopLag:       runLoopLag,
	}
}

// IncJobRun increments the run counter for a pipeline phase.
func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records phase latency in seconds.
func (m *PipelineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the phase error counter with classification.
func (m *PipelineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// AddRecords counts records handled by a phase for one outcome.
func (m *PipelineMetrics) AddRecords(job, outcome string, count int) {
	if m == nil || count <= 0 || m.recordsProcessed == nil {
		return
	}
	m.recordsProcessed.WithLabelValues(job, outcome).Add(float64(count))
}

func (m *PipelineMetrics) MarkSuccess(job string, at time.Time) {
	if m == nil || m.lastSuccess == nil {
		return
	}
	m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *PipelineMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyJobReason maps phase errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if errors.Is(err, lock.ErrRunInProgress) {
		return JobReasonRunInProgress
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

// IsRetryable reports whether rerunning the phase is likely to succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyJobReason(err) {
	case JobReasonDeadlineExceeded, JobReasonDBLockTimeout, JobReasonSerializationFailure, JobReasonRunInProgress:
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
