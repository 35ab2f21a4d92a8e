package pipeline

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func newJobRun(job, runID string, batchSize int) *jobRun {
	return &jobRun{
		job:       job,
		runID:     runID,
		batchSize: batchSize,
		startedAt: time.Now(),
	}
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) AddErrors(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.errorCount += count
}

func (r *jobRun) IncError() {
	r.AddErrors(1)
}

func (p *Pipeline) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, p.log)
}

func (p *Pipeline) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	p.logger(ctx).Info("pipeline.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (p *Pipeline) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := p.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("pipeline.job.finish", fields...)
		return
	}
	log.Info("pipeline.job.finish", fields...)
}
