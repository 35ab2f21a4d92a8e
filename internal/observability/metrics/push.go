package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Pusher ships the registry to a Prometheus Pushgateway at the end of a batch
// run. A Pusher without URL does nothing.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func NewPusher(cfg Config, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	job := strings.TrimSpace(cfg.ServiceName)
	if job == "" {
		job = "catalogue"
	}
	return &Pusher{
		url:      strings.TrimSpace(cfg.PushgatewayURL),
		job:      job,
		gatherer: prometheus.DefaultGatherer,
		log:      log.Named("metrics.push"),
	}
}

func (p *Pusher) Enabled() bool {
	return p != nil && p.url != ""
}

func (p *Pusher) Push(ctx context.Context, runID string) error {
	if !p.Enabled() {
		return nil
	}
	pusher := push.New(p.url, p.job).Gatherer(p.gatherer)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		p.log.Warn("push failed", zap.String("url", p.url), zap.Error(err))
		return err
	}
	return nil
}
