package logger

import (
	"context"
	"testing"

	"github.com/smallbiznis/catalogue/internal/observability/obscontext"
	"github.com/smallbiznis/catalogue/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := correlation.ContextWithCorrelationID(context.Background(), "01HZX")
	ctx = obscontext.WithRunID(ctx, "42")
	ctx = obscontext.WithPhase(ctx, "import")

	WithContext(ctx, base).Info("pipeline.job.start")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "01HZX", fields["correlation_id"])
	assert.Equal(t, "42", fields["run_id"])
	assert.Equal(t, "import", fields["phase"])
	assert.NotContains(t, fields, "trace_id")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "console", normalizeFormat(" Console "))
	assert.Equal(t, "json", normalizeFormat("xml"))
}
