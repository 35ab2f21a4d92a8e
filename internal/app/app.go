// Package app assembles the catalogue components into one fx application.
package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/convert"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	"github.com/smallbiznis/catalogue/internal/directory"
	"github.com/smallbiznis/catalogue/internal/feed"
	"github.com/smallbiznis/catalogue/internal/formation"
	"github.com/smallbiznis/catalogue/internal/history"
	"github.com/smallbiznis/catalogue/internal/lock"
	"github.com/smallbiznis/catalogue/internal/matching"
	"github.com/smallbiznis/catalogue/internal/migration"
	"github.com/smallbiznis/catalogue/internal/observability"
	"github.com/smallbiznis/catalogue/internal/pipeline"
	"github.com/smallbiznis/catalogue/internal/reconcile"
	"github.com/smallbiznis/catalogue/internal/report"
	"github.com/smallbiznis/catalogue/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Modules returns every module of the catalogue.
func Modules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(NewSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		// Functional Domains
		formation.Module,
		history.Module,
		feed.Module,
		reconcile.Module,
		dedupe.Module,
		convert.Module,
		directory.Module,
		matching.Module,
		report.Module,
		pipeline.Module,
	)
}

// QuietLogger routes fx lifecycle events to the application logger, keeping
// only warnings and errors.
func QuietLogger() fx.Option {
	return fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
	})
}

func NewSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
