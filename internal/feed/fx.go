package feed

import (
	"github.com/smallbiznis/catalogue/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("feed",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the HTTP feed when a URL is configured and falls back
// to a local dump file.
func NewFromConfig(cfg config.Config, log *zap.Logger) Source {
	switch {
	case cfg.Feed.URL != "":
		return NewHTTPSource(cfg.Feed.URL, cfg.Feed.APIKey, cfg.Feed.Timeout, log)
	case cfg.Feed.File != "":
		return NewFileSource(cfg.Feed.File, log)
	default:
		log.Warn("feed source not configured")
		return unconfigured{}
	}
}
