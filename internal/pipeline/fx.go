package pipeline

import (
	"context"

	"github.com/smallbiznis/catalogue/internal/convert"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	matchingservice "github.com/smallbiznis/catalogue/internal/matching/service"
	"github.com/smallbiznis/catalogue/internal/reconcile"
	"go.uber.org/fx"
)

var Module = fx.Module("pipeline",
	fx.Provide(ProvideConfig),
	fx.Provide(
		provideImporter,
		provideDeduplicator,
		provideConverter,
		provideMatcher,
	),
	fx.Provide(New),
)

func provideImporter(s *reconcile.Service) Importer { return s }

func provideDeduplicator(s *dedupe.Service) Deduplicator { return s }

func provideConverter(s *convert.Service) Converter { return s }

func provideMatcher(s *matchingservice.Service) Matcher { return s }

// Schedule starts the run loop with the application. Stopping the
// application cancels the loop and waits for the current run to return.
func Schedule(lc fx.Lifecycle, p *Pipeline) {
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				p.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
