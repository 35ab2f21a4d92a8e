package cli

import (
	"context"

	"github.com/smallbiznis/catalogue/internal/app"
	"github.com/smallbiznis/catalogue/internal/config"
	"github.com/smallbiznis/catalogue/internal/migration"
	"github.com/smallbiznis/catalogue/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "schedule",
		GroupID: "pipeline",
		Short:   "Run the pipeline on an interval until interrupted",
		Long: `schedule keeps the process alive and runs every configured phase each
SCHEDULE_EVERY. Report recipients in pipeline.yml are reloaded on change.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application := fx.New(
				app.Modules(),
				app.QuietLogger(),
				fx.Invoke(pipeline.Schedule),
			)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			return application.Stop(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		GroupID: "management",
		Short:   "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
				log  *zap.Logger
			)
			application := fx.New(
				app.Modules(),
				app.QuietLogger(),
				fx.Decorate(func(c config.Config) config.Config {
					c.DBMigrate = false
					return c
				}),
				fx.Populate(&conn, &cfg, &log),
			)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			defer stop(application)

			if err := migration.Migrate(conn, cfg.DBType); err != nil {
				return err
			}
			log.Info("schema up to date", zap.String("type", cfg.DBType))
			return nil
		},
	}
}
