package report

import (
	"github.com/smallbiznis/catalogue/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("report",
	fx.Provide(NewStore),
	fx.Provide(newMailerFromConfig),
	fx.Provide(newReporter),
)

type mailerParams struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Pipeline *config.PipelineConfigHolder `optional:"true"`
}

func newMailerFromConfig(p mailerParams) *Mailer {
	return NewMailer(SMTPConfig{
		Host:     p.Config.Email.SMTPHost,
		Port:     p.Config.Email.SMTPPort,
		Username: p.Config.Email.SMTPUsername,
		Password: p.Config.Email.SMTPPassword,
		From:     p.Config.Email.SMTPFrom,
	}, p.Pipeline, p.Log)
}

func newReporter(store *Store, mailer *Mailer) Reporter {
	return Multi{store, mailer}
}
