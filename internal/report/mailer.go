package report

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/smallbiznis/catalogue/internal/config"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const summarySubject = "[Catalogue] Rapport d'importation"

var summaryTemplate = template.Must(template.New("summary.html").Funcs(template.FuncMap{
	"statusLabel": statusLabel,
	"updates":     formatUpdates,
}).ParseFS(templateFS, "templates/summary.html"))

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends the run summary to the configured recipients. Recipients are
// read on every report so a reloaded pipeline file takes effect on the next
// run.
type Mailer struct {
	cfg      SMTPConfig
	pipeline *config.PipelineConfigHolder
	log      *zap.Logger
	send     sendFunc
}

func NewMailer(cfg SMTPConfig, pipeline *config.PipelineConfigHolder, log *zap.Logger) *Mailer {
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{
		cfg:      cfg,
		pipeline: pipeline,
		log:      log.Named("report.mailer"),
		send:     smtp.SendMail,
	}
}

func (m *Mailer) Report(ctx context.Context, r Report) error {
	log := obslogger.WithContext(ctx, m.log)
	to := recipients(m.pipeline.Get().Report.Recipients)
	if strings.TrimSpace(m.cfg.Host) == "" || len(to) == 0 {
		log.Debug("report.mail.skipped", zap.Int("recipients", len(to)))
		return nil
	}

	body, err := RenderSummary(r)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", strings.Join(to, ", "), summarySubject, mime, body))

	if err := m.send(addr, auth, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("send report mail: %w", err)
	}
	log.Info("report.mail.sent", zap.Int("recipients", len(to)))
	return nil
}

// RenderSummary renders the html body of the summary mail.
func RenderSummary(r Report) (string, error) {
	data := struct {
		Report
		Title string
		Date  string
	}{
		Report: r,
		Title:  summarySubject,
		Date:   r.Date.Format("02/01/2006 15:04"),
	}
	var body bytes.Buffer
	if err := summaryTemplate.Execute(&body, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return body.String(), nil
}

func recipients(list []string) []string {
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func statusLabel(status string) string {
	switch status {
	case "reopened":
		return "(Re-ouverte)"
	case "deleted":
		return "(Supprimée)"
	default:
		return ""
	}
}

func formatUpdates(updates map[string]any) string {
	if len(updates) == 0 {
		return ""
	}
	raw, err := json.Marshal(ReadableUpdates(updates))
	if err != nil {
		return ""
	}
	return string(raw)
}
