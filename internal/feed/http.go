package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/catalogue/internal/formation/domain"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	obstracing "github.com/smallbiznis/catalogue/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 2 * time.Minute
	maxSnapshotSize = 256 << 20
)

// HTTPSource downloads the snapshot from the feed web service.
type HTTPSource struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPSource(url, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSource{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: timeout,
		}),
		log: log.Named("feed.http"),
	}
}

func (s *HTTPSource) Snapshot(ctx context.Context) ([]domain.SourceRecord, error) {
	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, err
	}
	format := FormatJSON
	if strings.Contains(resp.Header.Get("Content-Type"), "yaml") {
		format = FormatYAML
	}
	records, err := Decode(body, format)
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("feed.fetched",
		zap.Int("formations", len(records)),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return records, nil
}
