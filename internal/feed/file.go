package feed

import (
	"context"
	"os"
	"strings"

	"github.com/smallbiznis/catalogue/internal/formation/domain"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"go.uber.org/zap"
)

// FileSource reads a snapshot dump from disk. The file is re-read on every
// call.
type FileSource struct {
	path   string
	format Format
	log    *zap.Logger
}

func NewFileSource(path string, log *zap.Logger) *FileSource {
	if log == nil {
		log = zap.NewNop()
	}
	path = strings.TrimSpace(path)
	return &FileSource{
		path:   path,
		format: FormatFromPath(path),
		log:    log.Named("feed.file"),
	}
}

func (s *FileSource) Snapshot(ctx context.Context) ([]domain.SourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	records, err := Decode(data, s.format)
	if err != nil {
		return nil, err
	}
	obslogger.WithContext(ctx, s.log).Info("feed.loaded",
		zap.String("path", s.path),
		zap.Int("formations", len(records)),
	)
	return records, nil
}
