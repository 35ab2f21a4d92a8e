package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/config"
	obslogger "github.com/smallbiznis/catalogue/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Pipeline *config.PipelineConfigHolder `optional:"true"`
}

// Store persists reports as chunked records so large lists stay within a
// reasonable row size.
type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	pipeline *config.PipelineConfigHolder
}

func NewStore(p StoreParams) (*Store, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	pipeline := p.Pipeline
	if pipeline == nil {
		pipeline = config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig())
	}
	return &Store{
		db:       p.DB,
		log:      p.Log.Named("report.store"),
		genID:    p.GenID,
		clock:    p.Clock,
		pipeline: pipeline,
	}, nil
}

type chunkData struct {
	Summary Summary  `json:"summary"`
	List    string   `json:"list"`
	Items   []Entry  `json:"items,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Store) Report(ctx context.Context, r Report) error {
	chunkSize := s.pipeline.Get().Report.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultPipelineConfig().Report.ChunkSize
	}
	date := r.DateKey()
	now := s.clock.Now()

	var records []Record
	add := func(chunk int, data chunkData) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		records = append(records, Record{
			ID:        s.genID.Generate(),
			RunID:     r.RunID,
			Type:      r.Type,
			Date:      date,
			Chunk:     chunk,
			Data:      datatypes.JSON(payload),
			CreatedAt: now,
		})
		return nil
	}

	if err := add(0, chunkData{Summary: r.Summary, List: ListSummary, Errors: r.Errors}); err != nil {
		return err
	}
	lists := []struct {
		name    string
		entries []Entry
	}{
		{ListAdded, r.Added},
		{ListUpdated, r.Updated},
		{ListDeleted, r.Deleted},
		{ListInvalid, r.Invalid},
		{ListWarnings, r.Warnings},
	}
	for _, list := range lists {
		for i, chunk := range chunks(list.entries, chunkSize) {
			if err := add(i, chunkData{Summary: r.Summary, List: list.name, Items: chunk}); err != nil {
				return err
			}
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}

	obslogger.WithContext(ctx, s.log).Info("report.stored",
		zap.String("type", r.Type),
		zap.String("date", date),
		zap.Int("chunks", len(records)),
	)
	return nil
}

// Load returns the entries of one stored list in chunk order, and the summary
// stored with the report.
func (s *Store) Load(ctx context.Context, reportType, date, list string) (Summary, []Entry, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("type = ? AND date = ?", reportType, date).
		Order("chunk ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return Summary{}, nil, err
	}

	var (
		summary Summary
		entries []Entry
	)
	for _, rec := range records {
		var data chunkData
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			return Summary{}, nil, err
		}
		summary = data.Summary
		if data.List == list {
			entries = append(entries, data.Items...)
		}
	}
	return summary, entries, nil
}

func chunks(entries []Entry, size int) [][]Entry {
	var out [][]Entry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		out = append(out, entries[start:end])
	}
	return out
}
