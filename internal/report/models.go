// Package report publishes the outcome of a pipeline run: a summary with the
// lists of touched formations, stored in the database and mailed to the
// catalogue team.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const TypeImport = "catalogueImport"

// List names used for the stored chunks.
const (
	ListSummary  = "summary"
	ListAdded    = "added"
	ListUpdated  = "updated"
	ListDeleted  = "deleted"
	ListInvalid  = "invalid"
	ListWarnings = "warnings"
)

var ErrInvalidConfig = errors.New("invalid_report_config")

// Reporter receives the report of a finished run.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

type Summary struct {
	FormationsJCount int   `json:"formationsJCount"`
	AddedCount       int   `json:"addedCount"`
	UpdatedCount     int   `json:"updatedCount"`
	DeletedCount     int   `json:"deletedCount"`
	ConvertedCount   int   `json:"convertedCount"`
	ErrorCount       int   `json:"errorCount"`
	PublishedCount   int64 `json:"publishedCount"`
	DeactivatedCount int64 `json:"deactivatedCount"`
}

// Entry is one line of a report list.
type Entry struct {
	ID      string         `json:"id,omitempty"`
	Key     string         `json:"key"`
	Status  string         `json:"status,omitempty"`
	Updates map[string]any `json:"updates,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type Report struct {
	Type     string
	RunID    string
	Date     time.Time
	Summary  Summary
	Added    []Entry
	Updated  []Entry
	Deleted  []Entry
	Invalid  []Entry
	Warnings []Entry
	Errors   []string
}

// DateKey identifies the report in links and stored chunks.
func (r Report) DateKey() string {
	return formatDateKey(r.Date)
}

// Record is one stored chunk of a report list.
type Record struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	RunID     string         `json:"run_id" gorm:"column:run_id"`
	Type      string         `json:"type" gorm:"column:type"`
	Date      string         `json:"date" gorm:"column:date"`
	Chunk     int            `json:"chunk" gorm:"column:chunk"`
	Data      datatypes.JSON `json:"data" gorm:"column:data"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Record) TableName() string { return "reports" }

// Multi fans a report out to several reporters and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, reporter := range m {
		if reporter == nil {
			continue
		}
		if err := reporter.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
