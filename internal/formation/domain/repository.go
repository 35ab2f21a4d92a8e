package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("formation_not_found")
	ErrInvalidPatch = errors.New("invalid_patch")
)

// Repository persists formations. Every method takes the handle to run on so
// callers can compose calls inside one transaction.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Formation, error)
	// FindByKey returns every row sharing key: published rows first, then by
	// creation order.
	FindByKey(ctx context.Context, db *gorm.DB, key NaturalKey) ([]Formation, error)
	ListPublished(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]Formation, error)
	// ListByKey returns every row sharing key in creation order.
	ListByKey(ctx context.Context, db *gorm.DB, key NaturalKey) ([]Formation, error)
	DuplicateKeys(ctx context.Context, db *gorm.DB) ([]NaturalKey, error)

	Insert(ctx context.Context, db *gorm.DB, f *Formation) error
	ApplyPatch(ctx context.Context, db *gorm.DB, id snowflake.ID, patch Patch) (*Formation, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// Conversion bookkeeping.
	CountUnconverted(ctx context.Context, db *gorm.DB) (int64, error)
	ListUnconverted(ctx context.Context, db *gorm.DB, limit int) ([]Formation, error)
	MarkConversion(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
	FinalizeConversions(ctx context.Context, db *gorm.DB) (int64, error)
	ResetConversionErrors(ctx context.Context, db *gorm.DB) (int64, error)

	CountPublished(ctx context.Context, db *gorm.DB) (int64, error)
	CountUnpublished(ctx context.Context, db *gorm.DB) (int64, error)
}

// ConvertedRepository persists canonical catalogue records.
type ConvertedRepository interface {
	FindByRcoID(ctx context.Context, db *gorm.DB, idRcoFormation string) ([]ConvertedFormation, error)
	List(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]ConvertedFormation, error)
	DuplicateRcoIDs(ctx context.Context, db *gorm.DB) ([]string, error)
	Insert(ctx context.Context, db *gorm.DB, c *ConvertedFormation) error
	UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}
