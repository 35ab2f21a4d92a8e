package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/gorm"
)

type convertedRepo struct{}

func ProvideConverted() domain.ConvertedRepository {
	return &convertedRepo{}
}

func (r *convertedRepo) FindByRcoID(ctx context.Context, db *gorm.DB, idRcoFormation string) ([]domain.ConvertedFormation, error) {
	var rows []domain.ConvertedFormation
	err := db.WithContext(ctx).
		Where("id_rco_formation = ?", idRcoFormation).
		Order("created_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

func (r *convertedRepo) List(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]domain.ConvertedFormation, error) {
	var rows []domain.ConvertedFormation
	err := db.WithContext(ctx).
		Where("id > ?", after.ID).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *convertedRepo) DuplicateRcoIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ConvertedFormation{}).
		Group("id_rco_formation").
		Having("COUNT(*) > 1").
		Order("id_rco_formation").
		Pluck("id_rco_formation", &ids).Error
	return ids, err
}

func (r *convertedRepo) Insert(ctx context.Context, db *gorm.DB, c *domain.ConvertedFormation) error {
	if c == nil {
		return nil
	}
	return db.WithContext(ctx).Create(c).Error
}

// UpdateFields writes the given columns, keyed by their column names.
func (r *convertedRepo) UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any, at time.Time) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		switch k {
		case "id", "created_at", "last_update_at":
			continue
		}
		updates[k] = v
	}
	updates["last_update_at"] = at
	return db.WithContext(ctx).
		Model(&domain.ConvertedFormation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *convertedRepo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.ConvertedFormation{}).Error
}

func (r *convertedRepo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.ConvertedFormation{}).Count(&count).Error
	return count, err
}
