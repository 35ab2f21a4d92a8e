package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const keyFilter = "id_formation = ? AND id_action = ? AND id_certifinfo = ?"

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Formation, error) {
	var f domain.Formation
	err := db.WithContext(ctx).Where("id = ?", id).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key domain.NaturalKey) ([]domain.Formation, error) {
	var rows []domain.Formation
	err := db.WithContext(ctx).
		Where(keyFilter, key.IDFormation, key.IDAction, key.IDCertifinfo).
		Order("published desc, created_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListByKey(ctx context.Context, db *gorm.DB, key domain.NaturalKey) ([]domain.Formation, error) {
	var rows []domain.Formation
	err := db.WithContext(ctx).
		Where(keyFilter, key.IDFormation, key.IDAction, key.IDCertifinfo).
		Order("created_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListPublished(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]domain.Formation, error) {
	var rows []domain.Formation
	err := db.WithContext(ctx).
		Where("published = ? AND id > ?", true, after.ID).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) DuplicateKeys(ctx context.Context, db *gorm.DB) ([]domain.NaturalKey, error) {
	var keys []domain.NaturalKey
	err := db.WithContext(ctx).
		Model(&domain.Formation{}).
		Select("id_formation, id_action, id_certifinfo").
		Group("id_formation, id_action, id_certifinfo").
		Having("COUNT(*) > 1").
		Order("id_formation, id_action, id_certifinfo").
		Scan(&keys).Error
	return keys, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, f *domain.Formation) error {
	if f == nil {
		return nil
	}
	if f.Fields == nil {
		f.Fields = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Create(f).Error
}

// ApplyPatch merges patch into the stored row and returns the updated row.
// Run it inside a transaction when the read and write must not interleave
// with another writer.
func (r *repo) ApplyPatch(ctx context.Context, db *gorm.DB, id snowflake.ID, patch domain.Patch) (*domain.Formation, error) {
	current, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(current)

	err = db.WithContext(ctx).
		Model(&domain.Formation{}).
		Where("id = ?", id).
		Select("fields", "published", "converted", "conversion_error", "last_update_at").
		Updates(map[string]any{
			"fields":           current.Fields,
			"published":        current.Published,
			"converted":        current.Converted,
			"conversion_error": current.ConversionError,
			"last_update_at":   current.LastUpdateAt,
		}).Error
	if err != nil {
		return nil, err
	}
	return current, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Formation{}).Error
}

func unconverted(db *gorm.DB) *gorm.DB {
	return db.Where("converted = ? AND conversion_error IS NULL", false)
}

func (r *repo) CountUnconverted(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := unconverted(db.WithContext(ctx).Model(&domain.Formation{})).Count(&count).Error
	return count, err
}

func (r *repo) ListUnconverted(ctx context.Context, db *gorm.DB, limit int) ([]domain.Formation, error) {
	var rows []domain.Formation
	err := unconverted(db.WithContext(ctx)).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) MarkConversion(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).
		Model(&domain.Formation{}).
		Where("id = ?", id).
		Update("conversion_error", status).Error
}

func (r *repo) FinalizeConversions(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Formation{}).
		Where("conversion_error = ?", domain.ConversionPending).
		Updates(map[string]any{
			"converted":        true,
			"conversion_error": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) ResetConversionErrors(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Formation{}).
		Where("converted = ? AND conversion_error IS NOT NULL AND conversion_error <> ?", false, domain.ConversionPending).
		Update("conversion_error", nil)
	return res.RowsAffected, res.Error
}

func (r *repo) CountPublished(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Formation{}).Where("published = ?", true).Count(&count).Error
	return count, err
}

func (r *repo) CountUnpublished(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Formation{}).Where("published = ?", false).Count(&count).Error
	return count, err
}
