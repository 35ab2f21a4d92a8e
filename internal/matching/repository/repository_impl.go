package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/matching/domain"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListMatchable(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]domain.PsFormation, error) {
	var rows []domain.PsFormation
	err := db.WithContext(ctx).
		Where("matching_type IS NOT NULL AND id > ?", after.ID).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PsFormation, error) {
	var f domain.PsFormation
	err := db.WithContext(ctx).Where("id = ?", id).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, f *domain.PsFormation) error {
	if f == nil {
		return nil
	}
	if f.MatchingMnaFormation == nil {
		f.MatchingMnaFormation = datatypes.NewJSONSlice([]domain.MatchCandidate{})
	}
	if f.MatchingMnaEtablissement == nil {
		f.MatchingMnaEtablissement = datatypes.NewJSONSlice([]domain.MatchedEstablishment{})
	}
	return db.WithContext(ctx).Create(f).Error
}

func (r *repo) ReplaceMatches(ctx context.Context, db *gorm.DB, id snowflake.ID, matches []domain.MatchedEstablishment, at time.Time) error {
	if matches == nil {
		matches = []domain.MatchedEstablishment{}
	}
	res := db.WithContext(ctx).
		Model(&domain.PsFormation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"matching_mna_etablissement": datatypes.NewJSONSlice(matches),
			"last_update_at":             at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
