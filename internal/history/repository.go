package history

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	Last(ctx context.Context, db *gorm.DB, ref Ref) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, ref Ref) ([]Entry, error)
	Count(ctx context.Context, db *gorm.DB, ref Ref) (int64, error)
	DeleteAll(ctx context.Context, db *gorm.DB, ref Ref) error
}

type repo struct{}

func ProvideRepository() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO update_history (
			id, entity_type, entity_id, seq, from_values, to_values, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EntityType,
		entry.EntityID,
		entry.Seq,
		entry.From,
		entry.To,
		entry.UpdatedAt,
	).Error
}

func (r *repo) Last(ctx context.Context, db *gorm.DB, ref Ref) (*Entry, error) {
	var entry Entry
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("seq desc").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, ref Ref) ([]Entry, error) {
	var entries []Entry
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("seq asc").
		Find(&entries).Error
	return entries, err
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, ref Ref) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&Entry{}).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Count(&count).Error
	return count, err
}

func (r *repo) DeleteAll(ctx context.Context, db *gorm.DB, ref Ref) error {
	return db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Delete(&Entry{}).Error
}
