package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/gorm"
)

// Store serves directory lookups straight from the establishments table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LookupByUAI(ctx context.Context, uai string) ([]domain.Establishment, error) {
	uai = strings.TrimSpace(uai)
	if uai == "" {
		return nil, nil
	}
	var rows []domain.Establishment
	err := s.db.WithContext(ctx).
		Where("uai = ?", uai).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	return rows, nil
}

func (s *Store) List(ctx context.Context, after pagination.Cursor, limit int) ([]domain.Establishment, error) {
	var rows []domain.Establishment
	err := s.db.WithContext(ctx).
		Where("id > ?", after.ID).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Store) Insert(ctx context.Context, e *domain.Establishment) error {
	if e == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(e).Error
}
