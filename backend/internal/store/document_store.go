package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collabEngine/backend/internal/entity"
)

type GormDocumentStore struct{ db *gorm.DB }

var _ DocumentStore = (*GormDocumentStore)(nil)

func NewGormDocumentStore(db *gorm.DB) *GormDocumentStore {
	return &GormDocumentStore{db: db}
}

// EnsureDocument INSERT ... ON DUPLICATE KEY 什么都不做；RowsAffected 区分是否新建
func (s *GormDocumentStore) EnsureDocument(ctx context.Context, docID, docType, ownerID string) (bool, error) {
	doc := entity.Document{ID: docID, Type: docType, OwnerID: ownerID}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&doc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormDocumentStore) GetDocument(ctx context.Context, docID string) (*entity.Document, error) {
	var doc entity.Document
	if err := s.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
		}
		return nil, err
	}
	return &doc, nil
}
