package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collabEngine/backend/internal/entity"
)

type GormPermissionStore struct{ db *gorm.DB }

var _ PermissionStore = (*GormPermissionStore)(nil)

func NewGormPermissionStore(db *gorm.DB) *GormPermissionStore {
	return &GormPermissionStore{db: db}
}

func (s *GormPermissionStore) GetPermission(ctx context.Context, docID, userID string) (*entity.DocumentPermission, error) {
	var p entity.DocumentPermission
	err := s.db.WithContext(ctx).Where("document_id = ? AND user_id = ?", docID, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("permission %s/%s: %w", docID, userID, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// PutPermission upsert：(document_id, user_id) 冲突时更新 level / granted_by
func (s *GormPermissionStore) PutPermission(ctx context.Context, p entity.DocumentPermission) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "granted_by", "updated_at"}),
	}).Create(&p).Error
}

func (s *GormPermissionStore) ListPermissions(ctx context.Context, docID string) ([]entity.DocumentPermission, error) {
	out := make([]entity.DocumentPermission, 0)
	if err := s.db.WithContext(ctx).Where("document_id = ?", docID).Order("user_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
