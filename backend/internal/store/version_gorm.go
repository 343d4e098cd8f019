package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlmysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabEngine/backend/internal/entity"
)

// 一次最多清理的草稿条数
const pruneBatch = 1000

// newestFirst 最新的在前。ULID 只在单实例内单调，多实例写同一文档时先按时间排
func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC, id DESC")
}

type GormVersionStore struct {
	db             *gorm.DB
	ids            *idSource
	draftRetention int
}

var _ VersionStore = (*GormVersionStore)(nil)

func NewGormVersionStore(db *gorm.DB, draftRetention int) *GormVersionStore {
	return &GormVersionStore{db: db, ids: newIDSource(), draftRetention: draftRetention}
}

func (s *GormVersionStore) newRecord(nv NewVersion, restoredFrom string) (*entity.DocumentVersion, error) {
	id, now, err := s.ids.next(time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate version id: %w", err)
	}
	return &entity.DocumentVersion{
		ID:           id,
		DocumentID:   nv.DocumentID,
		Content:      nv.Content,
		AuthorID:     nv.AuthorID,
		AuthorName:   nv.AuthorName,
		Note:         nv.Note,
		Draft:        nv.Draft,
		RestoredFrom: restoredFrom,
		CreatedAt:    now,
	}, nil
}

func (s *GormVersionStore) SaveVersion(ctx context.Context, nv NewVersion) (*entity.DocumentVersion, error) {
	// 主键冲突（多实例同毫秒生成同一个 ULID 的极端情况）换一个 id 再试一次
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.newRecord(nv, "")
		if err != nil {
			return nil, err
		}
		err = s.db.WithContext(ctx).Create(rec).Error
		if err == nil {
			if rec.Draft {
				s.pruneDrafts(ctx, nv.DocumentID)
			}
			return rec, nil
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("save version of %s: %w", nv.DocumentID, ErrConflict)
}

func (s *GormVersionStore) pruneDrafts(ctx context.Context, docID string) {
	if s.draftRetention <= 0 {
		return
	}
	var stale []string
	err := s.db.WithContext(ctx).Model(&entity.DocumentVersion{}).
		Where("document_id = ? AND draft = ?", docID, true).
		Scopes(newestFirst).
		Limit(pruneBatch).
		Offset(s.draftRetention).
		Pluck("id", &stale).Error
	if err != nil || len(stale) == 0 {
		return
	}
	// 清理失败不影响本次保存，下次保存时会再清理
	_ = s.db.WithContext(ctx).Where("id IN ?", stale).Delete(&entity.DocumentVersion{}).Error
}

func (s *GormVersionStore) ListVersions(ctx context.Context, docID string, limit int) ([]entity.DocumentVersion, error) {
	out := make([]entity.DocumentVersion, 0)
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Scopes(newestFirst).
		Limit(clampLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormVersionStore) GetVersion(ctx context.Context, docID, versionID string) (*entity.DocumentVersion, error) {
	var v entity.DocumentVersion
	err := s.db.WithContext(ctx).Where("id = ? AND document_id = ?", versionID, docID).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
		}
		return nil, err
	}
	return &v, nil
}

func (s *GormVersionStore) Rollback(ctx context.Context, docID, versionID, actingUserID, actingUserName string) (*entity.DocumentVersion, error) {
	var created *entity.DocumentVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target entity.DocumentVersion
		if err := tx.Where("id = ? AND document_id = ?", versionID, docID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
			}
			return err
		}
		rec, err := s.newRecord(NewVersion{
			DocumentID: docID,
			Content:    target.Content,
			AuthorID:   actingUserID,
			AuthorName: actingUserName,
			Note:       rollbackNote(&target),
		}, target.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *sqlmysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
