package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collabEngine/backend/internal/entity"
)

type docVersions struct {
	// 每个文档一把追加锁，不同文档之间互不影响
	mu   sync.RWMutex
	list []entity.DocumentVersion // 按创建顺序追加
}

// MemoryVersionStore 进程内实现，用于单机部署和测试
type MemoryVersionStore struct {
	mu   sync.RWMutex
	docs map[string]*docVersions
	ids  *idSource

	// >0 时每个文档只保留最新的 draftRetention 条自动保存草稿
	draftRetention int
}

var _ VersionStore = (*MemoryVersionStore)(nil)

func NewMemoryVersionStore(draftRetention int) *MemoryVersionStore {
	return &MemoryVersionStore{
		docs:           make(map[string]*docVersions),
		ids:            newIDSource(),
		draftRetention: draftRetention,
	}
}

func (s *MemoryVersionStore) getOrCreateDoc(docID string) *docVersions {
	s.mu.RLock()
	dv := s.docs[docID]
	s.mu.RUnlock()
	if dv != nil {
		return dv
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dv = s.docs[docID]; dv == nil {
		dv = &docVersions{}
		s.docs[docID] = dv
	}
	return dv
}

func (s *MemoryVersionStore) lookupDoc(docID string) *docVersions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[docID]
}

func (s *MemoryVersionStore) SaveVersion(ctx context.Context, nv NewVersion) (*entity.DocumentVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dv := s.getOrCreateDoc(nv.DocumentID)
	dv.mu.Lock()
	defer dv.mu.Unlock()
	return s.appendLocked(dv, nv, "")
}

// 调用方持有 dv.mu
func (s *MemoryVersionStore) appendLocked(dv *docVersions, nv NewVersion, restoredFrom string) (*entity.DocumentVersion, error) {
	id, now, err := s.ids.next(time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate version id: %w", err)
	}
	v := entity.DocumentVersion{
		ID:           id,
		DocumentID:   nv.DocumentID,
		Content:      nv.Content,
		AuthorID:     nv.AuthorID,
		AuthorName:   nv.AuthorName,
		Note:         nv.Note,
		Draft:        nv.Draft,
		RestoredFrom: restoredFrom,
		CreatedAt:    now,
	}
	dv.list = append(dv.list, v)
	if v.Draft {
		s.pruneDraftsLocked(dv)
	}
	out := v
	return &out, nil
}

func (s *MemoryVersionStore) pruneDraftsLocked(dv *docVersions) {
	if s.draftRetention <= 0 {
		return
	}
	drafts := 0
	for _, v := range dv.list {
		if v.Draft {
			drafts++
		}
	}
	excess := drafts - s.draftRetention
	if excess <= 0 {
		return
	}
	kept := dv.list[:0]
	for _, v := range dv.list {
		if v.Draft && excess > 0 {
			excess--
			continue
		}
		kept = append(kept, v)
	}
	dv.list = kept
}

func (s *MemoryVersionStore) ListVersions(ctx context.Context, docID string, limit int) ([]entity.DocumentVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	dv := s.lookupDoc(docID)
	if dv == nil {
		return []entity.DocumentVersion{}, nil
	}
	dv.mu.RLock()
	defer dv.mu.RUnlock()
	n := len(dv.list)
	if limit > n {
		limit = n
	}
	out := make([]entity.DocumentVersion, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, dv.list[i])
	}
	return out, nil
}

func (s *MemoryVersionStore) GetVersion(ctx context.Context, docID, versionID string) (*entity.DocumentVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dv := s.lookupDoc(docID)
	if dv == nil {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
	}
	dv.mu.RLock()
	defer dv.mu.RUnlock()
	for i := range dv.list {
		if dv.list[i].ID == versionID {
			out := dv.list[i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
}

func (s *MemoryVersionStore) Rollback(ctx context.Context, docID, versionID, actingUserID, actingUserName string) (*entity.DocumentVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dv := s.lookupDoc(docID)
	if dv == nil {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
	}
	dv.mu.Lock()
	defer dv.mu.Unlock()
	var target *entity.DocumentVersion
	for i := range dv.list {
		if dv.list[i].ID == versionID {
			target = &dv.list[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, docID, ErrNotFound)
	}
	return s.appendLocked(dv, NewVersion{
		DocumentID: docID,
		Content:    target.Content,
		AuthorID:   actingUserID,
		AuthorName: actingUserName,
		Note:       rollbackNote(target),
	}, target.ID)
}

func rollbackNote(target *entity.DocumentVersion) string {
	return fmt.Sprintf("Restored version from %s", target.CreatedAt.UTC().Format(time.RFC3339))
}
