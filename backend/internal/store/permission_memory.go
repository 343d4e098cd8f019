package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collabEngine/backend/internal/entity"
)

type MemoryPermissionStore struct {
	mu    sync.RWMutex
	perms map[string]map[string]entity.DocumentPermission // docID -> userID -> permission
}

var _ PermissionStore = (*MemoryPermissionStore)(nil)

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{perms: make(map[string]map[string]entity.DocumentPermission)}
}

func (s *MemoryPermissionStore) GetPermission(ctx context.Context, docID, userID string) (*entity.DocumentPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[docID][userID]
	if !ok {
		return nil, fmt.Errorf("permission %s/%s: %w", docID, userID, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryPermissionStore) PutPermission(ctx context.Context, p entity.DocumentPermission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.perms[p.DocumentID]
	if byUser == nil {
		byUser = make(map[string]entity.DocumentPermission)
		s.perms[p.DocumentID] = byUser
	}
	if old, ok := byUser[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	byUser[p.UserID] = p
	return nil
}

func (s *MemoryPermissionStore) ListPermissions(ctx context.Context, docID string) ([]entity.DocumentPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.DocumentPermission, 0, len(s.perms[docID]))
	for _, p := range s.perms[docID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
