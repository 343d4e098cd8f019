package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collabEngine/backend/internal/entity"
)

type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string]entity.Document
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]entity.Document)}
}

func (s *MemoryDocumentStore) EnsureDocument(ctx context.Context, docID, docType, ownerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; ok {
		return false, nil
	}
	s.docs[docID] = entity.Document{ID: docID, Type: docType, OwnerID: ownerID, CreatedAt: time.Now()}
	return true, nil
}

func (s *MemoryDocumentStore) GetDocument(ctx context.Context, docID string) (*entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	return &d, nil
}
