package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"collabEngine/backend/internal/entity"
)

func TestMemoryPermissionStore_PutGetList(t *testing.T) {
	ps := NewMemoryPermissionStore()
	ctx := context.Background()

	_, err := ps.GetPermission(ctx, "doc-1", "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ps.PutPermission(ctx, entity.DocumentPermission{DocumentID: "doc-1", UserID: "bob", Level: "viewer", GrantedBy: "alice"}))
	require.NoError(t, ps.PutPermission(ctx, entity.DocumentPermission{DocumentID: "doc-1", UserID: "alice", Level: "admin", GrantedBy: "alice"}))
	require.NoError(t, ps.PutPermission(ctx, entity.DocumentPermission{DocumentID: "doc-1", UserID: "bob", Level: "editor", GrantedBy: "alice"}))

	p, err := ps.GetPermission(ctx, "doc-1", "bob")
	require.NoError(t, err)
	require.Equal(t, "editor", p.Level)
	require.False(t, p.CreatedAt.After(p.UpdatedAt))

	list, err := ps.ListPermissions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "alice", list[0].UserID)
	require.Equal(t, "bob", list[1].UserID)
}

func TestMemoryDocumentStore_EnsureOnce(t *testing.T) {
	ds := NewMemoryDocumentStore()
	ctx := context.Background()

	created, err := ds.EnsureDocument(ctx, "doc-1", "proposal", "alice")
	require.NoError(t, err)
	require.True(t, created)

	created, err = ds.EnsureDocument(ctx, "doc-1", "proposal", "bob")
	require.NoError(t, err)
	require.False(t, created)

	doc, err := ds.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, "alice", doc.OwnerID)

	_, err = ds.GetDocument(ctx, "doc-2")
	require.ErrorIs(t, err, ErrNotFound)
}
