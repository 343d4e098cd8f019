package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"collabEngine/backend/internal/store"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g := NewGate(store.NewMemoryPermissionStore(), nil)
	require.NoError(t, g.GrantOwner(context.Background(), "doc-1", "alice"))
	return g
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"viewer": LevelViewer, "Commenter": LevelCommenter, "editor": LevelEditor,
		"admin": LevelAdmin, "owner": LevelAdmin, "none": LevelNone,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("superuser")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestGate_AuthorizeOrdering(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "carol", LevelCommenter))

	ok, err := g.Authorize(ctx, "doc-1", "carol", LevelViewer)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = g.Authorize(ctx, "doc-1", "carol", LevelEditor)
	require.NoError(t, err)
	require.False(t, ok)

	// 没有记录 = 无权限
	ok, err = g.Authorize(ctx, "doc-1", "mallory", LevelViewer)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, g.Require(ctx, "doc-1", "mallory", LevelViewer), ErrForbidden)
}

func TestGate_UpdateRequiresAdmin(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "bob", LevelEditor))

	err := g.UpdatePermission(ctx, "doc-1", "bob", "bob", LevelAdmin)
	require.ErrorIs(t, err, ErrForbidden)
	lvl, err := g.Level(ctx, "doc-1", "bob")
	require.NoError(t, err)
	require.Equal(t, LevelEditor, lvl, "rejected update must not change state")
}

func TestGate_ChangesTakeEffectOnNextCall(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "bob", LevelEditor))
	require.NoError(t, g.Require(ctx, "doc-1", "bob", LevelEditor))

	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "bob", LevelViewer))
	require.ErrorIs(t, g.Require(ctx, "doc-1", "bob", LevelEditor), ErrForbidden)

	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "bob", LevelNone))
	require.ErrorIs(t, g.Require(ctx, "doc-1", "bob", LevelViewer), ErrForbidden)
}

func TestGate_LastAdminCannotDemoteSelf(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	require.ErrorIs(t, g.UpdatePermission(ctx, "doc-1", "alice", "alice", LevelEditor), ErrLastAdmin)

	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "bob", LevelAdmin))
	require.NoError(t, g.UpdatePermission(ctx, "doc-1", "alice", "alice", LevelEditor))
	require.ErrorIs(t, g.Require(ctx, "doc-1", "alice", LevelAdmin), ErrForbidden)
}
