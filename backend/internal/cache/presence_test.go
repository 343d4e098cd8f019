package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) PresenceCache {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPresence(rdb)
}

func TestPresence_AddRemoveMember(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()
	docID := "test-" + uuid.NewString()

	require.NoError(t, p.AddMember(ctx, docID, "alice", "Alice", time.Minute))
	require.NoError(t, p.AddMember(ctx, docID, "bob", "Bob", time.Minute))

	members, err := p.GetAliveMembersWithNames(ctx, docID)
	require.NoError(t, err)
	require.ElementsMatch(t, []PresenceMember{{UserID: "alice", DisplayName: "Alice"}, {UserID: "bob", DisplayName: "Bob"}}, members)

	docs, err := p.GetDocuments(ctx)
	require.NoError(t, err)
	require.Contains(t, docs, docID)

	require.NoError(t, p.RemoveMember(ctx, docID, "alice"))
	require.NoError(t, p.RemoveMember(ctx, docID, "bob"))

	members, err = p.GetAliveMembersWithNames(ctx, docID)
	require.NoError(t, err)
	require.Empty(t, members)
	docs, err = p.GetDocuments(ctx)
	require.NoError(t, err)
	require.NotContains(t, docs, docID)
}

func TestPresence_ExpiredMembersArePurged(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()
	docID := "test-" + uuid.NewString()

	// 负 TTL：expireAt 已经过去
	require.NoError(t, p.AddMember(ctx, docID, "ghost", "Ghost", -time.Minute))
	require.NoError(t, p.AddMember(ctx, docID, "alice", "Alice", time.Minute))

	members, err := p.GetAliveMembersWithNames(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, []PresenceMember{{UserID: "alice", DisplayName: "Alice"}}, members)
	require.NoError(t, p.RemoveMember(ctx, docID, "alice"))
}

func TestPresence_Cursor(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()
	docID := "test-" + uuid.NewString()

	require.NoError(t, p.SetCursor(ctx, docID, "alice", []byte(`{"x":10,"y":5}`), time.Minute))
	got, err := p.GetCursor(ctx, docID, "alice")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":10,"y":5}`, string(got))

	_, err = p.GetCursor(ctx, docID, "nobody")
	require.ErrorIs(t, err, redis.Nil)
}
