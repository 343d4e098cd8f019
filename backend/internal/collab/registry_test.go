package collab

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinCountsDistinctUsers(t *testing.T) {
	r := NewRegistry(SessionOptions{})

	_, snap := r.Join("doc-1", "text", User{UserID: "alice", DisplayName: "Alice"})
	require.Len(t, snap.Users, 1)
	_, snap = r.Join("doc-1", "text", User{UserID: "bob", DisplayName: "Bob"})
	require.Len(t, snap.Users, 2)

	// 同一个用户重复加入不增加人数
	_, snap = r.Join("doc-1", "text", User{UserID: "alice", DisplayName: "Alice (tab 2)"})
	require.Len(t, snap.Users, 2)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_LastLeaveTearsDown(t *testing.T) {
	r := NewRegistry(SessionOptions{})
	s1, _ := r.Join("doc-1", "text", User{UserID: "alice"})
	_, err := s1.MoveCursor("alice", json.RawMessage(`{"line":1,"ch":2}`))
	require.NoError(t, err)

	res, err := r.Leave("doc-1", "alice")
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.Empty(t, res.Remaining)
	require.Nil(t, r.Lookup("doc-1"))
	require.Equal(t, 0, r.Len())

	// 重新打开得到的是一个全新的空会话
	s2, snap := r.Join("doc-1", "text", User{UserID: "bob"})
	require.NotSame(t, s1, s2)
	require.Len(t, snap.Users, 1)
	require.Empty(t, snap.Cursors)
}

func TestRegistry_LeaveUnknown(t *testing.T) {
	r := NewRegistry(SessionOptions{})
	_, err := r.Leave("nope", "alice")
	require.ErrorIs(t, err, ErrNotJoined)

	r.Join("doc-1", "text", User{UserID: "alice"})
	_, err = r.Leave("doc-1", "bob")
	require.ErrorIs(t, err, ErrNotJoined)
	require.NotNil(t, r.Lookup("doc-1"))
}

func TestRegistry_ClosedSessionReplaced(t *testing.T) {
	r := NewRegistry(SessionOptions{})
	s1 := r.GetOrCreate("doc-1", "text")
	_, err := s1.Join("alice", "Alice", "")
	require.NoError(t, err)
	_, _, empty, err := s1.Leave("alice")
	require.NoError(t, err)
	require.True(t, empty)

	// s1 已关闭但还没从 map 删除，Join 应该换新会话
	s2, snap := r.Join("doc-1", "text", User{UserID: "bob"})
	require.NotSame(t, s1, s2)
	require.Len(t, snap.Users, 1)

	// 旧会话的清理不能误删新会话
	r.removeIfSame(s1)
	require.Same(t, s2, r.Lookup("doc-1"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry(SessionOptions{})
	const docs, users = 8, 16

	var wg sync.WaitGroup
	for d := 0; d < docs; d++ {
		for u := 0; u < users; u++ {
			wg.Add(1)
			go func(docID, userID string) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					r.Join(docID, "text", User{UserID: userID})
					_, _ = r.Leave(docID, userID)
				}
			}(fmt.Sprintf("doc-%d", d), fmt.Sprintf("user-%d", u))
		}
	}
	wg.Wait()

	// 所有人都离开后不应残留会话
	require.Equal(t, 0, r.Len())
	require.Empty(t, r.Sessions())
}

func TestRegistry_SessionsSorted(t *testing.T) {
	r := NewRegistry(SessionOptions{})
	for _, id := range []string{"c", "a", "b"} {
		r.Join(id, "text", User{UserID: "u"})
	}
	got := r.Sessions()
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].DocumentID())
	require.Equal(t, "c", got[2].DocumentID())
}

func TestSession_ChangesSince(t *testing.T) {
	s := newSession("doc-1", "text", SessionOptions{ChangeLogCap: 3})
	_, err := s.Join("alice", "Alice", "")
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	var last ChangeEvent
	for i := 0; i < 5; i++ {
		last, err = s.AddComment("alice", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	got := s.ChangesSince(before)
	// 容量 3，最老的两条被丢弃
	require.Len(t, got, 3)
	require.JSONEq(t, `{"n":2}`, string(got[0].Payload))
	require.Equal(t, last.ID, got[2].ID)

	require.Empty(t, s.ChangesSince(last.Timestamp))
}

func TestSession_ChangesSinceAfterClockStepBack(t *testing.T) {
	s := newSession("doc-1", "text", SessionOptions{})
	_, err := s.Join("alice", "Alice", "")
	require.NoError(t, err)

	base := time.Now()
	s.mu.Lock()
	first := s.appendLocked(EventCommentAdded, "alice", json.RawMessage(`{"n":0}`), base)
	// 墙上时钟回拨一分钟
	stepped := s.appendLocked(EventCommentAdded, "alice", json.RawMessage(`{"n":1}`), base.Add(-time.Minute))
	third := s.appendLocked(EventCommentAdded, "alice", json.RawMessage(`{"n":2}`), base.Add(-time.Minute+time.Second))
	s.mu.Unlock()

	require.False(t, stepped.Timestamp.Before(first.Timestamp))
	require.False(t, third.Timestamp.Before(stepped.Timestamp))

	got := s.ChangesSince(base.Add(-time.Hour))
	require.Len(t, got, 3)
	require.Equal(t, []string{first.ID, stepped.ID, third.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	require.Empty(t, s.ChangesSince(base.Add(time.Second)))
}

func TestSession_ContentChange(t *testing.T) {
	s := newSession("doc-1", "text", SessionOptions{})
	_, err := s.Join("alice", "Alice", "")
	require.NoError(t, err)
	require.True(t, s.SeedContent("Hello world"))
	require.False(t, s.SeedContent("ignored"))

	evt, err := s.ApplyContentChange("alice", json.RawMessage(`{"ops":[{"kind":"retain","count":5},{"kind":"insert","text":","}]}`))
	require.NoError(t, err)
	require.Equal(t, EventContentChange, evt.Type)
	require.Equal(t, "Hello, world", s.Content())

	// 解析不了的 payload 拒绝，且不改变内容
	_, err = s.ApplyContentChange("alice", json.RawMessage(`{"ops":[{"kind":"retain","count":99}]}`))
	require.ErrorIs(t, err, ErrInvalidChange)
	require.Equal(t, "Hello, world", s.Content())

	content, editor, name, ok := s.TakeDirty()
	require.True(t, ok)
	require.Equal(t, "Hello, world", content)
	require.Equal(t, "alice", editor)
	require.Equal(t, "Alice", name)
	_, _, _, ok = s.TakeDirty()
	require.False(t, ok)

	// 不认识的字段只广播，不报错
	_, err = s.ApplyContentChange("alice", json.RawMessage(`{"cell":"A1","value":"3"}`))
	require.NoError(t, err)
	require.Equal(t, "Hello, world", s.Content())
}

func TestSession_SnapshotActiveEditors(t *testing.T) {
	s := newSession("doc-1", "text", SessionOptions{TypingWindow: time.Minute})
	for _, id := range []string{"alice", "bob"} {
		_, err := s.Join(id, id, "")
		require.NoError(t, err)
	}
	require.NoError(t, s.SetTyping("bob", true))
	_, err := s.ChangeSelection("alice", json.RawMessage(`{"from":1,"to":4}`))
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Equal(t, []string{"bob"}, snap.ActiveEditors)
	require.Contains(t, snap.Selections, "alice")

	require.NoError(t, s.SetTyping("bob", false))
	require.Empty(t, s.Snapshot().ActiveEditors)

	require.ErrorIs(t, s.SetTyping("carol", true), ErrNotJoined)
}
