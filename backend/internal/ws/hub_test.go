package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 不带底层 websocket 的连接，只用来测试入队
func testConn(docID, userID string, queue int) *Conn {
	return newConn(nil, docID, DefaultDocType, userID, userID, ConnConfig{SendQueueSize: queue}, zap.NewNop())
}

func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_RegisterSupersedes(t *testing.T) {
	h := NewHub(nil)
	first := testConn("doc-1", "alice", 4)
	second := testConn("doc-1", "alice", 4)

	require.Nil(t, h.Register(first))
	require.Same(t, first, h.Register(second))
	require.Equal(t, 1, h.Connected("doc-1"))

	// 旧连接拆除时不能把新连接移掉
	require.False(t, h.Unregister(first))
	require.True(t, h.Unregister(second))
	require.Equal(t, 0, h.Connected("doc-1"))
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := NewHub(nil)
	alice, bob, carol := testConn("doc-1", "alice", 4), testConn("doc-1", "bob", 4), testConn("doc-1", "carol", 4)
	other := testConn("doc-2", "dave", 4)
	for _, c := range []*Conn{alice, bob, carol, other} {
		h.Register(c)
	}

	n := h.Broadcast("doc-1", TypingMessage{Type: TypeTyping, UserID: "alice", Active: true}, "alice")
	require.Equal(t, 2, n)
	require.Empty(t, drain(alice))
	require.Len(t, drain(bob), 1)
	require.Len(t, drain(carol), 1)
	require.Empty(t, drain(other))
}

func TestHub_SlowPeerDroppedOthersUnaffected(t *testing.T) {
	h := NewHub(nil)
	slow, fast := testConn("doc-1", "slow", 1), testConn("doc-1", "fast", 8)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < 3; i++ {
		h.Broadcast("doc-1", ServerMessage{Type: TypePong}, "")
	}
	require.Len(t, drain(fast), 3)

	// 队列满的连接被断开，后续消息不再入队
	require.Equal(t, StateDisconnecting, slow.State())
	select {
	case <-slow.done:
	default:
		t.Fatal("slow peer should be closed")
	}
	require.Equal(t, CloseSlowConsumer, slow.closeCode)
	require.False(t, slow.Enqueue(ServerMessage{Type: TypePong}))
}

func TestHub_SendTo(t *testing.T) {
	h := NewHub(nil)
	bob := testConn("doc-1", "bob", 2)
	h.Register(bob)

	require.True(t, h.SendTo("doc-1", "bob", MentionMessage{Type: TypeMention, FromUserID: "alice"}))
	require.False(t, h.SendTo("doc-1", "carol", MentionMessage{Type: TypeMention, FromUserID: "alice"}))
	require.Len(t, drain(bob), 1)
}

func TestConnState_Forward(t *testing.T) {
	c := testConn("doc-1", "alice", 1)
	require.Equal(t, StateConnecting, c.State())
	c.setState(StateActive)
	c.setState(StateJoined)
	require.Equal(t, StateActive, c.State())
	c.Close(CloseNormal, "")
	c.Close(CloseIdleTimeout, reasonIdle)
	require.Equal(t, StateDisconnecting, c.State())
	require.Equal(t, CloseNormal, c.closeCode)
	require.Equal(t, "disconnecting", c.State().String())
}
