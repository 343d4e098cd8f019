package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/permission"
	"collabEngine/backend/internal/store"
)

// joinGate 包一层真实服务，按需让 Join 失败（模拟升级后权限被撤销）
type joinGate struct {
	collab.Service
	failJoin atomic.Bool
}

func (g *joinGate) Join(ctx context.Context, req collab.JoinRequest) (collab.Snapshot, error) {
	if g.failJoin.Load() {
		return collab.Snapshot{}, permission.ErrForbidden
	}
	return g.Service.Join(ctx, req)
}

type managerStack struct {
	srv      *httptest.Server
	registry *collab.Registry
	svc      *joinGate
}

func newManagerStack(t *testing.T) *managerStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	registry := collab.NewRegistry(collab.SessionOptions{})
	svc := &joinGate{Service: collab.NewService(collab.Deps{
		Registry:  registry,
		Gate:      permission.NewGate(store.NewMemoryPermissionStore(), log),
		Versions:  store.NewMemoryVersionStore(0),
		Documents: store.NewMemoryDocumentStore(),
		Logger:    log,
	}, collab.Options{})}
	mgr := NewManager(NewHub(log), svc, nil, nil, ManagerConfig{}, log)

	r := gin.New()
	// 测试里直接用 ?as= 作为已认证身份
	r.GET("/ws", func(c *gin.Context) {
		c.Set(middleware.CtxUserID, c.Query("as"))
		c.Next()
	}, mgr.WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &managerStack{srv: srv, registry: registry, svc: svc}
}

func (s *managerStack) dial(t *testing.T, docID, userID string) *websocket.Conn {
	t.Helper()
	q := url.Values{"doc_id": {docID}, "as": {userID}}
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?" + q.Encode()
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readType(t *testing.T, c *websocket.Conn, typ string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m struct {
			Type string `json:"type"`
		}
		require.NoError(t, c.ReadJSON(&m), "waiting for %s", typ)
		if m.Type == typ {
			return
		}
	}
}

func readCloseCode(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce.Code
	}
}

func TestManager_FailedJoinReleasesSupersededUser(t *testing.T) {
	s := newManagerStack(t)
	first := s.dial(t, "doc-1", "alice")
	readType(t, first, TypeSessionState)
	require.NotNil(t, s.registry.Lookup("doc-1"))

	s.svc.failJoin.Store(true)
	second := s.dial(t, "doc-1", "alice")

	require.Equal(t, CloseSuperseded, readCloseCode(t, first))
	require.Equal(t, CloseForbidden, readCloseCode(t, second))
	// 没有连接的用户不能留在会话里
	require.Eventually(t, func() bool { return s.registry.Lookup("doc-1") == nil }, 2*time.Second, 20*time.Millisecond)
}

func TestManager_RapidReconnectKeepsUserJoined(t *testing.T) {
	s := newManagerStack(t)
	var last *websocket.Conn
	for i := 0; i < 20; i++ {
		c := s.dial(t, "doc-1", "alice")
		readType(t, c, TypeSessionState)
		if last != nil {
			// 旧页面直接断开，和新连接的加入交错
			_ = last.Close()
		}
		last = c
	}

	// 最后一个连接仍然在会话里，消息不会被当成 NOT_JOINED 丢掉
	require.NoError(t, last.WriteJSON(map[string]string{"type": TypePing}))
	readType(t, last, TypePong)
	sess := s.registry.Lookup("doc-1")
	require.NotNil(t, sess)
	require.Len(t, sess.Users(), 1)

	_ = last.Close()
	require.Eventually(t, func() bool { return s.registry.Lookup("doc-1") == nil }, 2*time.Second, 20*time.Millisecond)
}

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyLocks()
	var (
		wg      sync.WaitGroup
		inside  int32
		overlap atomic.Bool
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("doc-1\x00alice")
			if atomic.AddInt32(&inside, 1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.False(t, overlap.Load())
	require.Zero(t, locks.len())
}
