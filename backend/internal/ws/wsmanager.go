package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/identity"
	"collabEngine/backend/internal/permission"
)

const DefaultDocType = "document"

type ManagerConfig struct {
	Conn ConnConfig
	// Origin 前缀白名单；为空时只允许本地开发来源
	AllowedOrigins []string
	// 单次处理客户端消息的超时
	OpTimeout time.Duration
}

// Manager 连接生命周期：升级前校验，升级后 join、收发循环、拆除
type Manager struct {
	hub      *Hub
	svc      collab.Service
	ent      identity.Entitlements
	sem      *collab.SemaphoreControl
	upgrader websocket.Upgrader
	cfg      ManagerConfig
	log      *zap.Logger

	// 同一 (文档, 用户) 的 注册+加入 与 注销+离开 互斥
	userLocks *keyLocks

	// 服务退出时取消，替代已被劫持连接的请求 ctx
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(h *Hub, svc collab.Service, ent identity.Entitlements, sem *collab.SemaphoreControl, cfg ManagerConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if ent == nil {
		ent = identity.NewDocTypeEntitlements(nil)
	}
	if sem == nil {
		sem = collab.NewSemaphoreControl(0)
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	cfg.Conn = cfg.Conn.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{hub: h, svc: svc, ent: ent, sem: sem, cfg: cfg, log: log, userLocks: newKeyLocks(), ctx: ctx, cancel: cancel}
	m.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		allowed = []string{
			"http://localhost",
			"http://127.0.0.1",
			"https://localhost",
			"https://127.0.0.1",
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range allowed {
			if p == "*" || strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}
}

// WebSocketConnect 处理 GET /collab/ws；连接存活期间一直阻塞
func (m *Manager) WebSocketConnect(c *gin.Context) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "missing identity"})
		return
	}
	docID := strings.TrimSpace(c.Query("doc_id"))
	if docID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "missing doc_id"})
		return
	}
	docType := c.DefaultQuery("doc_type", DefaultDocType)
	if uid := c.Query("user_id"); uid != "" && uid != id.UserID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "user_id does not match token"})
		return
	}
	displayName := c.Query("display_name")
	if displayName == "" {
		displayName = id.Username
	}
	if displayName == "" {
		displayName = id.UserID
	}
	color := c.Query("color")

	if err := m.svc.Admit(c.Request.Context(), docID, docType, id.UserID); err != nil {
		if errors.Is(err, permission.ErrForbidden) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "no access to document"})
			return
		}
		m.log.Error("admit failed", zap.String("doc_id", docID), zap.String("user_id", id.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "admit failed"})
		return
	}

	wsConn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写过 HTTP 错误响应
		m.log.Warn("websocket upgrade error", zap.Error(err), zap.String("origin", c.Request.Header.Get("Origin")))
		return
	}

	m.wg.Add(1)
	defer m.wg.Done()
	conn := newConn(wsConn, docID, docType, id.UserID, displayName, m.cfg.Conn, m.log)
	// 先启动写循环，确保后续入队的消息可以被及时发送
	go conn.writeLoop()
	m.serve(conn, color)
}

func (m *Manager) serve(conn *Conn, color string) {
	ctx := m.ctx
	entitled, err := m.ent.Entitled(ctx, conn.userID, conn.docType)
	if err != nil || !entitled {
		if err != nil {
			conn.log.Error("entitlement check failed", zap.Error(err))
		}
		conn.Close(CloseNotEntitled, reasonNotEntitled)
		<-conn.writerDone
		conn.setState(StateClosed)
		return
	}

	unlock := m.userLocks.lock(userKey(conn))
	prev := m.hub.Register(conn)
	if prev != nil {
		conn.log.Info("superseding previous connection", zap.String("prev_conn_id", prev.id))
		prev.Close(CloseSuperseded, reasonSuperseded)
	}

	snap, err := m.svc.Join(ctx, collab.JoinRequest{
		DocID:       conn.docID,
		DocType:     conn.docType,
		UserID:      conn.userID,
		DisplayName: conn.displayName,
		Color:       color,
		ConnID:      conn.id,
	})
	if err != nil {
		conn.log.Warn("join failed", zap.Error(err))
		code := CloseNormal
		if errors.Is(err, permission.ErrForbidden) {
			code = CloseForbidden
		}
		conn.Close(code, "join failed")
		if m.hub.Unregister(conn) && prev != nil {
			// 被顶替的旧连接拆除时不会离开会话，由这里替它离开
			m.leave(prev)
		}
		unlock()
		<-conn.writerDone
		conn.setState(StateClosed)
		return
	}
	unlock()
	conn.setState(StateJoined)
	conn.Enqueue(NewSessionState(snap))

	var joined collab.User
	for _, u := range snap.Users {
		if u.UserID == conn.userID {
			joined = u
		}
	}
	m.hub.Broadcast(conn.docID, PresenceMessage{Type: TypeUserJoined, User: joined, ActiveUsers: snap.Users}, conn.userID)
	conn.log.Info("connection joined", zap.Int("users", len(snap.Users)))

	// 最后再进入读循环（阻塞至连接关闭）
	conn.readLoop(func(msg ClientMessage) { m.dispatch(ctx, conn, msg) })
	m.teardown(conn)
}

// teardown 任何读写错误、超时、被顶替最终都走这里
func (m *Manager) teardown(conn *Conn) {
	conn.Close(CloseNormal, "")
	// 被顶替的连接已不在 Hub 里，用户仍在线，不能离开会话
	unlock := m.userLocks.lock(userKey(conn))
	if m.hub.Unregister(conn) {
		m.leave(conn)
	}
	unlock()
	<-conn.writerDone
	conn.setState(StateClosed)
	conn.log.Info("connection closed")
}

func userKey(conn *Conn) string {
	return conn.docID + "\x00" + conn.userID
}

// leave 以 conn 的身份离开会话；用户已被更新的连接接管时什么也不做
func (m *Manager) leave(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()
	res, err := m.svc.Leave(ctx, conn.docID, conn.userID, conn.id)
	switch {
	case errors.Is(err, collab.ErrStaleConnection):
		conn.log.Debug("user taken over by a newer connection, skip leave")
	case err != nil:
		conn.log.Warn("leave failed", zap.Error(err))
	default:
		m.hub.Broadcast(conn.docID, PresenceMessage{Type: TypeUserLeft, User: res.User, ActiveUsers: res.Remaining}, conn.userID)
	}
}

// Shutdown 通知所有连接服务即将退出，并等待它们完成拆除
func (m *Manager) Shutdown(ctx context.Context) error {
	m.hub.CloseAll(CloseGoingAway, "server shutting down")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
