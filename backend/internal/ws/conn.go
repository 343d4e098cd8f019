package ws

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateJoined
	StateActive
	StateDisconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type ConnConfig struct {
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	return c
}

// Conn 一条 WebSocket 连接：一个读 goroutine，一个写 goroutine，中间是有界发送队列
type Conn struct {
	id          string
	ws          *websocket.Conn
	docID       string
	docType     string
	userID      string
	displayName string

	send chan OutboundMessage
	// 关闭信号；send 本身从不关闭，避免向已关闭通道写入
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeMsg   string

	state atomic.Int32
	cfg   ConnConfig
	log   *zap.Logger
}

func newConn(ws *websocket.Conn, docID, docType, userID, displayName string, cfg ConnConfig, log *zap.Logger) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Conn{
		id:          id,
		ws:          ws,
		docID:       docID,
		docType:     docType,
		userID:      userID,
		displayName: displayName,
		send:        make(chan OutboundMessage, cfg.SendQueueSize),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		cfg:         cfg,
		log: log.With(zap.String("conn_id", id), zap.String("doc_id", docID),
			zap.String("user_id", userID)),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) DocID() string    { return c.docID }
func (c *Conn) UserID() string   { return c.userID }
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// setState 状态只向前走，Closed 之后不再变化
func (c *Conn) setState(s ConnState) {
	for {
		cur := c.state.Load()
		if ConnState(cur) >= s {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Enqueue 非阻塞入队。队列满说明对端太慢：丢掉这条消息并断开它，由它自己的生命周期走离开流程
func (c *Conn) Enqueue(msg OutboundMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send queue full, disconnecting slow peer", zap.String("type", msg.MessageType()))
		c.Close(CloseSlowConsumer, reasonSlowConsumer)
		return false
	}
}

// Close 幂等；写 goroutine 发送关闭帧后断开底层连接
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeMsg = reason
		c.setState(StateDisconnecting)
		close(c.done)
	})
}

// readLoop 阻塞直到连接出错或被关闭；每收到一帧都刷新空闲截止时间
func (c *Conn) readLoop(handle func(ClientMessage)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				c.log.Info("connection idle, closing")
				c.Close(CloseIdleTimeout, reasonIdle)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Info("connection read error", zap.Error(err))
			default:
				c.log.Debug("connection closed", zap.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.log.Warn("drop message", zap.Error(ErrMalformedMessage), zap.NamedError("cause", err), zap.Int("size", len(data)))
			continue
		}
		handle(msg)
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.ws.Close()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", zap.String("type", msg.MessageType()), zap.Error(err))
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeMsg), deadline)
			}
			return
		}
	}
}
