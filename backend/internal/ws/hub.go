package ws

import (
	"sync"

	"go.uber.org/zap"
)

type Hub struct {
	// 读写锁，保护 rooms；广播时只在锁内拷贝连接列表，发送在锁外
	mu sync.RWMutex
	// docID -> userID -> 连接。同一用户在同一文档上只保留最新的一条连接
	rooms map[string]map[string]*Conn
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]map[string]*Conn), log: log}
}

// Register 登记连接，返回被顶替的旧连接（调用方负责关闭）
func (h *Hub) Register(c *Conn) (prev *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.docID]
	if room == nil {
		room = make(map[string]*Conn)
		h.rooms[c.docID] = room
	}
	prev = room[c.userID]
	room[c.userID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister 只有 c 仍是当前连接时才移除，返回是否移除
func (h *Hub) Unregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.docID]
	if room == nil || room[c.userID] != c {
		return false
	}
	delete(room, c.userID)
	if len(room) == 0 {
		delete(h.rooms, c.docID)
	}
	return true
}

func (h *Hub) peers(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[docID]
	out := make([]*Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// Broadcast 投递给文档内除 excludeUserID 以外的所有连接，返回成功入队的数量。
// 入队不阻塞；某个连接队列满只影响它自己。
func (h *Hub) Broadcast(docID string, msg OutboundMessage, excludeUserID string) int {
	n := 0
	for _, c := range h.peers(docID) {
		if c.userID == excludeUserID {
			continue
		}
		if c.Enqueue(msg) {
			n++
		}
	}
	return n
}

// SendTo 点对点发送；目标不在线时不排队
func (h *Hub) SendTo(docID, userID string, msg OutboundMessage) bool {
	h.mu.RLock()
	c := h.rooms[docID][userID]
	h.mu.RUnlock()
	if c == nil {
		h.log.Info("send target not connected", zap.String("doc_id", docID), zap.String("user_id", userID), zap.String("type", msg.MessageType()))
		return false
	}
	return c.Enqueue(msg)
}

// Connected 文档内在线连接数
func (h *Hub) Connected(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

// CloseAll 关闭所有连接，用于服务退出
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	all := make([]*Conn, 0)
	for _, room := range h.rooms {
		for _, c := range room {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close(code, reason)
	}
}
