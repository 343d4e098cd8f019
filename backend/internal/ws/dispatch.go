package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/permission"
)

// dispatch 在连接的读 goroutine 里串行执行，同一发送者的广播按接收顺序入队
func (m *Manager) dispatch(ctx context.Context, c *Conn, msg ClientMessage) {
	c.setState(StateActive)
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	switch msg.Type {
	case TypePing:
		// 只刷新在线状态，不算编辑活动
		if err := m.svc.Heartbeat(ctx, c.docID, c.userID); err != nil {
			m.reportErr(c, msg.Type, err)
			return
		}
		c.Enqueue(ServerMessage{Type: TypePong})

	case TypeCursorMove:
		mark, err := m.svc.MoveCursor(ctx, c.docID, c.userID, msg.Cursor)
		if m.reportErr(c, msg.Type, err) {
			return
		}
		m.hub.Broadcast(c.docID, CursorMessage{Type: TypeCursorMove, UserID: c.userID, Cursor: mark.Value, Timestamp: mark.UpdatedAt}, c.userID)

	case TypeSelectionChange:
		mark, err := m.svc.ChangeSelection(ctx, c.docID, c.userID, msg.Selection)
		if m.reportErr(c, msg.Type, err) {
			return
		}
		m.hub.Broadcast(c.docID, SelectionMessage{Type: TypeSelectionChange, UserID: c.userID, Selection: mark.Value, Timestamp: mark.UpdatedAt}, c.userID)

	case TypeTyping:
		active := msg.Active == nil || *msg.Active
		if m.reportErr(c, msg.Type, m.svc.SetTyping(ctx, c.docID, c.userID, active)) {
			return
		}
		m.hub.Broadcast(c.docID, TypingMessage{Type: TypeTyping, UserID: c.userID, Active: active}, c.userID)

	case TypeContentChange:
		if !m.acquire(ctx, c) {
			return
		}
		evt, err := m.svc.ApplyContentChange(ctx, c.docID, c.userID, msg.Change)
		_ = m.sem.Release()
		if m.reportErr(c, msg.Type, err) {
			return
		}
		m.hub.Broadcast(c.docID, NewContentChange(evt, ""), c.userID)

	case TypeComment:
		if !m.acquire(ctx, c) {
			return
		}
		evt, err := m.svc.AddComment(ctx, c.docID, c.userID, msg.Comment)
		_ = m.sem.Release()
		if m.reportErr(c, msg.Type, err) {
			return
		}
		m.hub.Broadcast(c.docID, CommentMessage{Type: TypeCommentAdded, EventID: evt.ID, UserID: c.userID, Comment: evt.Payload, Timestamp: evt.Timestamp}, c.userID)

	case TypeMention:
		from, err := m.svc.Mention(ctx, c.docID, c.userID, msg.MentionedUserID, msg.Context)
		if m.reportErr(c, msg.Type, err) {
			return
		}
		// 目标不在线时 SendTo 记日志；离线通知走 Kafka 事件
		m.hub.SendTo(c.docID, msg.MentionedUserID, MentionMessage{
			Type:         TypeMention,
			FromUserID:   from.UserID,
			FromUserName: from.DisplayName,
			Context:      msg.Context,
			Timestamp:    time.Now(),
		})

	default:
		c.log.Warn("drop message", zap.Error(ErrMalformedMessage), zap.String("type", msg.Type))
	}
}

// acquire 限制同时处理的编辑数量，和 HTTP 保存共享后端资源
func (m *Manager) acquire(ctx context.Context, c *Conn) bool {
	if err := m.sem.Acquire(ctx); err != nil {
		c.Enqueue(errorMessage(CodeBusy, "server busy, retry"))
		return false
	}
	return true
}

// reportErr err 非空时按类型处理并返回 true；连接本身不受影响
func (m *Manager) reportErr(c *Conn, msgType string, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, permission.ErrForbidden):
		c.log.Info("operation forbidden", zap.String("type", msgType), zap.Error(err))
		c.Enqueue(errorMessage(CodeForbidden, "insufficient permission for "+msgType))
	case errors.Is(err, collab.ErrNotJoined):
		c.log.Warn("event from user not in session, dropped", zap.String("type", msgType), zap.Error(err))
	case errors.Is(err, collab.ErrInvalidChange):
		c.log.Info("invalid change", zap.String("type", msgType), zap.Error(err))
		c.Enqueue(errorMessage(CodeInvalidChange, err.Error()))
	default:
		c.log.Error("operation failed", zap.String("type", msgType), zap.Error(err))
		c.Enqueue(errorMessage(CodeInternal, msgType+" failed"))
	}
	return true
}
