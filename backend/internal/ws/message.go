package ws

import (
	"encoding/json"
	"errors"
	"time"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/entity"
)

var ErrMalformedMessage = errors.New("MALFORMED_MESSAGE")

// 客户端 -> 服务端
const (
	TypeCursorMove      = "cursor_move"
	TypeSelectionChange = "selection_change"
	TypeContentChange   = "content_change"
	TypeComment         = "comment"
	TypeMention         = "mention"
	TypeTyping          = "typing"
	TypePing            = "ping"
)

// 服务端 -> 客户端（cursor_move / selection_change / content_change / mention / typing 同名）
const (
	TypeSessionState = "session_state"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeCommentAdded = "comment_added"
	TypeVersionSaved = "version_saved"
	TypePong         = "pong"
	TypeError        = "error"
)

// error 消息里的 code
const (
	CodeForbidden     = "forbidden"
	CodeInvalidChange = "invalid_change"
	CodeBusy          = "busy"
	CodeInternal      = "internal"
)

// ClientMessage 载荷都原样保留，服务端只认 type 和少数字段
type ClientMessage struct {
	Type            string          `json:"type"`
	Cursor          json.RawMessage `json:"cursor,omitempty"`
	Selection       json.RawMessage `json:"selection,omitempty"`
	Change          json.RawMessage `json:"change,omitempty"`
	Comment         json.RawMessage `json:"comment,omitempty"`
	MentionedUserID string          `json:"mentioned_user_id,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	Active          *bool           `json:"active,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

// ServerMessage pong / error 这类没有业务载荷的消息
type ServerMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SessionStateMessage struct {
	Type          string                 `json:"type"`
	DocumentID    string                 `json:"document_id"`
	DocumentType  string                 `json:"document_type"`
	ActiveUsers   []collab.User          `json:"active_users"`
	Cursors       map[string]collab.Mark `json:"cursors"`
	Selections    map[string]collab.Mark `json:"selections"`
	ActiveEditors []string               `json:"active_editors"`
}

type PresenceMessage struct {
	Type        string        `json:"type"` // user_joined / user_left
	User        collab.User   `json:"user"`
	ActiveUsers []collab.User `json:"active_users"`
}

type CursorMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Cursor    json.RawMessage `json:"cursor"`
	Timestamp time.Time       `json:"timestamp"`
}

type SelectionMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Selection json.RawMessage `json:"selection"`
	Timestamp time.Time       `json:"timestamp"`
}

type ContentChangeMessage struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	UserID    string          `json:"user_id"`
	Change    json.RawMessage `json:"change"`
	Timestamp time.Time       `json:"timestamp"`
	// 回滚产生的整篇替换会带上新版本 ID
	VersionID string `json:"version_id,omitempty"`
}

type CommentMessage struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	UserID    string          `json:"user_id"`
	Comment   json.RawMessage `json:"comment"`
	Timestamp time.Time       `json:"timestamp"`
}

type MentionMessage struct {
	Type         string          `json:"type"`
	FromUserID   string          `json:"from_user_id"`
	FromUserName string          `json:"from_user_name"`
	Context      json.RawMessage `json:"context,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type TypingMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

type VersionSavedMessage struct {
	Type    string                 `json:"type"`
	Version entity.DocumentVersion `json:"version"`
}

// 隐式实现 OutboundMessage 接口
func (m ServerMessage) MessageType() string        { return m.Type }
func (m SessionStateMessage) MessageType() string  { return m.Type }
func (m PresenceMessage) MessageType() string      { return m.Type }
func (m CursorMessage) MessageType() string        { return m.Type }
func (m SelectionMessage) MessageType() string     { return m.Type }
func (m ContentChangeMessage) MessageType() string { return m.Type }
func (m CommentMessage) MessageType() string       { return m.Type }
func (m MentionMessage) MessageType() string       { return m.Type }
func (m TypingMessage) MessageType() string        { return m.Type }
func (m VersionSavedMessage) MessageType() string  { return m.Type }

func NewSessionState(snap collab.Snapshot) SessionStateMessage {
	return SessionStateMessage{
		Type:          TypeSessionState,
		DocumentID:    snap.DocumentID,
		DocumentType:  snap.DocumentType,
		ActiveUsers:   snap.Users,
		Cursors:       snap.Cursors,
		Selections:    snap.Selections,
		ActiveEditors: snap.ActiveEditors,
	}
}

// NewContentChange 把会话变更事件转成广播消息
func NewContentChange(evt collab.ChangeEvent, versionID string) ContentChangeMessage {
	return ContentChangeMessage{
		Type:      TypeContentChange,
		EventID:   evt.ID,
		UserID:    evt.UserID,
		Change:    evt.Payload,
		Timestamp: evt.Timestamp,
		VersionID: versionID,
	}
}

func NewVersionSaved(v entity.DocumentVersion) VersionSavedMessage {
	return VersionSavedMessage{Type: TypeVersionSaved, Version: v}
}

func errorMessage(code, msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: msg}
}
