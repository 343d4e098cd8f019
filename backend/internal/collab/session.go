package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"collabEngine/backend/internal/ot/delta"
)

var (
	ErrNotJoined     = errors.New("NOT_JOINED")
	ErrInvalidChange = errors.New("INVALID_CHANGE")
	// 离开请求来自已被同一用户新连接顶替的旧连接
	ErrStaleConnection = errors.New("STALE_CONNECTION")

	// 会话已因最后一人离开而关闭，Registry 会换一个新会话重试
	errSessionClosed = errors.New("session closed")
)

const (
	EventContentChange = "content_change"
	EventCommentAdded  = "comment_added"
)

type User struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	JoinedAt    time.Time `json:"joined_at"`
	// 当前持有该用户的连接；为空表示不绑定连接
	ConnID string `json:"-"`
}

// Mark 光标或选区的最后已知位置（last-write-wins）
type Mark struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ChangeEvent 只广播、只存内存，不是版本
type ChangeEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type Snapshot struct {
	DocumentID    string          `json:"document_id"`
	DocumentType  string          `json:"document_type"`
	Users         []User          `json:"active_users"`
	Cursors       map[string]Mark `json:"cursors"`
	Selections    map[string]Mark `json:"selections"`
	ActiveEditors []string        `json:"active_editors"`
}

// content_change 里服务端能理解的部分：content 整篇替换，ops 增量；都没有则只广播
type contentEdit struct {
	Content *string     `json:"content,omitempty"`
	Ops     delta.Delta `json:"ops,omitempty"`
}

type SessionOptions struct {
	ChangeLogCap int           // 变更环形缓冲容量
	TypingWindow time.Duration // 多久没输入就不算 active editor
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ChangeLogCap <= 0 {
		o.ChangeLogCap = 1024
	}
	if o.TypingWindow <= 0 {
		o.TypingWindow = 5 * time.Second
	}
	return o
}

// Session 一个文档的在线协作状态；所有字段由 mu 保护
type Session struct {
	mu sync.Mutex

	documentID   string
	documentType string

	users      map[string]User
	cursors    map[string]Mark
	selections map[string]Mark
	typing     map[string]time.Time // userID -> 最近一次输入时间

	changeLog []ChangeEvent
	buf       Buffer
	seeded    bool

	// 自上次保存以来是否有内容变化，以及最后一个编辑者（自动保存署名用）
	dirty          bool
	lastEditorID   string
	lastEditorName string

	createdAt      time.Time
	lastActivityAt time.Time

	// 最后一人离开时置位；Registry 在不持有会话锁的情况下读取
	closed atomic.Bool

	opts SessionOptions
}

func newSession(docID, docType string, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	now := time.Now()
	return &Session{
		documentID:     docID,
		documentType:   docType,
		users:          make(map[string]User),
		cursors:        make(map[string]Mark),
		selections:     make(map[string]Mark),
		typing:         make(map[string]time.Time),
		changeLog:      make([]ChangeEvent, 0, opts.ChangeLogCap),
		buf:            NewPieceTable(""),
		createdAt:      now,
		lastActivityAt: now,
		opts:           opts,
	}
}

func (s *Session) DocumentID() string   { return s.documentID }
func (s *Session) DocumentType() string { return s.documentType }
func (s *Session) Closed() bool         { return s.closed.Load() }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Join 同一个 userID 重复加入会覆盖原记录，users 的大小始终等于不同用户数
func (s *Session) Join(userID, displayName, color string) (Snapshot, error) {
	return s.join(User{UserID: userID, DisplayName: displayName, Color: color})
}

func (s *Session) join(u User) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return Snapshot{}, errSessionClosed
	}
	now := time.Now()
	u.JoinedAt = now
	s.users[u.UserID] = u
	return s.snapshotLocked(now), nil
}

// Leave 返回离开的用户、剩余用户，以及会话是否因此变空（已关闭）
func (s *Session) Leave(userID string) (User, []User, bool, error) {
	return s.LeaveConn(userID, "")
}

// LeaveConn 只有 connID 仍是该用户当前的连接时才离开；connID 为空时无条件离开
func (s *Session) LeaveConn(userID, connID string) (User, []User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, nil, false, fmt.Errorf("leave %s/%s: %w", s.documentID, userID, ErrNotJoined)
	}
	if connID != "" && u.ConnID != connID {
		return User{}, nil, false, fmt.Errorf("leave %s/%s conn %s: %w", s.documentID, userID, connID, ErrStaleConnection)
	}
	delete(s.users, userID)
	delete(s.cursors, userID)
	delete(s.selections, userID)
	delete(s.typing, userID)
	empty := len(s.users) == 0
	if empty {
		s.closed.Store(true)
	}
	return u, s.usersLocked(), empty, nil
}

func (s *Session) requireJoinedLocked(userID string) error {
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("%s/%s: %w", s.documentID, userID, ErrNotJoined)
	}
	return nil
}

func (s *Session) MoveCursor(userID string, position json.RawMessage) (Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireJoinedLocked(userID); err != nil {
		return Mark{}, err
	}
	m := Mark{Value: position, UpdatedAt: time.Now()}
	s.cursors[userID] = m
	return m, nil
}

func (s *Session) ChangeSelection(userID string, rng json.RawMessage) (Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireJoinedLocked(userID); err != nil {
		return Mark{}, err
	}
	m := Mark{Value: rng, UpdatedAt: time.Now()}
	s.selections[userID] = m
	return m, nil
}

func (s *Session) SetTyping(userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireJoinedLocked(userID); err != nil {
		return err
	}
	if active {
		s.typing[userID] = time.Now()
	} else {
		delete(s.typing, userID)
	}
	return nil
}

// Touch 心跳：只校验成员身份，不更新 lastActivityAt
func (s *Session) Touch(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireJoinedLocked(userID)
}

// ApplyContentChange 记录变更并更新内存中的文本；会话本身不落库
func (s *Session) ApplyContentChange(userID string, change json.RawMessage) (ChangeEvent, error) {
	var edit contentEdit
	if len(change) > 0 {
		if err := json.Unmarshal(change, &edit); err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidChange, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireJoinedLocked(userID); err != nil {
		return ChangeEvent{}, err
	}
	switch {
	case edit.Content != nil:
		s.buf.Reset(*edit.Content)
	case len(edit.Ops) > 0:
		if err := s.buf.Apply(edit.Ops); err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidChange, err)
		}
	}
	now := time.Now()
	s.seeded = true
	s.dirty = true
	s.lastEditorID = userID
	s.lastEditorName = s.users[userID].DisplayName
	s.lastActivityAt = now
	s.typing[userID] = now
	return s.appendLocked(EventContentChange, userID, change, now), nil
}

func (s *Session) AddComment(userID string, comment json.RawMessage) (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireJoinedLocked(userID); err != nil {
		return ChangeEvent{}, err
	}
	now := time.Now()
	s.lastActivityAt = now
	return s.appendLocked(EventCommentAdded, userID, comment, now), nil
}

// 达到容量时丢弃最老的一条。
// 时间戳按墙上时钟保持不减（时钟回拨时沿用上一条），ChangesSince 依赖这一点做二分
func (s *Session) appendLocked(typ, userID string, payload json.RawMessage, at time.Time) ChangeEvent {
	// 去掉单调时钟读数，之后的比较都按墙上时钟
	at = at.Round(0)
	if n := len(s.changeLog); n > 0 && at.Before(s.changeLog[n-1].Timestamp) {
		at = s.changeLog[n-1].Timestamp
	}
	evt := ChangeEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Payload:   payload,
		Timestamp: at,
	}
	if len(s.changeLog) == s.opts.ChangeLogCap {
		copy(s.changeLog[0:], s.changeLog[1:])
		s.changeLog = s.changeLog[:len(s.changeLog)-1]
	}
	s.changeLog = append(s.changeLog, evt)
	return evt
}

// ChangesSince 返回时间戳严格晚于 since 的变更，按发生顺序
func (s *Session) ChangesSince(since time.Time) []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.changeLog), func(i int) bool {
		return s.changeLog[i].Timestamp.After(since)
	})
	out := make([]ChangeEvent, len(s.changeLog)-idx)
	copy(out, s.changeLog[idx:])
	return out
}

func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// SeedContent 用最近一次保存的版本初始化文本；已经有编辑时不覆盖
func (s *Session) SeedContent(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return false
	}
	s.buf.Reset(content)
	s.seeded = true
	return true
}

func (s *Session) NeedsSeed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.seeded
}

// ResetContent rollback 后把在线文本换成目标版本内容，并记一条变更
func (s *Session) ResetContent(userID, content string, payload json.RawMessage) ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.buf.Reset(content)
	s.seeded = true
	// 回滚本身已经产生了新版本，不需要再自动保存
	s.dirty = false
	s.lastActivityAt = now
	return s.appendLocked(EventContentChange, userID, payload, now)
}

// TakeDirty 取出待保存的内容并清除 dirty；保存失败时调用 MarkDirty 还原
func (s *Session) TakeDirty() (content, editorID, editorName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return "", "", "", false
	}
	s.dirty = false
	return s.buf.String(), s.lastEditorID, s.lastEditorName, true
}

func (s *Session) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

func (s *Session) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked()
}

func (s *Session) User(userID string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return u, ok
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(time.Now())
}

func (s *Session) usersLocked() []User {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (s *Session) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		DocumentID:    s.documentID,
		DocumentType:  s.documentType,
		Users:         s.usersLocked(),
		Cursors:       make(map[string]Mark, len(s.cursors)),
		Selections:    make(map[string]Mark, len(s.selections)),
		ActiveEditors: make([]string, 0, len(s.typing)),
	}
	for id, m := range s.cursors {
		snap.Cursors[id] = m
	}
	for id, m := range s.selections {
		snap.Selections[id] = m
	}
	for id, at := range s.typing {
		if now.Sub(at) <= s.opts.TypingWindow {
			snap.ActiveEditors = append(snap.ActiveEditors, id)
		}
	}
	sort.Strings(snap.ActiveEditors)
	return snap
}
