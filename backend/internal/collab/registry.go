package collab

import (
	"errors"
	"sort"
	"sync"
)

// Registry 文档 ID -> 会话。只有这里创建和销毁会话。
// 锁顺序：持有 r.mu 时从不去拿会话锁（closed 是原子量），临界区只做 map 操作。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     SessionOptions
}

func NewRegistry(opts SessionOptions) *Registry {
	return &Registry{sessions: make(map[string]*Session), opts: opts.withDefaults()}
}

// GetOrCreate 幂等；已关闭（正在拆除）的会话会被替换成新的
func (r *Registry) GetOrCreate(docID, docType string) *Session {
	r.mu.RLock()
	s := r.sessions[docID]
	r.mu.RUnlock()
	if s != nil && !s.Closed() {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s = r.sessions[docID]; s == nil || s.Closed() {
		s = newSession(docID, docType, r.opts)
		r.sessions[docID] = s
	}
	return s
}

func (r *Registry) Lookup(docID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[docID]
	if s == nil || s.Closed() {
		return nil
	}
	return s
}

// Remove 只在会话报告没有用户时调用
func (r *Registry) Remove(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[docID]; s != nil && s.Closed() {
		delete(r.sessions, docID)
	}
}

// 只删除仍然是 s 的那一项，避免误删已经替换上来的新会话
func (r *Registry) removeIfSame(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.sessions[s.documentID]; cur == s {
		delete(r.sessions, s.documentID)
	}
}

// Join 取得或创建会话并加入；撞上刚被关闭的会话就换新的再试
func (r *Registry) Join(docID, docType string, u User) (*Session, Snapshot) {
	for {
		s := r.GetOrCreate(docID, docType)
		snap, err := s.join(u)
		if errors.Is(err, errSessionClosed) {
			r.removeIfSame(s)
			continue
		}
		return s, snap
	}
}

type LeaveResult struct {
	Session   *Session
	User      User
	Remaining []User
	// 最后一人离开，会话已从 Registry 移除
	Closed bool
}

// Leave 最后一人离开时同步拆除会话
func (r *Registry) Leave(docID, userID string) (LeaveResult, error) {
	return r.LeaveConn(docID, userID, "")
}

// LeaveConn 同 Leave，但只在 connID 仍持有该用户时生效（见 Session.LeaveConn）
func (r *Registry) LeaveConn(docID, userID, connID string) (LeaveResult, error) {
	s := r.Lookup(docID)
	if s == nil {
		return LeaveResult{}, ErrNotJoined
	}
	u, remaining, empty, err := s.LeaveConn(userID, connID)
	if err != nil {
		return LeaveResult{}, err
	}
	if empty {
		r.removeIfSame(s)
	}
	return LeaveResult{Session: s, User: u, Remaining: remaining, Closed: empty}, nil
}

// Sessions 当前所有在线会话，按文档 ID 排序
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].documentID < out[j].documentID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
