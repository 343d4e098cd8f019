package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/entity"
	"collabEngine/backend/internal/permission"
	"collabEngine/backend/internal/store"
)

var ErrNothingToSave = errors.New("NOTHING_TO_SAVE")

// 协作引擎接口
type Service interface {
	// Admit 升级连接前调用：首次打开的文档登记创建者为 owner，然后要求至少 viewer
	Admit(ctx context.Context, docID, docType, userID string) error
	Join(ctx context.Context, req JoinRequest) (Snapshot, error)
	// Leave connID 非空时只有该连接仍持有用户才离开，否则返回 ErrStaleConnection
	Leave(ctx context.Context, docID, userID, connID string) (LeaveResult, error)
	Heartbeat(ctx context.Context, docID, userID string) error

	MoveCursor(ctx context.Context, docID, userID string, cursor json.RawMessage) (Mark, error)
	ChangeSelection(ctx context.Context, docID, userID string, selection json.RawMessage) (Mark, error)
	SetTyping(ctx context.Context, docID, userID string, active bool) error
	ApplyContentChange(ctx context.Context, docID, userID string, change json.RawMessage) (ChangeEvent, error)
	AddComment(ctx context.Context, docID, userID string, comment json.RawMessage) (ChangeEvent, error)
	Mention(ctx context.Context, docID, userID, mentionedUserID string, mentionCtx json.RawMessage) (User, error)

	SaveVersion(ctx context.Context, req SaveVersionRequest) (*entity.DocumentVersion, error)
	ListVersions(ctx context.Context, docID, userID string, limit int) ([]entity.DocumentVersion, error)
	GetVersion(ctx context.Context, docID, versionID, userID string) (*entity.DocumentVersion, error)
	Rollback(ctx context.Context, docID, versionID, userID, userName string) (RollbackResult, error)

	ChangesSince(ctx context.Context, docID, userID string, since time.Time) ([]ChangeEvent, error)
	ActiveUsers(ctx context.Context, docID, userID string) ([]User, error)

	UpdatePermission(ctx context.Context, docID, actingUserID, targetUserID string, level permission.Level) error
	ListPermissions(ctx context.Context, docID, actingUserID string) ([]entity.DocumentPermission, error)

	// AutoSave 把所有有未保存修改的会话存成草稿版本
	AutoSave(ctx context.Context) ([]entity.DocumentVersion, error)
}

type JoinRequest struct {
	DocID       string
	DocType     string
	UserID      string
	DisplayName string
	Color       string
	// 发起加入的连接，后续 Leave 用它识别旧连接
	ConnID string
}

type SaveVersionRequest struct {
	DocID      string
	UserID     string
	AuthorName string
	Note       string
	// nil 时保存当前在线文本
	Content *string
}

type RollbackResult struct {
	Version *entity.DocumentVersion
	// 文档在线时回滚同时替换在线文本，调用方据此广播 content_change
	Event *ChangeEvent
}

type Deps struct {
	Registry  *Registry
	Gate      *permission.Gate
	Versions  store.VersionStore
	Documents store.DocumentStore
	// 可选
	Presence  cache.PresenceCache
	Publisher EventPublisher
	SaveSem   *SemaphoreControl
	Logger    *zap.Logger
}

type Options struct {
	PresenceTTL    time.Duration
	SaveTimeout    time.Duration
	AutoSaveWorker int
}

// 内存实现：会话在进程内，版本/权限走 store
type engine struct {
	registry  *Registry
	gate      *permission.Gate
	versions  store.VersionStore
	documents store.DocumentStore
	presence  cache.PresenceCache
	publisher EventPublisher
	saveSem   *SemaphoreControl
	log       *zap.Logger
	opts      Options
}

// NewService 返回一个满足 Service 接口的实例
func NewService(d Deps, opts Options) Service {
	if d.Registry == nil {
		d.Registry = NewRegistry(SessionOptions{})
	}
	if d.Publisher == nil {
		d.Publisher = NopPublisher{}
	}
	if d.SaveSem == nil {
		d.SaveSem = NewSemaphoreControl(0)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 2 * time.Minute
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.AutoSaveWorker <= 0 {
		opts.AutoSaveWorker = 4
	}
	return &engine{
		registry:  d.Registry,
		gate:      d.Gate,
		versions:  d.Versions,
		documents: d.Documents,
		presence:  d.Presence,
		publisher: d.Publisher,
		saveSem:   d.SaveSem,
		log:       d.Logger,
		opts:      opts,
	}
}

func (e *engine) Admit(ctx context.Context, docID, docType, userID string) error {
	if e.documents != nil {
		created, err := e.documents.EnsureDocument(ctx, docID, docType, userID)
		if err != nil {
			return fmt.Errorf("ensure document %s: %w", docID, err)
		}
		if created {
			if err := e.gate.GrantOwner(ctx, docID, userID); err != nil {
				return fmt.Errorf("grant owner on %s: %w", docID, err)
			}
			e.log.Info("document created", zap.String("doc_id", docID), zap.String("doc_type", docType), zap.String("owner", userID))
		}
	}
	return e.gate.Require(ctx, docID, userID, permission.LevelViewer)
}

func (e *engine) Join(ctx context.Context, req JoinRequest) (Snapshot, error) {
	if err := e.gate.Require(ctx, req.DocID, req.UserID, permission.LevelViewer); err != nil {
		return Snapshot{}, err
	}
	s, snap := e.registry.Join(req.DocID, req.DocType, User{UserID: req.UserID, DisplayName: req.DisplayName, Color: req.Color, ConnID: req.ConnID})
	if s.NeedsSeed() {
		e.seed(ctx, s)
	}
	if e.presence != nil {
		if err := e.presence.AddMember(ctx, req.DocID, req.UserID, req.DisplayName, e.opts.PresenceTTL); err != nil {
			e.log.Warn("presence add member failed", zap.String("doc_id", req.DocID), zap.String("user_id", req.UserID), zap.Error(err))
		}
	}
	e.log.Info("user joined", zap.String("doc_id", req.DocID), zap.String("user_id", req.UserID), zap.Int("users", len(snap.Users)))
	return snap, nil
}

// seed 会话第一次创建时用最新版本初始化在线文本；失败时从空文本开始
func (e *engine) seed(ctx context.Context, s *Session) {
	latest, err := e.versions.ListVersions(ctx, s.DocumentID(), 1)
	if err != nil {
		e.log.Warn("load latest version failed", zap.String("doc_id", s.DocumentID()), zap.Error(err))
		return
	}
	content := ""
	if len(latest) > 0 {
		content = latest[0].Content
	}
	s.SeedContent(content)
}

func (e *engine) Leave(ctx context.Context, docID, userID, connID string) (LeaveResult, error) {
	res, err := e.registry.LeaveConn(docID, userID, connID)
	if err != nil {
		return LeaveResult{}, err
	}
	if e.presence != nil {
		if err := e.presence.RemoveMember(ctx, docID, userID); err != nil {
			e.log.Warn("presence remove member failed", zap.String("doc_id", docID), zap.String("user_id", userID), zap.Error(err))
		}
	}
	if res.Closed {
		e.log.Info("session closed", zap.String("doc_id", docID))
		// 最后一人离开：把还没保存的修改存成草稿
		if _, err := e.saveDraft(ctx, res.Session); err != nil {
			e.log.Error("final draft save failed", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	return res, nil
}

func (e *engine) session(docID, userID string) (*Session, error) {
	s := e.registry.Lookup(docID)
	if s == nil {
		return nil, fmt.Errorf("%s/%s: %w", docID, userID, ErrNotJoined)
	}
	return s, nil
}

func (e *engine) Heartbeat(ctx context.Context, docID, userID string) error {
	s, err := e.session(docID, userID)
	if err != nil {
		return err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return err
	}
	if err := s.Touch(userID); err != nil {
		return err
	}
	if e.presence != nil {
		u, _ := s.User(userID)
		if err := e.presence.AddMember(ctx, docID, userID, u.DisplayName, e.opts.PresenceTTL); err != nil {
			e.log.Debug("presence refresh failed", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	return nil
}

func (e *engine) MoveCursor(ctx context.Context, docID, userID string, cursor json.RawMessage) (Mark, error) {
	s, err := e.session(docID, userID)
	if err != nil {
		return Mark{}, err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return Mark{}, err
	}
	m, err := s.MoveCursor(userID, cursor)
	if err != nil {
		return Mark{}, err
	}
	if e.presence != nil {
		if err := e.presence.SetCursor(ctx, docID, userID, cursor, e.opts.PresenceTTL); err != nil {
			e.log.Debug("presence set cursor failed", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	return m, nil
}

func (e *engine) ChangeSelection(ctx context.Context, docID, userID string, selection json.RawMessage) (Mark, error) {
	s, err := e.session(docID, userID)
	if err != nil {
		return Mark{}, err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return Mark{}, err
	}
	return s.ChangeSelection(userID, selection)
}

func (e *engine) SetTyping(ctx context.Context, docID, userID string, active bool) error {
	s, err := e.session(docID, userID)
	if err != nil {
		return err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return err
	}
	return s.SetTyping(userID, active)
}

func (e *engine) ApplyContentChange(ctx context.Context, docID, userID string, change json.RawMessage) (ChangeEvent, error) {
	s, err := e.session(docID, userID)
	if err != nil {
		return ChangeEvent{}, err
	}
	if err := s.Touch(userID); err != nil {
		return ChangeEvent{}, err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelEditor); err != nil {
		return ChangeEvent{}, err
	}
	return s.ApplyContentChange(userID, change)
}

func (e *engine) AddComment(ctx context.Context, docID, userID string, comment json.RawMessage) (ChangeEvent, error) {
	s, err := e.session(docID, userID)
	if err != nil {
		return ChangeEvent{}, err
	}
	if err := s.Touch(userID); err != nil {
		return ChangeEvent{}, err
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelCommenter); err != nil {
		return ChangeEvent{}, err
	}
	evt, err := s.AddComment(userID, comment)
	if err != nil {
		return ChangeEvent{}, err
	}
	u, _ := s.User(userID)
	e.publish(ctx, DocEvent{
		EventType: DocEventCommentAdded,
		DocID:     docID,
		DocType:   s.DocumentType(),
		ActorID:   userID,
		ActorName: u.DisplayName,
		Payload:   comment,
	})
	return evt, nil
}

// Mention 返回发起人信息供调用方点对点投递；离线用户靠下游通知服务
func (e *engine) Mention(ctx context.Context, docID, userID, mentionedUserID string, mentionCtx json.RawMessage) (User, error) {
	if mentionedUserID == "" {
		return User{}, fmt.Errorf("%w: mentioned_user_id is empty", ErrInvalidChange)
	}
	s, err := e.session(docID, userID)
	if err != nil {
		return User{}, err
	}
	u, ok := s.User(userID)
	if !ok {
		return User{}, fmt.Errorf("%s/%s: %w", docID, userID, ErrNotJoined)
	}
	if err := e.gate.Require(ctx, docID, userID, permission.LevelCommenter); err != nil {
		return User{}, err
	}
	e.publish(ctx, DocEvent{
		EventType:    DocEventMention,
		DocID:        docID,
		DocType:      s.DocumentType(),
		ActorID:      userID,
		ActorName:    u.DisplayName,
		TargetUserID: mentionedUserID,
		Payload:      mentionCtx,
	})
	return u, nil
}

func (e *engine) SaveVersion(ctx context.Context, req SaveVersionRequest) (*entity.DocumentVersion, error) {
	if err := e.gate.Require(ctx, req.DocID, req.UserID, permission.LevelEditor); err != nil {
		return nil, err
	}
	s := e.registry.Lookup(req.DocID)
	var content string
	took := false
	switch {
	case req.Content != nil:
		content = *req.Content
	case s != nil:
		// 在线文本：取出后清 dirty，保存失败再还原
		c, _, _, ok := s.TakeDirty()
		if !ok {
			c = s.Content()
		}
		content, took = c, ok
	default:
		return nil, fmt.Errorf("%w: %s has no live session and no content was supplied", ErrNothingToSave, req.DocID)
	}
	v, err := e.save(ctx, store.NewVersion{
		DocumentID: req.DocID,
		Content:    content,
		AuthorID:   req.UserID,
		AuthorName: req.AuthorName,
		Note:       req.Note,
	})
	if err != nil {
		if took {
			s.MarkDirty()
		}
		return nil, err
	}
	e.publish(ctx, DocEvent{
		EventType: DocEventVersionSaved,
		DocID:     req.DocID,
		ActorID:   req.UserID,
		ActorName: req.AuthorName,
		VersionID: v.ID,
	})
	return v, nil
}

// save 限制同时写版本存储的数量
func (e *engine) save(ctx context.Context, nv store.NewVersion) (*entity.DocumentVersion, error) {
	saveCtx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()
	if err := e.saveSem.Acquire(saveCtx); err != nil {
		return nil, err
	}
	defer e.saveSem.Release()
	v, err := e.versions.SaveVersion(saveCtx, nv)
	if err != nil {
		return nil, fmt.Errorf("save version of %s: %w", nv.DocumentID, err)
	}
	return v, nil
}

func (e *engine) saveDraft(ctx context.Context, s *Session) (*entity.DocumentVersion, error) {
	content, editorID, editorName, ok := s.TakeDirty()
	if !ok {
		return nil, nil
	}
	v, err := e.save(ctx, store.NewVersion{
		DocumentID: s.DocumentID(),
		Content:    content,
		AuthorID:   editorID,
		AuthorName: editorName,
		Draft:      true,
	})
	if err != nil {
		s.MarkDirty()
		return nil, err
	}
	return v, nil
}

func (e *engine) ListVersions(ctx context.Context, docID, userID string, limit int) ([]entity.DocumentVersion, error) {
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return nil, err
	}
	return e.versions.ListVersions(ctx, docID, limit)
}

func (e *engine) GetVersion(ctx context.Context, docID, versionID, userID string) (*entity.DocumentVersion, error) {
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return nil, err
	}
	return e.versions.GetVersion(ctx, docID, versionID)
}

func (e *engine) Rollback(ctx context.Context, docID, versionID, userID, userName string) (RollbackResult, error) {
	if err := e.gate.Require(ctx, docID, userID, permission.LevelEditor); err != nil {
		return RollbackResult{}, err
	}
	v, err := e.versions.Rollback(ctx, docID, versionID, userID, userName)
	if err != nil {
		return RollbackResult{}, err
	}
	res := RollbackResult{Version: v}
	if s := e.registry.Lookup(docID); s != nil {
		payload, err := json.Marshal(struct {
			Content      string `json:"content"`
			RestoredFrom string `json:"restored_from"`
			VersionID    string `json:"version_id"`
		}{v.Content, versionID, v.ID})
		if err != nil {
			return RollbackResult{}, err
		}
		evt := s.ResetContent(userID, v.Content, payload)
		res.Event = &evt
	}
	e.publish(ctx, DocEvent{
		EventType: DocEventVersionRolledBack,
		DocID:     docID,
		ActorID:   userID,
		ActorName: userName,
		VersionID: v.ID,
	})
	e.log.Info("version rolled back", zap.String("doc_id", docID), zap.String("from", versionID), zap.String("new", v.ID), zap.String("user_id", userID))
	return res, nil
}

func (e *engine) ChangesSince(ctx context.Context, docID, userID string, since time.Time) ([]ChangeEvent, error) {
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return nil, err
	}
	s := e.registry.Lookup(docID)
	if s == nil {
		return []ChangeEvent{}, nil
	}
	return s.ChangesSince(since), nil
}

func (e *engine) ActiveUsers(ctx context.Context, docID, userID string) ([]User, error) {
	if err := e.gate.Require(ctx, docID, userID, permission.LevelViewer); err != nil {
		return nil, err
	}
	s := e.registry.Lookup(docID)
	if s == nil {
		return []User{}, nil
	}
	return s.Users(), nil
}

func (e *engine) UpdatePermission(ctx context.Context, docID, actingUserID, targetUserID string, level permission.Level) error {
	if err := e.gate.UpdatePermission(ctx, docID, actingUserID, targetUserID, level); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"level": level.String()})
	e.publish(ctx, DocEvent{
		EventType:    DocEventPermissionChanged,
		DocID:        docID,
		ActorID:      actingUserID,
		TargetUserID: targetUserID,
		Payload:      payload,
	})
	return nil
}

func (e *engine) ListPermissions(ctx context.Context, docID, actingUserID string) ([]entity.DocumentPermission, error) {
	return e.gate.List(ctx, docID, actingUserID)
}

// publish 事件投递失败不影响协作主流程
func (e *engine) publish(ctx context.Context, evt DocEvent) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	pubCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, evt); err != nil {
		e.log.Warn("publish event failed", zap.String("doc_id", evt.DocID), zap.String("event_type", evt.EventType), zap.Error(err))
	}
}
