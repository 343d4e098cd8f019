package store

import (
	"context"
	"errors"

	"collabEngine/backend/internal/entity"
)

var (
	ErrNotFound = errors.New("NOT_FOUND")
	ErrConflict = errors.New("CONFLICT")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// 版本存储接口：只追加，rollback 也是追加一条新版本
type VersionStore interface {
	SaveVersion(ctx context.Context, v NewVersion) (*entity.DocumentVersion, error)
	// 按创建顺序倒序（最新在前），最多 limit 条
	ListVersions(ctx context.Context, docID string, limit int) ([]entity.DocumentVersion, error)
	GetVersion(ctx context.Context, docID, versionID string) (*entity.DocumentVersion, error)
	Rollback(ctx context.Context, docID, versionID, actingUserID, actingUserName string) (*entity.DocumentVersion, error)
}

type NewVersion struct {
	DocumentID string
	Content    string
	AuthorID   string
	AuthorName string
	Note       string
	Draft      bool
}

type PermissionStore interface {
	// 没有记录时返回 ErrNotFound
	GetPermission(ctx context.Context, docID, userID string) (*entity.DocumentPermission, error)
	PutPermission(ctx context.Context, p entity.DocumentPermission) error
	ListPermissions(ctx context.Context, docID string) ([]entity.DocumentPermission, error)
}

type DocumentStore interface {
	// 文档不存在时创建，created 表示本次是否新建
	EnsureDocument(ctx context.Context, docID, docType, ownerID string) (created bool, err error)
	GetDocument(ctx context.Context, docID string) (*entity.Document, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
