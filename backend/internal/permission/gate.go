package permission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"collabEngine/backend/internal/entity"
	"collabEngine/backend/internal/store"
)

var (
	ErrForbidden    = errors.New("FORBIDDEN")
	ErrInvalidLevel = errors.New("INVALID_LEVEL")
	ErrLastAdmin    = errors.New("LAST_ADMIN")
)

// Gate 每次都查 PermissionStore，不跨调用缓存：权限变更在下一次调用立即生效。
// singleflight 只合并同一时刻的相同查询（同一文档的多人光标广播），结果不保留。
type Gate struct {
	perms store.PermissionStore
	sf    singleflight.Group
	log   *zap.Logger
}

func NewGate(perms store.PermissionStore, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{perms: perms, log: log}
}

func (g *Gate) Level(ctx context.Context, docID, userID string) (Level, error) {
	key := docID + "\x00" + userID
	v, err, _ := g.sf.Do(key, func() (interface{}, error) {
		p, err := g.perms.GetPermission(ctx, docID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return LevelNone, nil
			}
			return LevelNone, err
		}
		lvl, err := ParseLevel(p.Level)
		if err != nil {
			// 库里的脏数据按无权限处理
			g.log.Warn("invalid stored permission level",
				zap.String("doc_id", docID), zap.String("user_id", userID), zap.String("level", p.Level))
			return LevelNone, nil
		}
		return lvl, nil
	})
	if err != nil {
		return LevelNone, err
	}
	// 使用断言确保不会panic
	if lvl, ok := v.(Level); ok {
		return lvl, nil
	}
	return LevelNone, errors.New("internal type error")
}

func (g *Gate) Authorize(ctx context.Context, docID, userID string, required Level) (bool, error) {
	lvl, err := g.Level(ctx, docID, userID)
	if err != nil {
		return false, err
	}
	return lvl >= required, nil
}

// Require 权限不足返回 ErrForbidden
func (g *Gate) Require(ctx context.Context, docID, userID string, required Level) error {
	lvl, err := g.Level(ctx, docID, userID)
	if err != nil {
		return err
	}
	if lvl < required {
		return fmt.Errorf("%w: %s has %s on %s, needs %s", ErrForbidden, userID, lvl, docID, required)
	}
	return nil
}

// GrantOwner 文档创建者首次打开时调用
func (g *Gate) GrantOwner(ctx context.Context, docID, userID string) error {
	return g.perms.PutPermission(ctx, entity.DocumentPermission{
		DocumentID: docID,
		UserID:     userID,
		Level:      LevelAdmin.String(),
		GrantedBy:  userID,
	})
}

// UpdatePermission 只有 admin 能改权限；分享（share/invite）也走这里
func (g *Gate) UpdatePermission(ctx context.Context, docID, actingUserID, targetUserID string, level Level) error {
	if err := g.Require(ctx, docID, actingUserID, LevelAdmin); err != nil {
		return err
	}
	if actingUserID == targetUserID && level < LevelAdmin {
		admins, err := g.countAdmins(ctx, docID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: %s is the only admin of %s", ErrLastAdmin, actingUserID, docID)
		}
	}
	if err := g.perms.PutPermission(ctx, entity.DocumentPermission{
		DocumentID: docID,
		UserID:     targetUserID,
		Level:      level.String(),
		GrantedBy:  actingUserID,
	}); err != nil {
		return err
	}
	g.log.Info("permission updated",
		zap.String("doc_id", docID), zap.String("by", actingUserID),
		zap.String("user_id", targetUserID), zap.Stringer("level", level))
	return nil
}

func (g *Gate) List(ctx context.Context, docID, actingUserID string) ([]entity.DocumentPermission, error) {
	if err := g.Require(ctx, docID, actingUserID, LevelViewer); err != nil {
		return nil, err
	}
	return g.perms.ListPermissions(ctx, docID)
}

func (g *Gate) countAdmins(ctx context.Context, docID string) (int, error) {
	perms, err := g.perms.ListPermissions(ctx, docID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range perms {
		if lvl, err := ParseLevel(p.Level); err == nil && lvl == LevelAdmin {
			n++
		}
	}
	return n, nil
}
