package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("UNAUTHENTICATED")
	// 鉴权服务不可达或返回了看不懂的结果
	ErrUpstream = errors.New("AUTH_UPSTREAM_ERROR")
)

// Identity 已认证的调用者
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Resolver 把 bearer token 解析成身份；token 无效返回 ErrUnauthenticated
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// ExtractBearer 处理 "Bearer" 前缀（大小写不敏感）
func ExtractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
