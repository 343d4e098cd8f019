package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type verifyErrResp struct {
	Error string `json:"error"`
}

// 鉴权服务 /v1/auth/verify 的返回；userId 可能是数字也可能是字符串
type verifyClaims struct {
	UserID   json.RawMessage `json:"userId"`
	Username string          `json:"username"`
	Type     string          `json:"type"`
}

// RemoteResolver 每次都调用鉴权服务校验 token
type RemoteResolver struct {
	verifyURL string
	client    *http.Client
	timeout   time.Duration
}

var _ Resolver = (*RemoteResolver)(nil)

// baseURL 不要带路径，例如 http://localhost:3001
func NewRemoteResolver(baseURL string, timeout time.Duration) *RemoteResolver {
	if timeout <= 0 {
		timeout = 1200 * time.Millisecond
	}
	return &RemoteResolver{
		// 统一拼接 verify URL（避免 double slash）
		verifyURL: strings.TrimRight(baseURL, "/") + "/v1/auth/verify",
		client:    &http.Client{},
		timeout:   timeout,
	}
}

func (r *RemoteResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: build verify request: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// 这里包含超时：context deadline exceeded
		return Identity{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		var e verifyErrResp
		_ = json.NewDecoder(resp.Body).Decode(&e) // 尽力解析错误信息
		if e.Error == "" {
			e.Error = "invalid token"
		}
		return Identity{}, fmt.Errorf("%w: %s", ErrUnauthenticated, e.Error)
	default:
		return Identity{}, fmt.Errorf("%w: verify returned %d", ErrUpstream, resp.StatusCode)
	}

	var claims verifyClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: invalid verify response: %v", ErrUpstream, err)
	}
	if claims.Type != "" && claims.Type != tokenTypeAccess {
		return Identity{}, fmt.Errorf("%w: access token required", ErrUnauthenticated)
	}
	userID := rawID(claims.UserID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: verify response without userId", ErrUpstream)
	}
	return Identity{UserID: userID, Username: claims.Username}, nil
}

func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return ""
}
