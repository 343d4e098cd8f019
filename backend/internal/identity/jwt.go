package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

type Claims struct {
	Username string `json:"username"`
	Type     string `json:"typ"`
	// Subject 即用户 ID
	jwt.RegisteredClaims
}

// JWTResolver 本地校验 HS256 access token，和鉴权服务共用同一个密钥
type JWTResolver struct {
	secret []byte
}

var _ Resolver = (*JWTResolver)(nil)

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	// refresh token 不能用来连协作
	if claims.Type != "" && claims.Type != tokenTypeAccess {
		return Identity{}, fmt.Errorf("%w: access token required", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// SignAccessToken 本地开发和测试用；正式环境由鉴权服务签发
func SignAccessToken(secret, userID, username string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := &Claims{
		Username: username,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}
