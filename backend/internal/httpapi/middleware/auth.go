package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"collabEngine/backend/internal/identity"
)

const (
	CtxUserID   = "userId"
	CtxUsername = "username"
)

// AuthMiddleware 从 Authorization 或 ?token= 提取 token，解析成身份后写入 userId/username
func AuthMiddleware(resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := identity.ExtractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			// 兼容 WebSocket：浏览器无法自定义 Header，允许从 query ?token= 中获取
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		id, err := resolver.Resolve(ctx, tokenString)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    "UNAUTHENTICATED",
					"message": err.Error(),
				})
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "identity verify failed",
			})
			return
		}

		c.Set(CtxUserID, id.UserID)
		c.Set(CtxUsername, id.Username)
		c.Next()
	}
}

// CurrentIdentity 取出 AuthMiddleware 写入的身份
func CurrentIdentity(c *gin.Context) (identity.Identity, bool) {
	userID := c.GetString(CtxUserID)
	if userID == "" {
		return identity.Identity{}, false
	}
	return identity.Identity{UserID: userID, Username: c.GetString(CtxUsername)}, true
}
