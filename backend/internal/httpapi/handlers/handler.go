package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/identity"
	"collabEngine/backend/internal/permission"
	"collabEngine/backend/internal/store"
	"collabEngine/backend/internal/ws"
)

// Broadcaster 在线推送；HTTP 改动了文档状态时通知已连接的用户
type Broadcaster interface {
	Broadcast(docID string, msg ws.OutboundMessage, excludeUserID string) int
}

type Handler struct {
	svc collab.Service
	hub Broadcaster
	log *zap.Logger
}

func New(svc collab.Service, hub Broadcaster, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, hub: hub, log: log}
}

func (h *Handler) caller(c *gin.Context) (identity.Identity, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "missing identity"})
	}
	return id, ok
}

// writeError 业务错误映射到 HTTP 状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, permission.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, permission.ErrInvalidLevel):
		status, code = http.StatusBadRequest, "INVALID_LEVEL"
	case errors.Is(err, permission.ErrLastAdmin):
		status, code = http.StatusConflict, "LAST_ADMIN"
	case errors.Is(err, collab.ErrNothingToSave):
		status, code = http.StatusConflict, "NOTHING_TO_SAVE"
	case errors.Is(err, collab.ErrAcquireTimeout):
		status, code = http.StatusServiceUnavailable, "BUSY"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": msg})
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
