package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /documents/:docID/session 当前在线用户
func (h *Handler) ActiveUsers(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	docID := c.Param("docID")
	users, err := h.svc.ActiveUsers(c.Request.Context(), docID, id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": docID, "active_users": users})
}

// GET /documents/:docID/changes?since= ，since 可以是 RFC3339 或毫秒时间戳
func (h *Handler) ChangesSince(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	since, err := parseSince(c.Query("since"))
	if err != nil {
		badRequest(c, "since must be RFC3339 or unix milliseconds")
		return
	}
	docID := c.Param("docID")
	changes, err := h.svc.ChangesSince(c.Request.Context(), docID, id.UserID, since)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": docID, "changes": changes})
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
