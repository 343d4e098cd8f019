package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"collabEngine/backend/internal/permission"
)

type updatePermissionReq struct {
	Level string `json:"level" binding:"required"`
}

type shareReq struct {
	UserID string `json:"user_id" binding:"required"`
	// 默认 viewer
	Level string `json:"level"`
}

// GET /documents/:docID/permissions
func (h *Handler) ListPermissions(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	perms, err := h.svc.ListPermissions(c.Request.Context(), c.Param("docID"), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// PUT /documents/:docID/permissions/:userID
func (h *Handler) UpdatePermission(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var req updatePermissionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "level is required")
		return
	}
	h.setPermission(c, id.UserID, c.Param("userID"), req.Level)
}

// POST /documents/:docID/share
func (h *Handler) Share(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var req shareReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Level) == "" {
		req.Level = permission.LevelViewer.String()
	}
	h.setPermission(c, id.UserID, req.UserID, req.Level)
}

func (h *Handler) setPermission(c *gin.Context, actingUserID, targetUserID, rawLevel string) {
	lvl, err := permission.ParseLevel(rawLevel)
	if err != nil {
		h.writeError(c, err)
		return
	}
	docID := c.Param("docID")
	if err := h.svc.UpdatePermission(c.Request.Context(), docID, actingUserID, targetUserID, lvl); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": docID, "user_id": targetUserID, "level": lvl})
}
