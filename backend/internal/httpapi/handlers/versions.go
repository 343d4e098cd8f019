package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/ws"
)

type saveVersionReq struct {
	// 不传 content 时保存当前在线文本
	Content *string `json:"content"`
	Note    string  `json:"note"`
}

// GET /documents/:docID/versions?limit=
func (h *Handler) ListVersions(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	list, err := h.svc.ListVersions(c.Request.Context(), c.Param("docID"), id.UserID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": list})
}

// POST /documents/:docID/versions
func (h *Handler) SaveVersion(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var req saveVersionReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body")
			return
		}
	}
	docID := c.Param("docID")
	v, err := h.svc.SaveVersion(c.Request.Context(), collab.SaveVersionRequest{
		DocID:      docID,
		UserID:     id.UserID,
		AuthorName: id.Username,
		Note:       req.Note,
		Content:    req.Content,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.hub.Broadcast(docID, ws.NewVersionSaved(*v), "")
	h.log.Info("version saved", zap.String("doc_id", docID), zap.String("version_id", v.ID), zap.String("user_id", id.UserID))
	c.JSON(http.StatusCreated, v)
}

// GET /documents/:docID/versions/:versionID
func (h *Handler) GetVersion(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	v, err := h.svc.GetVersion(c.Request.Context(), c.Param("docID"), c.Param("versionID"), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// POST /documents/:docID/versions/:versionID/rollback
func (h *Handler) Rollback(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	docID := c.Param("docID")
	res, err := h.svc.Rollback(c.Request.Context(), docID, c.Param("versionID"), id.UserID, id.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	// 在线用户：先收到整篇替换，再收到新版本
	if res.Event != nil {
		h.hub.Broadcast(docID, ws.NewContentChange(*res.Event, res.Version.ID), "")
	}
	h.hub.Broadcast(docID, ws.NewVersionSaved(*res.Version), "")
	c.JSON(http.StatusOK, res.Version)
}
