package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabEngine/backend/internal/httpapi/handlers"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/identity"
	"collabEngine/backend/internal/ws"
)

type RouterDeps struct {
	Resolver identity.Resolver
	Manager  *ws.Manager
	Handlers *handlers.Handler
	Logger   *zap.Logger
	// 为空时不挂 CORS 中间件
	CorsOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	if len(d.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CorsOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	collab := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，写入 userId/username
	collab.Use(middleware.AuthMiddleware(d.Resolver))
	collab.GET("/ws", d.Manager.WebSocketConnect)

	docs := collab.Group("/documents/:docID")
	h := d.Handlers
	docs.GET("/versions", h.ListVersions)
	docs.POST("/versions", h.SaveVersion)
	docs.GET("/versions/:versionID", h.GetVersion)
	docs.POST("/versions/:versionID/rollback", h.Rollback)
	docs.GET("/permissions", h.ListPermissions)
	docs.PUT("/permissions/:userID", h.UpdatePermission)
	docs.POST("/share", h.Share)
	docs.GET("/session", h.ActiveUsers)
	docs.GET("/changes", h.ChangesSince)
	return r
}
