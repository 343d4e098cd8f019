package ws

import "github.com/gorilla/websocket"

// 关闭码：鉴权失败在升级前就返回 HTTP 401，不会走到这里
const (
	CloseNormal        = websocket.CloseNormalClosure   // 1000
	CloseGoingAway     = websocket.CloseGoingAway       // 1001 服务关闭
	CloseNotEntitled   = websocket.ClosePolicyViolation // 1008 未开通协作
	CloseSuperseded    = 4000                           // 同一用户在同一文档上开了新连接
	CloseForbidden     = 4003                           // 升级后权限被收回
	CloseIdleTimeout   = 4008                           // 超过空闲时间没有收到任何消息
	CloseSlowConsumer  = 4009                           // 发送队列满
	reasonNotEntitled  = "feature not entitled"
	reasonSuperseded   = "superseded by a newer connection"
	reasonIdle         = "idle timeout"
	reasonSlowConsumer = "send queue overflow"
)
