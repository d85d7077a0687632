package websocket

// WebSocket消息类型常量
const (
	// 系统消息类型
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeJoinGroup   = "join_group"
	MessageTypeLeaveGroup  = "leave_group"
	MessageTypeGroupJoined = "group_joined"
	MessageTypeGroupLeft   = "group_left"
	MessageTypeError       = "error"
	MessageTypeConnected   = "connected"

	// 在线状态
	MessageTypePresence = "presence.changed"
	PresenceOnline      = "online"
	PresenceOffline     = "offline"

	// 握手失败时的关闭码
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403

	// 默认配置值
	DefaultMaxConnections    = 10000
	DefaultHeartbeatInterval = 30
	DefaultConnectionTimeout = 60
	DefaultMessageBufferSize = 256
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 1024
	DefaultMaxMessageSize    = 4096

	// 错误消息
	ErrConnectionLimitExceeded = "connection limit reached"
	ErrInvalidMessageType      = "unknown message type"
	ErrInvalidMessageData      = "invalid message data"
	ErrGroupForbidden          = "not allowed to join this group"
	ErrRateLimited             = "too many messages"

	// 路由路径
	RouteWebSocket      = "/ws"
	RouteWebSocketStats = "/ws/stats"
)
