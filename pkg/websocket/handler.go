package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/response"
)

// Session 握手鉴权的结果
type Session struct {
	UserID       string
	PrivateGroup string
	Groups       []string
	// 为 false 时不广播该用户的在线状态
	AnnouncePresence bool
}

// Authenticator 校验握手凭证
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Session, error)
}

// AuthError 握手失败，Code 作为关闭码发送给客户端
type AuthError struct {
	Code   int
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// Handler WebSocket HTTP处理器
type Handler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub, auth Authenticator) *Handler {
	return &Handler{
		hub:      hub,
		auth:     auth,
		upgrader: newUpgrader(hub.config),
	}
}

// RegisterRoutes 统一注册路由，stats 路由可附加鉴权中间件
func RegisterRoutes(r gin.IRouter, handler *Handler, statsMiddleware ...gin.HandlerFunc) {
	r.GET(RouteWebSocket, handler.HandleWebSocket)
	r.GET(RouteWebSocketStats, append(statsMiddleware, handler.GetStats)...)
}

// bearerToken 优先 Authorization 头，其次 ?token=
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// HandleWebSocket 先升级再鉴权，失败时用关闭帧告知原因
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := bearerToken(c.Request)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session, err := h.authenticate(c.Request.Context(), token)
	if err != nil {
		code, reason := CloseUnauthenticated, err.Error()
		var ae *AuthError
		if errors.As(err, &ae) {
			code = ae.Code
		}
		rejectHandshake(ws, code, reason)
		return
	}

	conn := NewConnection(h.hub, ws, *session)
	// 写协程启动前入队，保证 connected 是第一帧
	conn.Reply(MessageTypeConnected, map[string]interface{}{
		"connectionId": conn.ID,
		"userId":       conn.UserID,
		"groups":       conn.GetGroups(),
	})
	if err := h.hub.Register(conn); err != nil {
		rejectHandshake(ws, websocket.CloseTryAgainLater, err.Error())
		return
	}

	go conn.writePump()
	go conn.readPump()
}

func (h *Handler) authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, &AuthError{Code: CloseUnauthenticated, Reason: "missing credential"}
	}
	if h.auth == nil {
		return nil, &AuthError{Code: CloseUnauthenticated, Reason: "authentication unavailable"}
	}
	return h.auth.Authenticate(ctx, token)
}

func rejectHandshake(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	stats := GetConfigSummary(h.hub.config)
	stats["total_connections"] = h.hub.GetConnectionCount()
	stats["hub_running"] = h.hub.ctx.Err() == nil
	response.Success(c, "websocket stats", stats)
}
