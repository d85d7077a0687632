package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SafeCircle/pkg/logger"
)

// Connection 表示一个WebSocket连接
type Connection struct {
	ID     string
	UserID string
	// 用户私有组，不参与在线状态广播
	PrivateGroup     string
	AnnouncePresence bool
	Conn             *websocket.Conn
	Send             chan []byte
	Hub              *Hub

	mu       sync.RWMutex
	lastPing time.Time
	groups   map[string]bool
	closed   bool
	limiter  *rate.Limiter
}

// NewConnection 按握手得到的会话创建连接，ws 为空时只用于进程内投递
func NewConnection(hub *Hub, ws *websocket.Conn, s Session) *Connection {
	c := &Connection{
		ID:               uuid.NewString(),
		UserID:           s.UserID,
		PrivateGroup:     s.PrivateGroup,
		AnnouncePresence: s.AnnouncePresence,
		Conn:             ws,
		Send:             make(chan []byte, hub.config.MessageBufferSize),
		Hub:              hub,
		lastPing:         time.Now(),
		groups:           make(map[string]bool, len(s.Groups)+1),
		limiter:          rate.NewLimiter(rate.Limit(hub.config.MessageRate), hub.config.MessageBurst),
	}
	if s.PrivateGroup != "" {
		c.groups[s.PrivateGroup] = true
	}
	for _, g := range s.Groups {
		c.groups[g] = true
	}
	return c
}

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		// 原生客户端不带 Origin，鉴权靠握手凭证
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: cfg.EnableCompression,
	}
}

func (c *Connection) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Connection) close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

func (c *Connection) lastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Connection) addGroup(group string) {
	c.mu.Lock()
	c.groups[group] = true
	c.mu.Unlock()
}

func (c *Connection) removeGroup(group string) {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
}

// IsInGroup 检查是否在指定组中
func (c *Connection) IsInGroup(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groups[group]
}

// GetGroups 获取连接所属的组
func (c *Connection) GetGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	return groups
}

// Reply 只发给当前连接
func (c *Connection) Reply(msgType string, data interface{}) bool {
	frame, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		return false
	}
	return c.enqueue(frame)
}

func (c *Connection) replyError(requestType, msg string) {
	c.Reply(MessageTypeError, map[string]string{"requestType": requestType, "message": msg})
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.close()
	}()

	cfg := c.Hub.config
	c.Conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(cfg.ConnectionTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", zap.String("conn", c.ID), zap.Error(err))
			}
			return
		}
		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(cfg.ConnectionTimeout))

		if !c.limiter.Allow() {
			c.replyError("", ErrRateLimited)
			continue
		}
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程，每条消息一个帧
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.replyError("", ErrInvalidMessageData)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.Reply(MessageTypePong, nil)
	case MessageTypeJoinGroup:
		c.handleJoinGroup(&msg)
	case MessageTypeLeaveGroup:
		c.handleLeaveGroup(&msg)
	default:
		fn, ok := c.Hub.handler(msg.Type)
		if !ok {
			c.replyError(msg.Type, ErrInvalidMessageType)
			return
		}
		if err := fn(c, &msg); err != nil {
			c.replyError(msg.Type, err.Error())
		}
	}
}

// groupName 支持 data 为字符串或 {"group": "..."}
func groupName(msg *Message) string {
	if msg.Group != "" {
		return strings.TrimSpace(msg.Group)
	}
	switch v := msg.Data.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		if s, ok := v["group"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// handleJoinGroup 处理加入组消息，按当前成员关系鉴权
func (c *Connection) handleJoinGroup(msg *Message) {
	group := groupName(msg)
	if group == "" {
		c.replyError(msg.Type, ErrInvalidMessageData)
		return
	}

	ctx, cancel := context.WithTimeout(c.Hub.ctx, 5*time.Second)
	defer cancel()
	if group != c.PrivateGroup && !c.Hub.authorizeGroup(ctx, c.UserID, group) {
		c.replyError(msg.Type, ErrGroupForbidden)
		return
	}

	c.Hub.JoinGroup(c.ID, group)
	c.Reply(MessageTypeGroupJoined, group)
	logger.Debug("websocket group joined", zap.String("user", c.UserID), zap.String("group", group))
}

// handleLeaveGroup 处理离开组消息
func (c *Connection) handleLeaveGroup(msg *Message) {
	group := groupName(msg)
	if group == "" || group == c.PrivateGroup {
		c.replyError(msg.Type, ErrInvalidMessageData)
		return
	}

	c.Hub.LeaveGroup(c.ID, group)
	c.Reply(MessageTypeGroupLeft, group)
}
