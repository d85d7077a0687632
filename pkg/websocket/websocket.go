package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
)

var ErrConnectionLimit = errors.New(ErrConnectionLimitExceeded)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Group     string      `json:"group,omitempty"`
}

// PresenceData presence.changed 的负载
type PresenceData struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// MessageHandler 处理客户端上行的业务消息
type MessageHandler func(conn *Connection, msg *Message) error

// GroupAuthorizer 客户端主动加入组时，按当前成员关系重新鉴权
type GroupAuthorizer func(ctx context.Context, userID, group string) bool

// PublishHook 在组消息投递前调用，data 是已序列化的负载
type PublishHook func(group, msgType string, data json.RawMessage)

// Observer 连接和投递指标
type Observer interface {
	SetWSConnections(n int)
	RecordWSDelivered(msgType string, n int)
	RecordWSDropped()
}

// Hub 管理所有WebSocket连接
type Hub struct {
	// 注册的连接
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 组到连接ID的映射
	groupConnections map[string]map[string]bool
	// 连接计数
	connectionCount int64
	// 配置
	config *Config
	// 互斥锁
	mu sync.RWMutex
	// 上下文
	ctx    context.Context
	cancel context.CancelFunc

	handlers        map[string]MessageHandler
	authorizer      GroupAuthorizer
	hook            PublishHook
	observer        Observer
	presencePublish func(group, msgType string, data interface{}) int
	extMu           sync.RWMutex
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	config = MergeConfig(DefaultConfig(), config)

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
		handlers:         make(map[string]MessageHandler),
	}
	hub.presencePublish = hub.Publish

	go hub.run()
	return hub
}

// run Hub主循环，只负责心跳巡检
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// HandleMessage 注册上行业务消息处理器
func (h *Hub) HandleMessage(msgType string, fn MessageHandler) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.handlers[msgType] = fn
}

func (h *Hub) SetGroupAuthorizer(fn GroupAuthorizer) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.authorizer = fn
}

func (h *Hub) SetPublishHook(fn PublishHook) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.hook = fn
}

func (h *Hub) SetObserver(o Observer) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.observer = o
}

// SetPresencePublisher 集群模式下让在线状态经由中继广播
func (h *Hub) SetPresencePublisher(fn func(group, msgType string, data interface{}) int) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.presencePublish = fn
}

func (h *Hub) handler(msgType string) (MessageHandler, bool) {
	h.extMu.RLock()
	defer h.extMu.RUnlock()
	fn, ok := h.handlers[msgType]
	return fn, ok
}

func (h *Hub) getObserver() Observer {
	h.extMu.RLock()
	defer h.extMu.RUnlock()
	return h.observer
}

// Register 注册连接
func (h *Hub) Register(conn *Connection) error {
	h.mu.Lock()

	// 检查最大连接数
	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		h.mu.Unlock()
		logger.Warn("websocket connection limit reached", zap.Int64("max", h.config.MaxConnections))
		return ErrConnectionLimit
	}

	h.connections[conn.ID] = conn
	count := atomic.AddInt64(&h.connectionCount, 1)

	// 添加到用户连接映射
	first := false
	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
			first = true
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}

	// 首个连接先广播上线再入组，自己不会收到自己的上线通知
	if first {
		if conn.PrivateGroup != "" {
			h.addToGroupLocked(conn.PrivateGroup, conn.ID)
		}
		h.mu.Unlock()
		h.announcePresence(conn, PresenceOnline)
		h.mu.Lock()
	}
	if _, ok := h.connections[conn.ID]; ok {
		for _, group := range conn.GetGroups() {
			h.addToGroupLocked(group, conn.ID)
		}
	}
	h.mu.Unlock()

	if o := h.getObserver(); o != nil {
		o.SetWSConnections(int(count))
	}
	logger.Info("websocket connection registered",
		zap.String("conn", conn.ID),
		zap.String("user", conn.UserID),
		zap.Int64("connections", count),
	)
	return nil
}

// Unregister 注销连接，可重复调用
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if _, exists := h.connections[conn.ID]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn.ID)
	count := atomic.AddInt64(&h.connectionCount, -1)

	last := false
	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
			last = true
		}
	}

	for _, group := range conn.GetGroups() {
		h.removeFromGroupLocked(group, conn.ID)
	}
	h.mu.Unlock()

	conn.closeSend()
	if o := h.getObserver(); o != nil {
		o.SetWSConnections(int(count))
	}
	logger.Info("websocket connection unregistered",
		zap.String("conn", conn.ID),
		zap.String("user", conn.UserID),
		zap.Int64("connections", count),
	)

	if last {
		h.announcePresence(conn, PresenceOffline)
	}
}

// announcePresence 向连接所在的非私有组广播在线状态
func (h *Hub) announcePresence(conn *Connection, status string) {
	if !conn.AnnouncePresence {
		return
	}
	h.extMu.RLock()
	publish := h.presencePublish
	h.extMu.RUnlock()

	data := PresenceData{UserID: conn.UserID, Status: status, Timestamp: time.Now().Unix()}
	for _, group := range conn.GetGroups() {
		if group == conn.PrivateGroup {
			continue
		}
		publish(group, MessageTypePresence, data)
	}
}

func (h *Hub) addToGroupLocked(group, connID string) {
	if h.groupConnections[group] == nil {
		h.groupConnections[group] = make(map[string]bool)
	}
	h.groupConnections[group][connID] = true
}

func (h *Hub) removeFromGroupLocked(group, connID string) {
	if h.groupConnections[group] != nil {
		delete(h.groupConnections[group], connID)
		if len(h.groupConnections[group]) == 0 {
			delete(h.groupConnections, group)
		}
	}
}

// JoinGroup 把连接加入组
func (h *Hub) JoinGroup(connID, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connID]
	if !ok {
		return false
	}
	conn.addGroup(group)
	h.addToGroupLocked(group, connID)
	return true
}

// LeaveGroup 把连接移出组
func (h *Hub) LeaveGroup(connID, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connID]
	if !ok {
		return false
	}
	conn.removeGroup(group)
	h.removeFromGroupLocked(group, connID)
	return true
}

// JoinUserToGroup 把用户在本节点的所有连接加入组，返回受影响的连接数
func (h *Hub) JoinUserToGroup(userID, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for connID := range h.userConnections[userID] {
		if conn, ok := h.connections[connID]; ok {
			conn.addGroup(group)
			h.addToGroupLocked(group, connID)
			n++
		}
	}
	return n
}

// RemoveUserFromGroup 把用户在本节点的所有连接移出组
func (h *Hub) RemoveUserFromGroup(userID, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for connID := range h.userConnections[userID] {
		if conn, ok := h.connections[connID]; ok {
			conn.removeGroup(group)
			h.removeFromGroupLocked(group, connID)
			n++
		}
	}
	return n
}

// Publish 投递到组内当前的所有连接，返回成功入队的连接数。
// 发送缓冲区满时丢弃，不阻塞调用方。
func (h *Hub) Publish(group, msgType string, data interface{}) int {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Error("websocket payload marshal failed", zap.String("type", msgType), zap.Error(err))
		return 0
	}

	h.extMu.RLock()
	hook := h.hook
	h.extMu.RUnlock()
	if hook != nil {
		hook(group, msgType, raw)
	}

	frame, err := json.Marshal(Message{
		Type:      msgType,
		Data:      json.RawMessage(raw),
		Timestamp: time.Now().Unix(),
		Group:     group,
	})
	if err != nil {
		return 0
	}

	h.mu.RLock()
	delivered := h.sendToSetLocked(h.groupConnections[group], frame)
	h.mu.RUnlock()

	if o := h.getObserver(); o != nil {
		o.RecordWSDelivered(msgType, delivered)
	}
	return delivered
}

func (h *Hub) sendToSetLocked(set map[string]bool, frame []byte) int {
	delivered := 0
	for connID := range set {
		conn, ok := h.connections[connID]
		if !ok {
			continue
		}
		if conn.enqueue(frame) {
			delivered++
			continue
		}
		logger.Warn("websocket send buffer full, message dropped",
			zap.String("conn", conn.ID),
			zap.String("user", conn.UserID),
		)
		if o := h.getObserver(); o != nil {
			o.RecordWSDropped()
		}
	}
	return delivered
}

// checkHeartbeats 关闭超时未活动的连接
func (h *Hub) checkHeartbeats() {
	now := time.Now()

	h.mu.RLock()
	stale := make([]*Connection, 0)
	for _, conn := range h.connections {
		if now.Sub(conn.lastSeen()) > h.config.ConnectionTimeout {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		logger.Warn("websocket heartbeat timeout", zap.String("conn", conn.ID), zap.String("user", conn.UserID))
		conn.close()
		h.Unregister(conn)
	}
}

func (h *Hub) authorizeGroup(ctx context.Context, userID, group string) bool {
	h.extMu.RLock()
	fn := h.authorizer
	h.extMu.RUnlock()
	if fn == nil {
		return false
	}
	return fn(ctx, userID, group)
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// IsOnline 用户在本节点是否有连接
func (h *Hub) IsOnline(userID string) bool {
	return h.GetUserConnections(userID) > 0
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
	logger.Info("websocket hub closed")
}
