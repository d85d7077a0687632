// Package sse 以 text/event-stream 推送组消息，供无法使用 WebSocket 的客户端订阅。
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const clientBuffer = 64

// PublishHook 在组消息投递前调用
type PublishHook func(group, msgType string, data json.RawMessage)

type Client struct {
	ID     string
	UserID string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	groups      map[string]map[string]bool // group -> clientID set
	userClients map[string]map[string]bool
	interval    time.Duration
	retryMs     int
	seq         atomic.Uint64
	hook        PublishHook
	closed      bool
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:     make(map[string]*Client),
		groups:      make(map[string]map[string]bool),
		userClients: make(map[string]map[string]bool),
		interval:    interval,
		retryMs:     5000,
	}
}

// SetPublishHook 只应在开始服务前设置
func (h *Hub) SetPublishHook(fn PublishHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hook = fn
}

// Subscribe 登记客户端并加入初始组
func (h *Hub) Subscribe(userID string, groups []string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		groups: make(map[string]bool, len(groups)),
		ch:     make(chan string, clientBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.close()
		return c
	}
	h.clients[c.ID] = c
	addTo(h.userClients, userID, c.ID)
	for _, g := range groups {
		c.groups[g] = true
		addTo(h.groups, g, c.ID)
	}
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for g := range c.groups {
		removeFrom(h.groups, g, c.ID)
	}
	removeFrom(h.userClients, c.UserID, c.ID)
	delete(h.clients, c.ID)
	c.close()
}

// JoinUserToGroup 把用户的所有订阅加入组
func (h *Hub) JoinUserToGroup(userID, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.userClients[userID] {
		if c := h.clients[id]; c != nil {
			c.groups[group] = true
			addTo(h.groups, group, id)
			n++
		}
	}
	return n
}

func (h *Hub) RemoveUserFromGroup(userID, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.userClients[userID] {
		if c := h.clients[id]; c != nil {
			delete(c.groups, group)
			removeFrom(h.groups, group, id)
			n++
		}
	}
	return n
}

// Publish 投递到组内所有订阅，缓冲区满时丢弃，返回入队数
func (h *Hub) Publish(group, msgType string, data interface{}) int {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	hook := h.hook
	h.mu.RUnlock()
	if hook != nil {
		hook(group, msgType, raw)
	}

	frame := formatEvent(h.seq.Add(1), msgType, raw)
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id := range h.groups[group] {
		c := h.clients[id]
		if c == nil {
			continue
		}
		select {
		case c.ch <- frame:
			n++
		default:
		}
	}
	return n
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GroupCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close 结束所有正在进行的流
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
}

func formatEvent(id uint64, msgType string, data []byte) string {
	return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, msgType, data)
}

// Serve 阻塞输出事件流，直到客户端断开或 Hub 关闭
func (h *Hub) Serve(c *gin.Context, client *Client) {
	defer h.Unsubscribe(client)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			if _, err := c.Writer.Write([]byte(msg)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func addTo(m map[string]map[string]bool, key, id string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][id] = true
}

func removeFrom(m map[string]map[string]bool, key, id string) {
	if m[key] == nil {
		return
	}
	delete(m[key], id)
	if len(m[key]) == 0 {
		delete(m, key)
	}
}
