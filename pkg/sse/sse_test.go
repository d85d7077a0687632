package sse

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesGroupOnly(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.Subscribe("u1", []string{"circle:a"})
	b := h.Subscribe("u2", []string{"circle:b"})

	assert.Equal(t, 1, h.Publish("circle:a", "alert.created", map[string]string{"id": "x"}))
	require.Len(t, a.ch, 1)
	assert.Len(t, b.ch, 0)

	frame := <-a.ch
	assert.Contains(t, frame, "event: alert.created\n")
	assert.Contains(t, frame, `data: {"id":"x"}`)
	assert.True(t, strings.HasPrefix(frame, "id: 1\n"))
}

func TestUserGroupMembership(t *testing.T) {
	h := NewHub(time.Minute)
	c1 := h.Subscribe("u1", nil)
	c2 := h.Subscribe("u1", nil)

	assert.Equal(t, 2, h.JoinUserToGroup("u1", "circle:a"))
	assert.Equal(t, 2, h.GroupCount("circle:a"))
	assert.Equal(t, 2, h.Publish("circle:a", "member.joined", nil))

	assert.Equal(t, 2, h.RemoveUserFromGroup("u1", "circle:a"))
	assert.Equal(t, 0, h.Publish("circle:a", "member.joined", nil))

	h.Unsubscribe(c1)
	h.Unsubscribe(c1)
	assert.Equal(t, 1, h.ClientCount())
	h.Unsubscribe(c2)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHookRunsBeforeDelivery(t *testing.T) {
	h := NewHub(time.Minute)
	c := h.Subscribe("u1", []string{"user:u1"})
	h.SetPublishHook(func(group, msgType string, data json.RawMessage) {
		if msgType == "membership.changed" {
			h.JoinUserToGroup("u1", "circle:a")
		}
	})

	h.Publish("user:u1", "membership.changed", map[string]string{"group": "circle:a"})
	assert.Equal(t, 1, h.Publish("circle:a", "member.joined", nil))
	assert.Len(t, c.ch, 2)
}

func TestFullBufferDrops(t *testing.T) {
	h := NewHub(time.Minute)
	c := h.Subscribe("u1", []string{"g"})
	for i := 0; i < clientBuffer; i++ {
		require.Equal(t, 1, h.Publish("g", "tick", i))
	}
	assert.Equal(t, 0, h.Publish("g", "tick", "overflow"))
	assert.Len(t, c.ch, clientBuffer)
}

func TestServeStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(time.Minute)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		h.Serve(c, h.Subscribe("u1", []string{"g"}))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 5000\n", line)

	require.Equal(t, 1, h.Publish("g", "hello", map[string]string{"to": "u1"}))

	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: hello", lines[1])
	assert.Equal(t, `data: {"to":"u1"}`, lines[2])

	h.Close()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
