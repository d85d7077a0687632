package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(user string, groups ...string) Session {
	return Session{
		UserID:           user,
		PrivateGroup:     "user:" + user,
		Groups:           groups,
		AnnouncePresence: true,
	}
}

func register(t *testing.T, hub *Hub, s Session) *Connection {
	t.Helper()
	conn := NewConnection(hub, nil, s)
	require.NoError(t, hub.Register(conn))
	return conn
}

func drain(conn *Connection) []Message {
	out := make([]Message, 0)
	for {
		select {
		case frame, ok := <-conn.Send:
			if !ok {
				return out
			}
			var m Message
			_ = json.Unmarshal(frame, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	assert.Equal(t, int64(DefaultMaxConnections), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)
	assert.NoError(t, ValidateConfig(hub.config))
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := register(t, hub, testSession("u1", "circle:c1"))
	assert.Equal(t, int64(1), hub.GetConnectionCount())
	assert.Equal(t, 1, hub.GetUserConnections("u1"))
	assert.Equal(t, 1, hub.GetGroupConnections("user:u1"))
	assert.Equal(t, 1, hub.GetGroupConnections("circle:c1"))

	hub.Unregister(conn)
	hub.Unregister(conn)
	assert.Equal(t, int64(0), hub.GetConnectionCount())
	assert.Equal(t, 0, hub.GetGroupConnections("circle:c1"))
	assert.False(t, hub.IsOnline("u1"))
}

func TestHubConnectionLimit(t *testing.T) {
	hub := NewHub(&Config{MaxConnections: 1})
	defer hub.Close()

	register(t, hub, testSession("u1"))
	err := hub.Register(NewConnection(hub, nil, testSession("u2")))
	assert.ErrorIs(t, err, ErrConnectionLimit)
}

func TestPublishReachesOnlyGroupMembers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a := register(t, hub, Session{UserID: "a", PrivateGroup: "user:a", Groups: []string{"circle:c1"}})
	b := register(t, hub, Session{UserID: "b", PrivateGroup: "user:b", Groups: []string{"circle:c1"}})
	x := register(t, hub, Session{UserID: "x", PrivateGroup: "user:x", Groups: []string{"circle:c2"}})

	n := hub.Publish("circle:c1", "alert.created", map[string]string{"alertId": "al1"})
	assert.Equal(t, 2, n)

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, "alert.created", got[0].Type)
	assert.Equal(t, "circle:c1", got[0].Group)
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(x))

	assert.Equal(t, 1, hub.Publish("user:x", "membership.changed", nil))
	assert.Equal(t, 0, hub.Publish("circle:none", "alert.created", nil))
}

func TestJoinAndLeaveGroup(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a := register(t, hub, Session{UserID: "a", PrivateGroup: "user:a"})
	assert.True(t, hub.JoinGroup(a.ID, "circle:c1"))
	assert.True(t, a.IsInGroup("circle:c1"))
	assert.Equal(t, 1, hub.Publish("circle:c1", "checkin.created", nil))

	assert.True(t, hub.LeaveGroup(a.ID, "circle:c1"))
	assert.Equal(t, 0, hub.Publish("circle:c1", "checkin.created", nil))
	assert.False(t, hub.JoinGroup("missing", "circle:c1"))

	assert.Equal(t, 1, hub.JoinUserToGroup("a", "circle:c9"))
	assert.Equal(t, 1, hub.GetGroupConnections("circle:c9"))
	assert.Equal(t, 1, hub.RemoveUserFromGroup("a", "circle:c9"))
	assert.Equal(t, 0, hub.GetGroupConnections("circle:c9"))
}

func TestPresenceOnFirstAndLastConnection(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	watcher := register(t, hub, testSession("w", "circle:c1"))
	drain(watcher)

	first := register(t, hub, testSession("u1", "circle:c1"))
	got := drain(watcher)
	require.Len(t, got, 1)
	assert.Equal(t, MessageTypePresence, got[0].Type)
	data := got[0].Data.(map[string]interface{})
	assert.Equal(t, "u1", data["userId"])
	assert.Equal(t, PresenceOnline, data["status"])
	assert.Empty(t, drain(first))
	assert.True(t, first.IsInGroup("circle:c1"))
	assert.Equal(t, 2, hub.GetGroupConnections("circle:c1"))

	second := register(t, hub, testSession("u1", "circle:c1"))
	assert.Empty(t, drain(watcher))

	hub.Unregister(first)
	assert.Empty(t, drain(watcher))

	hub.Unregister(second)
	got = drain(watcher)
	require.Len(t, got, 1)
	assert.Equal(t, PresenceOffline, got[0].Data.(map[string]interface{})["status"])
}

func TestPresenceSuppressedWhenInvisible(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	watcher := register(t, hub, testSession("w", "circle:c1"))
	drain(watcher)

	s := testSession("ghost", "circle:c1")
	s.AnnouncePresence = false
	ghost := register(t, hub, s)
	hub.Unregister(ghost)

	assert.Empty(t, drain(watcher))
}

func TestPublishHookSeesPayload(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var seen string
	hub.SetPublishHook(func(group, msgType string, data json.RawMessage) {
		seen = group + "|" + msgType + "|" + string(data)
	})
	hub.Publish("user:a", "membership.changed", map[string]string{"circleId": "c1"})
	assert.Equal(t, `user:a|membership.changed|{"circleId":"c1"}`, seen)
}

type countingObserver struct {
	conns     int
	delivered int
	dropped   int
}

func (o *countingObserver) SetWSConnections(n int)                  { o.conns = n }
func (o *countingObserver) RecordWSDelivered(msgType string, n int) { o.delivered += n }
func (o *countingObserver) RecordWSDropped()                        { o.dropped++ }

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(&Config{MessageBufferSize: 1})
	defer hub.Close()
	obs := &countingObserver{}
	hub.SetObserver(obs)

	register(t, hub, Session{UserID: "a", Groups: []string{"g"}})
	assert.Equal(t, 1, hub.Publish("g", "t", nil))
	assert.Equal(t, 0, hub.Publish("g", "t", nil))
	assert.Equal(t, 1, obs.conns)
	assert.Equal(t, 1, obs.delivered)
	assert.Equal(t, 1, obs.dropped)
}

func TestHeartbeatTimeoutGoesOffline(t *testing.T) {
	hub := NewHub(&Config{HeartbeatInterval: 10 * time.Millisecond, ConnectionTimeout: 40 * time.Millisecond})
	defer hub.Close()

	watcher := register(t, hub, testSession("w", "circle:c1"))
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tk := time.NewTicker(5 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				watcher.touch()
			}
		}
	}()

	register(t, hub, testSession("u1", "circle:c1"))
	drain(watcher)

	assert.Eventually(t, func() bool {
		for _, m := range drain(watcher) {
			if m.Type == MessageTypePresence && m.Data.(map[string]interface{})["status"] == PresenceOffline {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.False(t, hub.IsOnline("u1"))
	assert.True(t, hub.IsOnline("w"))
}

type fakeAuth struct{}

func (fakeAuth) Authenticate(ctx context.Context, token string) (*Session, error) {
	switch token {
	case "good":
		s := testSession("u1", "circle:c1")
		return &s, nil
	case "inactive":
		return nil, &AuthError{Code: CloseForbidden, Reason: "account deactivated"}
	default:
		return nil, &AuthError{Code: CloseUnauthenticated, Reason: "invalid credential"}
	}
}

func newTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	hub.SetGroupAuthorizer(func(ctx context.Context, userID, group string) bool {
		return group == "circle:c2"
	})
	hub.HandleMessage("echo", func(conn *Connection, msg *Message) error {
		if msg.Data == nil {
			return errors.New("empty echo")
		}
		conn.Reply("echo", msg.Data)
		return nil
	})

	r := gin.New()
	RegisterRoutes(r, NewHandler(hub, fakeAuth{}))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + RouteWebSocket
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	_, url := newTestServer(t)

	cases := map[string]int{
		"":         CloseUnauthenticated,
		"bogus":    CloseUnauthenticated,
		"inactive": CloseForbidden,
	}
	for token, code := range cases {
		ws, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
		require.NoError(t, err)

		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = ws.ReadMessage()
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "token %q: %v", token, err)
		assert.Equal(t, code, ce.Code)
		assert.NotEmpty(t, ce.Text)
		ws.Close()
	}
}

func TestHandshakeAndDelivery(t *testing.T) {
	hub, url := newTestServer(t)

	header := map[string][]string{"Authorization": {"Bearer good"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	hello := readMessage(t, ws)
	assert.Equal(t, MessageTypeConnected, hello.Type)
	assert.Equal(t, 1, hub.GetGroupConnections("circle:c1"))

	hub.Publish("circle:c1", "alert.created", map[string]string{"alertId": "a1"})
	got := readMessage(t, ws)
	assert.Equal(t, "alert.created", got.Type)

	require.NoError(t, ws.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(Message{Type: MessageTypeJoinGroup, Data: "circle:c3"}))
	assert.Equal(t, MessageTypeError, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(Message{Type: MessageTypeJoinGroup, Data: map[string]string{"group": "circle:c2"}}))
	assert.Equal(t, MessageTypeGroupJoined, readMessage(t, ws).Type)
	assert.Equal(t, 1, hub.GetGroupConnections("circle:c2"))

	require.NoError(t, ws.WriteJSON(Message{Type: "echo", Data: "hi"}))
	assert.Equal(t, "echo", readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(Message{Type: "unknown"}))
	assert.Equal(t, MessageTypeError, readMessage(t, ws).Type)

	ws.Close()
	assert.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClusterRelayDeliversForeignEnvelopes(t *testing.T) {
	hub := NewHub(&Config{ClusterNodeID: "node-a"})
	defer hub.Close()
	relay := NewClusterRelay(hub, nil, "safecircle:ws")
	conn := register(t, hub, testSession("u1", "circle:c1"))
	drain(conn)

	// 本节点发出的消息已在本地投递过，回环时忽略
	relay.deliver(`{"node":"node-a","group":"circle:c1","type":"alert.created","data":{"id":"x"}}`)
	assert.Empty(t, drain(conn))

	relay.deliver(`{"node":"node-b","group":"circle:c1","type":"alert.created","data":{"id":"x"}}`)
	got := drain(conn)
	require.Len(t, got, 1)
	assert.Equal(t, "alert.created", got[0].Type)
	assert.Equal(t, "circle:c1", got[0].Group)

	relay.deliver("not json")
	assert.Empty(t, drain(conn))
	assert.NoError(t, relay.Close())
}
