package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/websocket"

	"go.uber.org/zap"
)

// 客户端上行的位置上报
const (
	MessageTypeLocationUpdate = "location.update"
	MessageTypeLocationAck    = "location.ack"
)

// wsAuthenticator 用访问令牌完成握手，并按当前成员关系确定初始组
type wsAuthenticator struct {
	svc *services.Services
}

func (a wsAuthenticator) Authenticate(ctx context.Context, token string) (*websocket.Session, error) {
	u, err := a.svc.Auth.Authenticate(ctx, token)
	if err != nil {
		code := websocket.CloseUnauthenticated
		if apperr.IsCode(err, apperr.CodeAuthorization) {
			code = websocket.CloseForbidden
		}
		return nil, &websocket.AuthError{Code: code, Reason: err.Error()}
	}

	circleIDs, err := a.svc.Users.CircleIDs(ctx, u.ID)
	if err != nil {
		logger.Error("websocket handshake: load circles failed", zap.String("user", u.ID), zap.Error(err))
		return nil, &websocket.AuthError{Code: websocket.CloseUnauthenticated, Reason: "could not load memberships"}
	}
	groups := make([]string, 0, len(circleIDs))
	for _, id := range circleIDs {
		groups = append(groups, events.CircleGroup(id))
	}
	return &websocket.Session{
		UserID:           u.ID,
		PrivateGroup:     events.UserGroup(u.ID),
		Groups:           groups,
		AnnouncePresence: u.Privacy.VisibleToCircleMembers,
	}, nil
}

// authorizeGroup 只允许加入自己所在的圈子组或自己的私有组
func (a *App) authorizeGroup(ctx context.Context, userID, group string) bool {
	if circleID, ok := events.ParseCircleGroup(group); ok {
		return a.Services.Circles.IsMember(ctx, circleID, userID)
	}
	if id, ok := events.ParseUserGroup(group); ok {
		return id == userID
	}
	return false
}

// groupMembership 按用户调整本节点连接所在的组，WebSocket 与 SSE 两个 Hub 都实现
type groupMembership interface {
	JoinUserToGroup(userID, group string) int
	RemoveUserFromGroup(userID, group string) int
}

// syncMembership 在 membership.changed 投递前调整该用户的组
func syncMembership(m groupMembership) func(group, msgType string, data json.RawMessage) {
	return func(group, msgType string, data json.RawMessage) {
		if msgType != events.MembershipChanged {
			return
		}
		userID, ok := events.ParseUserGroup(group)
		if !ok {
			return
		}
		var p events.MembershipChangedPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Group == "" {
			return
		}
		switch p.Action {
		case events.MembershipJoined:
			m.JoinUserToGroup(userID, p.Group)
		case events.MembershipLeft:
			m.RemoveUserFromGroup(userID, p.Group)
		}
	}
}

type locationUpdate struct {
	Coordinates *models.Coordinates `json:"coordinates"`
	Address     string              `json:"address"`
}

func (a *App) handleLocationUpdate(conn *websocket.Connection, msg *websocket.Message) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return errors.New(websocket.ErrInvalidMessageData)
	}
	var in locationUpdate
	if err := json.Unmarshal(raw, &in); err != nil || in.Coordinates == nil {
		return errors.New(websocket.ErrInvalidMessageData)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := a.Services.Users.UpdateLocation(ctx, conn.UserID, *in.Coordinates, in.Address)
	if err != nil {
		if _, ok := apperr.As(err); ok && apperr.StatusOf(err) < 500 {
			return err
		}
		logger.Error("websocket location update failed", zap.String("user", conn.UserID), zap.Error(err))
		return errors.New("location update failed")
	}
	conn.Reply(MessageTypeLocationAck, u.LastLocation)
	return nil
}
