// Package events 生命周期事件与进程内事件总线。
//
// 业务服务只依赖 Publisher，并且只在事务提交之后发布；总线再把事件
// 分发给各个 sink（实时通道、推送监听器等）。
package events

import (
	"strings"
	"time"

	"SafeCircle/internal/models"
)

// 事件类型，同时作为实时通道的消息类型
const (
	AlertCreated      = "alert.created"
	AlertAcknowledged = "alert.acknowledged"
	AlertResolved     = "alert.resolved"
	AlertCancelled    = "alert.cancelled"
	AlertEscalated    = "alert.escalated"

	CheckInCreated      = "checkin.created"
	CheckInCompleted    = "checkin.completed"
	CheckInCancelled    = "checkin.cancelled"
	CheckInOverdue      = "checkin.overdue"
	CheckInAcknowledged = "checkin.acknowledged"

	LocationUpdated   = "location.updated"
	MemberJoined      = "member.joined"
	MemberLeft        = "member.left"
	MembershipChanged = "membership.changed"
)

const (
	circleGroupPrefix = "circle:"
	userGroupPrefix   = "user:"
)

func CircleGroup(circleID string) string { return circleGroupPrefix + circleID }

func UserGroup(userID string) string { return userGroupPrefix + userID }

// ParseCircleGroup 返回组名中的圈子 id
func ParseCircleGroup(group string) (string, bool) {
	if !strings.HasPrefix(group, circleGroupPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(group, circleGroupPrefix)
	return id, id != ""
}

func ParseUserGroup(group string) (string, bool) {
	if !strings.HasPrefix(group, userGroupPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(group, userGroupPrefix)
	return id, id != ""
}

// Event 一次已提交的状态变化
type Event struct {
	Type     string
	Group    string
	CircleID string
	// ActorID 触发者，推送时会跳过
	ActorID string
	Data    interface{}
	At      time.Time
}

// Publisher 业务层唯一依赖的发布接口
type Publisher interface {
	Publish(ev Event)
}

type PublisherFunc func(ev Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Nop 丢弃所有事件
var Nop Publisher = PublisherFunc(func(Event) {})

// ToCircle 发往圈子组的事件
func ToCircle(typ, circleID, actorID string, data interface{}, at time.Time) Event {
	return Event{Type: typ, Group: CircleGroup(circleID), CircleID: circleID, ActorID: actorID, Data: data, At: at}
}

// ToUser 发往用户私有组的事件
func ToUser(typ, userID string, data interface{}, at time.Time) Event {
	return Event{Type: typ, Group: UserGroup(userID), Data: data, At: at}
}

type AlertCreatedPayload struct {
	Alert       *models.Alert         `json:"alert"`
	TriggeredBy models.PublicIdentity `json:"triggeredBy"`
}

type AlertAcknowledgedPayload struct {
	AlertID        string                `json:"alertId"`
	Status         string                `json:"status"`
	Acknowledgment models.AlertAck       `json:"acknowledgment"`
	User           models.PublicIdentity `json:"user"`
}

type AlertResolvedPayload struct {
	AlertID    string                  `json:"alertId"`
	Status     string                  `json:"status"`
	Resolution *models.AlertResolution `json:"resolution"`
	User       models.PublicIdentity   `json:"user"`
}

type AlertCancelledPayload struct {
	AlertID string                `json:"alertId"`
	Reason  string                `json:"reason,omitempty"`
	User    models.PublicIdentity `json:"user"`
}

type AlertEscalatedPayload struct {
	AlertID  string `json:"alertId"`
	Priority int    `json:"priority"`
	// 推送监听器需要标题与圈子
	Title string `json:"title"`
}

type CheckInCreatedPayload struct {
	CheckIn *models.CheckIn       `json:"checkIn"`
	Owner   models.PublicIdentity `json:"owner"`
}

type CheckInCompletedPayload struct {
	CheckInID  string                    `json:"checkInId"`
	OwnerID    string                    `json:"ownerId"`
	Completion *models.CheckInCompletion `json:"completion"`
}

type CheckInCancelledPayload struct {
	CheckInID string `json:"checkInId"`
	OwnerID   string `json:"ownerId"`
}

type CheckInOverduePayload struct {
	CheckInID string          `json:"checkInId"`
	CheckIn   *models.CheckIn `json:"checkIn"`
}

type CheckInAcknowledgedPayload struct {
	CheckInID      string                `json:"checkInId"`
	Acknowledgment models.CheckInAck     `json:"acknowledgment"`
	User           models.PublicIdentity `json:"user"`
}

type LocationUpdatedPayload struct {
	UserID      string             `json:"userId"`
	Coordinates models.Coordinates `json:"coordinates"`
	Address     string             `json:"address,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type MemberPayload struct {
	CircleID string                `json:"circleId"`
	User     models.PublicIdentity `json:"user"`
	Role     string                `json:"role,omitempty"`
}

// 成员关系变化方向
const (
	MembershipJoined = "joined"
	MembershipLeft   = "left"
)

// MembershipChangedPayload 发往受影响用户的私有组，实时通道据此调整组成员
type MembershipChangedPayload struct {
	CircleID string `json:"circleId"`
	Group    string `json:"group"`
	Action   string `json:"action"`
}
