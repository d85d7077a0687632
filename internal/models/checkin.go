package models

import (
	"time"

	apperr "SafeCircle/pkg/errors"

	"gorm.io/gorm"
)

const (
	CheckInActive    = "active"
	CheckInCompleted = "completed"
	CheckInOverdue   = "overdue"
	CheckInCancelled = "cancelled"
)

const (
	CompletionOnTime        = "on-time"
	CompletionEarly         = "early"
	CompletionLate          = "late"
	CompletionAutoCompleted = "auto-completed"
)

// LocationHistoryLimit 轨迹只保留最新的 50 个点
const LocationHistoryLimit = 50

// checkInTransitions 允许的状态迁移
var checkInTransitions = map[string][]string{
	CheckInActive:  {CheckInCompleted, CheckInOverdue, CheckInCancelled},
	CheckInOverdue: {CheckInCompleted, CheckInCancelled},
}

func CanTransitionCheckIn(from, to string) bool {
	return containsString(checkInTransitions[from], to)
}

func ValidCheckInStatus(s string) bool {
	switch s {
	case CheckInActive, CheckInCompleted, CheckInOverdue, CheckInCancelled:
		return true
	}
	return false
}

type CheckInCompletion struct {
	CompletedAt time.Time `json:"completedAt"`
	Notes       string    `json:"notes,omitempty"`
	Status      string    `json:"status"`
}

type CheckInAck struct {
	UserID         string    `json:"userId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
	Message        string    `json:"message,omitempty"`
}

type CheckInNotifications struct {
	OverdueNotified bool `json:"overdueNotified"`
	ReminderSent    bool `json:"reminderSent"`
}

type CheckIn struct {
	Base
	UserID             string               `json:"userId" gorm:"size:36;index"`
	CircleID           string               `json:"circleId" gorm:"size:36;index"`
	Location           Location             `json:"location" gorm:"serializer:json"`
	ExpectedReturnTime time.Time            `json:"expectedReturnTime" gorm:"index"`
	Notes              string               `json:"notes,omitempty" gorm:"size:500"`
	Status             string               `json:"status" gorm:"size:16;index"`
	Completion         *CheckInCompletion   `json:"completion,omitempty" gorm:"serializer:json"`
	Acknowledgments    []CheckInAck         `json:"acknowledgments" gorm:"serializer:json"`
	LocationHistory    []LocationSample     `json:"locationHistory" gorm:"serializer:json"`
	Notifications      CheckInNotifications `json:"notifications" gorm:"embedded;embeddedPrefix:notify_"`
	IsDeleted          bool                 `json:"-" gorm:"index"`
}

// NewCheckIn 截止时间必须晚于当前时间
func NewCheckIn(userID, circleID string, loc Location, expected time.Time, notes string, now time.Time) (*CheckIn, error) {
	if !loc.Coordinates.Valid() {
		return nil, apperr.Validation("invalid coordinates")
	}
	if !expected.After(now) {
		return nil, apperr.Validation("expectedReturnTime must be in the future")
	}
	ci := &CheckIn{
		UserID:             userID,
		CircleID:           circleID,
		Location:           loc,
		ExpectedReturnTime: expected.UTC(),
		Notes:              notes,
		Status:             CheckInActive,
		Acknowledgments:    []CheckInAck{},
		LocationHistory: []LocationSample{
			{Coordinates: loc.Coordinates, Address: loc.Address, Timestamp: now},
		},
	}
	ci.CreatedAt = now
	ci.UpdatedAt = now
	return ci, nil
}

// DeriveCheckInStatus 活跃且超过截止时间即为逾期，其余状态原样返回
func DeriveCheckInStatus(stored string, expected, now time.Time) string {
	if stored == CheckInActive && now.After(expected) {
		return CheckInOverdue
	}
	return stored
}

// Derive 把推导出的状态写回实体，返回是否发生变化
func (ci *CheckIn) Derive(now time.Time) bool {
	next := DeriveCheckInStatus(ci.Status, ci.ExpectedReturnTime, now)
	if next == ci.Status {
		return false
	}
	ci.Status = next
	return true
}

func (ci *CheckIn) IsTerminal() bool {
	return ci.Status == CheckInCompleted || ci.Status == CheckInCancelled
}

func (ci *CheckIn) transition(to, action string) error {
	if !CanTransitionCheckIn(ci.Status, to) {
		return apperr.InvalidTransition(ci.Status, action)
	}
	ci.Status = to
	return nil
}

// Complete 按完成时间与截止时间比较得出 early/late/on-time
func (ci *CheckIn) Complete(notes string, now time.Time) error {
	ci.Derive(now)
	if err := ci.transition(CheckInCompleted, "complete"); err != nil {
		return err
	}
	status := CompletionOnTime
	switch {
	case now.Before(ci.ExpectedReturnTime):
		status = CompletionEarly
	case now.After(ci.ExpectedReturnTime):
		status = CompletionLate
	}
	ci.Completion = &CheckInCompletion{CompletedAt: now, Notes: notes, Status: status}
	return nil
}

func (ci *CheckIn) Cancel(now time.Time) error {
	ci.Derive(now)
	return ci.transition(CheckInCancelled, "cancel")
}

// UpdateLocation 仅活跃状态可更新，逾期后不再接受
func (ci *CheckIn) UpdateLocation(coords Coordinates, address string, now time.Time) error {
	if !coords.Valid() {
		return apperr.Validation("invalid coordinates")
	}
	ci.Derive(now)
	if ci.Status != CheckInActive {
		return apperr.InvalidTransition(ci.Status, "update location")
	}
	ci.Location = Location{Coordinates: coords, Address: address}
	ci.LocationHistory = append(ci.LocationHistory, LocationSample{Coordinates: coords, Address: address, Timestamp: now})
	if over := len(ci.LocationHistory) - LocationHistoryLimit; over > 0 {
		ci.LocationHistory = append([]LocationSample(nil), ci.LocationHistory[over:]...)
	}
	return nil
}

// Acknowledge 每个成员一条，重复确认覆盖旧记录
func (ci *CheckIn) Acknowledge(userID, message string, now time.Time) CheckInAck {
	ci.Derive(now)
	ack := CheckInAck{UserID: userID, AcknowledgedAt: now, Message: message}
	for i := range ci.Acknowledgments {
		if ci.Acknowledgments[i].UserID == userID {
			ci.Acknowledgments[i] = ack
			return ack
		}
	}
	ci.Acknowledgments = append(ci.Acknowledgments, ack)
	return ack
}

func GetCheckInByID(db *gorm.DB, id string) (*CheckIn, error) {
	var ci CheckIn
	if err := db.Where("id = ? AND is_deleted = ?", id, false).First(&ci).Error; err != nil {
		return nil, err
	}
	return &ci, nil
}

// CheckInQuery 列表过滤条件，status 按推导后的状态匹配
type CheckInQuery struct {
	UserID    string
	CircleIDs []string
	Status    string
}

// ListCheckIns 查询后统一推导状态再过滤
func ListCheckIns(db *gorm.DB, q CheckInQuery, now time.Time) ([]CheckIn, error) {
	tx := db.Where("is_deleted = ?", false)
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.CircleIDs != nil {
		if len(q.CircleIDs) == 0 {
			return []CheckIn{}, nil
		}
		tx = tx.Where("circle_id IN ?", q.CircleIDs)
	}
	switch q.Status {
	case "":
	case CheckInActive, CheckInOverdue:
		// 逾期可能尚未落库，两种存储状态都要取出
		tx = tx.Where("status IN ?", []string{CheckInActive, CheckInOverdue})
	default:
		tx = tx.Where("status = ?", q.Status)
	}

	var rows []CheckIn
	if err := tx.Order("expected_return_time asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, ci := range rows {
		ci.Derive(now)
		if q.Status == "" || ci.Status == q.Status {
			out = append(out, ci)
		}
	}
	return out, nil
}

// FindOverdueCheckIns 存储状态为 active 但已过截止时间的记录
func FindOverdueCheckIns(db *gorm.DB, now time.Time) ([]CheckIn, error) {
	var rows []CheckIn
	if err := db.Where("status = ? AND is_deleted = ?", CheckInActive, false).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, ci := range rows {
		if now.After(ci.ExpectedReturnTime) {
			out = append(out, ci)
		}
	}
	return out, nil
}
