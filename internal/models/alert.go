package models

import (
	"time"
	"unicode/utf8"

	apperr "SafeCircle/pkg/errors"

	"gorm.io/gorm"
)

const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
	AlertFalseAlarm   = "false-alarm"
	AlertCancelled    = "cancelled"
)

const (
	AlertTypePanic           = "panic"
	AlertTypeCheckInOverdue  = "check-in-overdue"
	AlertTypeSOS             = "sos"
	AlertTypeLocationSharing = "location-sharing"
	AlertTypeManual          = "manual"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	ResponseOnMyWay              = "on-my-way"
	ResponseContactedAuthorities = "contacted-authorities"
	ResponseMonitoring           = "monitoring"
	ResponseOther                = "other"
)

const (
	ResolutionSafe        = "safe"
	ResolutionHelpArrived = "help-arrived"
	ResolutionFalseAlarm  = "false-alarm"
	ResolutionOther       = "other"
)

// 活动日志动作
const (
	ActivityCreated      = "created"
	ActivityAcknowledged = "acknowledged"
	ActivityResolved     = "resolved"
	ActivityCancelled    = "cancelled"
	ActivityFalseAlarm   = "marked-false-alarm"
	ActivityEscalated    = "escalated"
)

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

const (
	DefaultEscalateAfterMinutes = 5
	MaxPriority                 = 5
)

var (
	alertTypes       = []string{AlertTypePanic, AlertTypeCheckInOverdue, AlertTypeSOS, AlertTypeLocationSharing, AlertTypeManual}
	severities       = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	ackResponses     = []string{ResponseOnMyWay, ResponseContactedAuthorities, ResponseMonitoring, ResponseOther}
	resolutionStates = []string{ResolutionSafe, ResolutionHelpArrived, ResolutionFalseAlarm, ResolutionOther}
	alertStatuses    = []string{AlertActive, AlertAcknowledged, AlertResolved, AlertFalseAlarm, AlertCancelled}
)

func ValidAlertType(s string) bool        { return containsString(alertTypes, s) }
func ValidSeverity(s string) bool         { return containsString(severities, s) }
func ValidAckResponse(s string) bool      { return containsString(ackResponses, s) }
func ValidResolutionStatus(s string) bool { return containsString(resolutionStates, s) }
func ValidAlertStatus(s string) bool      { return containsString(alertStatuses, s) }

func AlertTypes() []string { return append([]string(nil), alertTypes...) }
func Severities() []string { return append([]string(nil), severities...) }

// DefaultPriority panic 与 sos 恒为最高，其余按严重程度
func DefaultPriority(alertType, severity string) int {
	if alertType == AlertTypePanic || alertType == AlertTypeSOS {
		return MaxPriority
	}
	switch severity {
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	}
	return MaxPriority
}

func DefaultSeverity(alertType string) string {
	if alertType == AlertTypePanic || alertType == AlertTypeSOS {
		return SeverityCritical
	}
	return SeverityMedium
}

type AlertAck struct {
	UserID         string    `json:"userId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
	Response       string    `json:"response"`
	Notes          string    `json:"notes,omitempty"`
}

type AlertResolution struct {
	ResolvedAt time.Time `json:"resolvedAt"`
	ResolvedBy string    `json:"resolvedBy"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
}

type AutoEscalate struct {
	Enabled              bool       `json:"enabled"`
	EscalateAfterMinutes int        `json:"escalateAfterMinutes"`
	Escalated            bool       `json:"escalated"`
	EscalatedAt          *time.Time `json:"escalatedAt,omitempty"`
}

type Activity struct {
	Action      string                 `json:"action"`
	PerformedBy string                 `json:"performedBy,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NotificationRecord 推送投递记录，只追加
type NotificationRecord struct {
	UserID  string    `json:"userId"`
	Channel string    `json:"channel"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type Alert struct {
	Base
	TriggeredBy     string               `json:"triggeredBy" gorm:"size:36;index"`
	CircleID        string               `json:"circleId" gorm:"size:36;index"`
	Type            string               `json:"type" gorm:"size:32;index"`
	Severity        string               `json:"severity" gorm:"size:16"`
	Title           string               `json:"title" gorm:"size:100"`
	Message         string               `json:"message,omitempty" gorm:"size:500"`
	Location        Location             `json:"location" gorm:"serializer:json"`
	Status          string               `json:"status" gorm:"size:16;index"`
	Acknowledgments []AlertAck           `json:"acknowledgedBy" gorm:"serializer:json"`
	Resolution      *AlertResolution     `json:"resolution,omitempty" gorm:"serializer:json"`
	RelatedCheckIn  string               `json:"relatedCheckIn,omitempty" gorm:"size:36"`
	Priority        int                  `json:"priority"`
	AutoEscalate    AutoEscalate         `json:"autoEscalate" gorm:"embedded;embeddedPrefix:auto_escalate_"`
	ActivityLog     []Activity           `json:"activityLog" gorm:"serializer:json"`
	Notifications   []NotificationRecord `json:"notifications" gorm:"serializer:json"`
}

// NewAlertInput 创建参数，空值取默认
type NewAlertInput struct {
	TriggeredBy    string
	CircleID       string
	Type           string
	Severity       string
	Title          string
	Message        string
	Location       Location
	RelatedCheckIn string
}

func NewAlert(in NewAlertInput, now time.Time) (*Alert, error) {
	if in.Type == "" {
		in.Type = AlertTypePanic
	}
	if !ValidAlertType(in.Type) {
		return nil, apperr.Validation("invalid alert type %q", in.Type).WithDetail("allowed", AlertTypes())
	}
	if in.Severity == "" {
		in.Severity = DefaultSeverity(in.Type)
	}
	if !ValidSeverity(in.Severity) {
		return nil, apperr.Validation("invalid severity %q", in.Severity).WithDetail("allowed", Severities())
	}
	if n := utf8.RuneCountInString(in.Title); n < 1 || n > 100 {
		return nil, apperr.Validation("title must be between 1 and 100 characters")
	}
	if utf8.RuneCountInString(in.Message) > 500 {
		return nil, apperr.Validation("message must be at most 500 characters")
	}
	if !in.Location.Coordinates.Valid() {
		return nil, apperr.Validation("invalid coordinates")
	}

	a := &Alert{
		TriggeredBy:     in.TriggeredBy,
		CircleID:        in.CircleID,
		Type:            in.Type,
		Severity:        in.Severity,
		Title:           in.Title,
		Message:         in.Message,
		Location:        in.Location,
		Status:          AlertActive,
		Acknowledgments: []AlertAck{},
		RelatedCheckIn:  in.RelatedCheckIn,
		Priority:        DefaultPriority(in.Type, in.Severity),
		AutoEscalate: AutoEscalate{
			Enabled:              true,
			EscalateAfterMinutes: DefaultEscalateAfterMinutes,
		},
		ActivityLog: []Activity{{
			Action:      ActivityCreated,
			PerformedBy: in.TriggeredBy,
			Timestamp:   now,
			Details:     map[string]interface{}{"type": in.Type, "severity": in.Severity},
		}},
		Notifications: []NotificationRecord{},
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return a, nil
}

// IsTerminal resolved、cancelled、false-alarm 之后不再迁移
func (a *Alert) IsTerminal() bool {
	return a.Status == AlertResolved || a.Status == AlertCancelled || a.Status == AlertFalseAlarm
}

func (a *Alert) log(action, actor string, now time.Time, details map[string]interface{}) {
	a.ActivityLog = append(a.ActivityLog, Activity{Action: action, PerformedBy: actor, Timestamp: now, Details: details})
}

// Acknowledge 同一成员只保留最新一条；只有 active 会被推进为 acknowledged
func (a *Alert) Acknowledge(userID, response, notes string, now time.Time) (AlertAck, error) {
	if response == "" {
		response = ResponseOther
	}
	if !ValidAckResponse(response) {
		return AlertAck{}, apperr.Validation("invalid response %q", response)
	}
	ack := AlertAck{UserID: userID, AcknowledgedAt: now, Response: response, Notes: notes}
	replaced := false
	for i := range a.Acknowledgments {
		if a.Acknowledgments[i].UserID == userID {
			a.Acknowledgments[i] = ack
			replaced = true
			break
		}
	}
	if !replaced {
		a.Acknowledgments = append(a.Acknowledgments, ack)
	}
	if a.Status == AlertActive {
		a.Status = AlertAcknowledged
	}
	a.log(ActivityAcknowledged, userID, now, map[string]interface{}{"response": response})
	return ack, nil
}

func (a *Alert) terminate(status, action, actor, resolution, notes string, now time.Time) error {
	if a.IsTerminal() {
		return apperr.InvalidTransition(a.Status, action)
	}
	a.Status = status
	if resolution != "" {
		a.Resolution = &AlertResolution{ResolvedAt: now, ResolvedBy: actor, Status: resolution, Notes: notes}
	}
	return nil
}

func (a *Alert) Resolve(actor, resolution, notes string, now time.Time) error {
	if resolution == "" {
		resolution = ResolutionSafe
	}
	if !ValidResolutionStatus(resolution) {
		return apperr.Validation("invalid resolution status %q", resolution)
	}
	if err := a.terminate(AlertResolved, "resolve", actor, resolution, notes, now); err != nil {
		return err
	}
	a.log(ActivityResolved, actor, now, map[string]interface{}{"resolutionStatus": resolution})
	return nil
}

func (a *Alert) Cancel(actor, reason string, now time.Time) error {
	if err := a.terminate(AlertCancelled, "cancel", actor, "", "", now); err != nil {
		return err
	}
	a.log(ActivityCancelled, actor, now, map[string]interface{}{"reason": reason})
	return nil
}

// MarkFalseAlarm 与 resolve 共用终态检查
func (a *Alert) MarkFalseAlarm(actor, reason string, now time.Time) error {
	if err := a.terminate(AlertFalseAlarm, "mark false alarm", actor, ResolutionFalseAlarm, reason, now); err != nil {
		return err
	}
	a.log(ActivityFalseAlarm, actor, now, map[string]interface{}{"reason": reason})
	return nil
}

// DueForEscalation 扫描条件：active、开启自动升级、未升级且创建时间严格早于 now 减等待时间
func (a *Alert) DueForEscalation(now time.Time) bool {
	if a.Status != AlertActive || !a.AutoEscalate.Enabled || a.AutoEscalate.Escalated {
		return false
	}
	threshold := now.Add(-time.Duration(a.AutoEscalate.EscalateAfterMinutes) * time.Minute)
	return a.CreatedAt.Before(threshold)
}

// Escalate 已升级或已终结时不做任何事，返回是否实际升级
func (a *Alert) Escalate(now time.Time) bool {
	if a.AutoEscalate.Escalated || a.IsTerminal() {
		return false
	}
	a.AutoEscalate.Escalated = true
	a.AutoEscalate.EscalatedAt = &now
	prev := a.Priority
	a.Priority = MaxPriority
	a.log(ActivityEscalated, "", now, map[string]interface{}{"previousPriority": prev, "priority": MaxPriority})
	return true
}

func (a *Alert) RecordNotification(userID, channel string, now time.Time) {
	a.Notifications = append(a.Notifications, NotificationRecord{UserID: userID, Channel: channel, Status: NotificationSent, At: now})
}

func (a *Alert) RecordFailedNotification(userID, channel, reason string, now time.Time) {
	a.Notifications = append(a.Notifications, NotificationRecord{UserID: userID, Channel: channel, Status: NotificationFailed, Error: reason, At: now})
}

func (a *Alert) AcknowledgmentBy(userID string) (AlertAck, bool) {
	for _, ack := range a.Acknowledgments {
		if ack.UserID == userID {
			return ack, true
		}
	}
	return AlertAck{}, false
}

func GetAlertByID(db *gorm.DB, id string) (*Alert, error) {
	var a Alert
	if err := db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

type AlertQuery struct {
	TriggeredBy string
	CircleIDs   []string
	Statuses    []string
}

func ListAlerts(db *gorm.DB, q AlertQuery) ([]Alert, error) {
	tx := db.Model(&Alert{})
	if q.TriggeredBy != "" {
		tx = tx.Where("triggered_by = ?", q.TriggeredBy)
	}
	if q.CircleIDs != nil {
		if len(q.CircleIDs) == 0 {
			return []Alert{}, nil
		}
		tx = tx.Where("circle_id IN ?", q.CircleIDs)
	}
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	var rows []Alert
	err := tx.Order("priority desc, created_at desc").Find(&rows).Error
	return rows, err
}

// FindAlertsNeedingEscalation 先按状态取候选，时间条件在内存里判断
func FindAlertsNeedingEscalation(db *gorm.DB, now time.Time) ([]Alert, error) {
	var rows []Alert
	err := db.Where("status = ? AND auto_escalate_enabled = ? AND auto_escalate_escalated = ?", AlertActive, true, false).
		Order("created_at asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, a := range rows {
		if a.DueForEscalation(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// AlertStats 圈子的告警统计
type AlertStats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	ByType          map[string]int `json:"byType"`
	BySeverity      map[string]int `json:"bySeverity"`
	Acknowledgments int            `json:"acknowledgments"`
	Escalated       int            `json:"escalated"`
}

func ComputeAlertStats(alerts []Alert) AlertStats {
	s := AlertStats{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
	}
	for _, a := range alerts {
		s.Total++
		s.ByStatus[a.Status]++
		s.ByType[a.Type]++
		s.BySeverity[a.Severity]++
		s.Acknowledgments += len(a.Acknowledgments)
		if a.AutoEscalate.Escalated {
			s.Escalated++
		}
	}
	return s
}
