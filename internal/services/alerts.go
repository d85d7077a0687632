package services

import (
	"context"
	"strings"
	"time"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AlertService 告警生命周期
type AlertService struct {
	*base
}

type CreateAlertInput struct {
	CircleID       string
	Type           string
	Severity       string
	Title          string
	Message        string
	Location       models.Location
	RelatedCheckIn string
}

func (s *AlertService) Create(ctx context.Context, userID string, in CreateAlertInput) (*models.Alert, error) {
	var out *models.Alert
	err := s.transact(ctx, "alert", func(tx *gorm.DB) error {
		now := s.now()
		c, err := loadCircleForMember(tx, in.CircleID, userID)
		if err != nil {
			return err
		}
		if in.RelatedCheckIn != "" {
			ci, err := models.GetCheckInByID(tx, in.RelatedCheckIn)
			if err != nil {
				return dbError(err, "related check-in")
			}
			if ci.UserID != userID {
				return apperr.Authorization("related check-in does not belong to you")
			}
		}
		a, err := models.NewAlert(models.NewAlertInput{
			TriggeredBy:    userID,
			CircleID:       c.ID,
			Type:           in.Type,
			Severity:       in.Severity,
			Title:          strings.TrimSpace(in.Title),
			Message:        strings.TrimSpace(in.Message),
			Location:       in.Location,
			RelatedCheckIn: in.RelatedCheckIn,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.Create(a).Error; err != nil {
			return apperr.Server(err)
		}
		if err := s.recordActivity(tx, c, "alert"); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAlertCreated(out.Type, out.Severity)
	logger.Warn("alert triggered",
		zap.String("alert", out.ID),
		zap.String("circle", out.CircleID),
		zap.String("type", out.Type),
		zap.String("severity", out.Severity),
	)
	snapshot := *out
	s.publish(events.ToCircle(events.AlertCreated, out.CircleID, userID, events.AlertCreatedPayload{
		Alert:       &snapshot,
		TriggeredBy: s.identities.Get(ctx, userID),
	}, s.now()))
	return out, nil
}

// mutate 在事务内加载告警与圈子，authorize 基于当前成员关系
func (s *AlertService) mutate(
	ctx context.Context,
	actorID, id string,
	authorize func(a *models.Alert, c *models.Circle, actorID string) error,
	fn func(a *models.Alert, now time.Time) error,
) (*models.Alert, error) {
	var out *models.Alert
	err := s.transact(ctx, "alert", func(tx *gorm.DB) error {
		now := s.now()
		a, err := models.GetAlertByID(tx, id)
		if err != nil {
			return dbError(err, "alert")
		}
		c, err := loadCircle(tx, a.CircleID)
		if err != nil {
			return err
		}
		if err := authorize(a, c, actorID); err != nil {
			return err
		}
		if err := fn(a, now); err != nil {
			return err
		}
		if err := save(tx, a, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func canAcknowledge(_ *models.Alert, c *models.Circle, actorID string) error {
	if !c.IsMember(actorID) {
		return apperr.Authorization("you are not a member of this circle")
	}
	return nil
}

// canResolve 创建者（仍是成员）或圈子管理员
func canResolve(a *models.Alert, c *models.Circle, actorID string) error {
	if c.IsAdmin(actorID) || (a.TriggeredBy == actorID && c.IsMember(actorID)) {
		return nil
	}
	return apperr.Authorization("only the creator or a circle admin can resolve this alert")
}

func creatorOnly(a *models.Alert, c *models.Circle, actorID string) error {
	if a.TriggeredBy == actorID && c.IsMember(actorID) {
		return nil
	}
	return apperr.Authorization("only the creator can perform this action")
}

func (s *AlertService) Acknowledge(ctx context.Context, userID, id, response, notes string) (*models.Alert, error) {
	var ack models.AlertAck
	a, err := s.mutate(ctx, userID, id, canAcknowledge, func(a *models.Alert, now time.Time) error {
		var err error
		ack, err = a.Acknowledge(userID, response, strings.TrimSpace(notes), now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition("alert", a.Status)
	s.publish(events.ToCircle(events.AlertAcknowledged, a.CircleID, userID, events.AlertAcknowledgedPayload{
		AlertID:        a.ID,
		Status:         a.Status,
		Acknowledgment: ack,
		User:           s.identities.Get(ctx, userID),
	}, s.now()))
	return a, nil
}

func (s *AlertService) Resolve(ctx context.Context, userID, id, resolution, notes string) (*models.Alert, error) {
	a, err := s.mutate(ctx, userID, id, canResolve, func(a *models.Alert, now time.Time) error {
		return a.Resolve(userID, resolution, strings.TrimSpace(notes), now)
	})
	if err != nil {
		return nil, err
	}
	s.terminated(ctx, a, userID)
	return a, nil
}

// MarkFalseAlarm 以 false-alarm 结案，事件与 resolve 相同
func (s *AlertService) MarkFalseAlarm(ctx context.Context, userID, id, reason string) (*models.Alert, error) {
	a, err := s.mutate(ctx, userID, id, creatorOnly, func(a *models.Alert, now time.Time) error {
		return a.MarkFalseAlarm(userID, strings.TrimSpace(reason), now)
	})
	if err != nil {
		return nil, err
	}
	s.terminated(ctx, a, userID)
	return a, nil
}

func (s *AlertService) terminated(ctx context.Context, a *models.Alert, userID string) {
	s.metrics.RecordTransition("alert", a.Status)
	logger.Info("alert closed", zap.String("alert", a.ID), zap.String("status", a.Status), zap.String("by", userID))
	s.publish(events.ToCircle(events.AlertResolved, a.CircleID, userID, events.AlertResolvedPayload{
		AlertID:    a.ID,
		Status:     a.Status,
		Resolution: a.Resolution,
		User:       s.identities.Get(ctx, userID),
	}, s.now()))
}

func (s *AlertService) Cancel(ctx context.Context, userID, id, reason string) (*models.Alert, error) {
	reason = strings.TrimSpace(reason)
	a, err := s.mutate(ctx, userID, id, creatorOnly, func(a *models.Alert, now time.Time) error {
		return a.Cancel(userID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition("alert", a.Status)
	logger.Info("alert cancelled", zap.String("alert", a.ID), zap.String("by", userID))
	s.publish(events.ToCircle(events.AlertCancelled, a.CircleID, userID, events.AlertCancelledPayload{
		AlertID: a.ID,
		Reason:  reason,
		User:    s.identities.Get(ctx, userID),
	}, s.now()))
	return a, nil
}

// escalateOne 写入前重新读取并确认仍满足升级条件
func (s *AlertService) escalateOne(ctx context.Context, id string) (*models.Alert, bool, error) {
	var (
		out       *models.Alert
		escalated bool
	)
	err := s.transact(ctx, "alert", func(tx *gorm.DB) error {
		now := s.now()
		escalated = false
		a, err := models.GetAlertByID(tx, id)
		if err != nil {
			return dbError(err, "alert")
		}
		if !a.DueForEscalation(now) {
			return nil
		}
		if !a.Escalate(now) {
			return nil
		}
		if err := save(tx, a, now); err != nil {
			return err
		}
		out, escalated = a, true
		return nil
	})
	return out, escalated, err
}

// SweepEscalations 扫描长时间无人确认的 active 告警并升级
func (s *AlertService) SweepEscalations(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.RecordSweep("escalation", time.Since(start)) }()

	candidates, err := models.FindAlertsNeedingEscalation(s.conn(ctx), s.now())
	if err != nil {
		return 0, apperr.Server(err)
	}
	n := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		a, ok, err := s.escalateOne(ctx, c.ID)
		if err != nil {
			logger.Error("escalate alert failed", zap.String("alert", c.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		n++
		s.metrics.RecordEscalation()
		logger.Warn("alert escalated", zap.String("alert", a.ID), zap.String("circle", a.CircleID))
		s.publish(events.ToCircle(events.AlertEscalated, a.CircleID, a.TriggeredBy, events.AlertEscalatedPayload{
			AlertID:  a.ID,
			Priority: a.Priority,
			Title:    a.Title,
		}, s.now()))
	}
	return n, nil
}

// RecordNotification 投递记录只追加，不影响状态
func (s *AlertService) RecordNotification(ctx context.Context, id, userID, channel string) error {
	return s.record(ctx, id, func(a *models.Alert, now time.Time) {
		a.RecordNotification(userID, channel, now)
	})
}

func (s *AlertService) RecordFailedNotification(ctx context.Context, id, userID, channel, reason string) error {
	return s.record(ctx, id, func(a *models.Alert, now time.Time) {
		a.RecordFailedNotification(userID, channel, reason, now)
	})
}

func (s *AlertService) record(ctx context.Context, id string, fn func(a *models.Alert, now time.Time)) error {
	return s.transact(ctx, "alert", func(tx *gorm.DB) error {
		now := s.now()
		a, err := models.GetAlertByID(tx, id)
		if err != nil {
			return dbError(err, "alert")
		}
		fn(a, now)
		return save(tx, a, now)
	})
}

// Get 圈子当前成员或创建者可见
func (s *AlertService) Get(ctx context.Context, userID, id string) (*models.Alert, error) {
	a, err := models.GetAlertByID(s.conn(ctx), id)
	if err != nil {
		return nil, dbError(err, "alert")
	}
	if a.TriggeredBy == userID {
		return a, nil
	}
	if _, err := loadCircleForMember(s.conn(ctx), a.CircleID, userID); err != nil {
		return nil, err
	}
	return a, nil
}

func statuses(status string) ([]string, error) {
	if status == "" {
		return nil, nil
	}
	if !models.ValidAlertStatus(status) {
		return nil, apperr.Validation("invalid status %q", status)
	}
	return []string{status}, nil
}

func (s *AlertService) ListMine(ctx context.Context, userID, status string) ([]models.Alert, error) {
	st, err := statuses(status)
	if err != nil {
		return nil, err
	}
	rows, err := models.ListAlerts(s.conn(ctx), models.AlertQuery{TriggeredBy: userID, Statuses: st})
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

func (s *AlertService) ListForCircle(ctx context.Context, userID, circleID, status string) ([]models.Alert, error) {
	st, err := statuses(status)
	if err != nil {
		return nil, err
	}
	return s.listForCircle(ctx, userID, circleID, st)
}

// ListActiveForCircle 未结案的告警（active 与 acknowledged）
func (s *AlertService) ListActiveForCircle(ctx context.Context, userID, circleID string) ([]models.Alert, error) {
	return s.listForCircle(ctx, userID, circleID, []string{models.AlertActive, models.AlertAcknowledged})
}

func (s *AlertService) listForCircle(ctx context.Context, userID, circleID string, st []string) ([]models.Alert, error) {
	if _, err := loadCircleForMember(s.conn(ctx), circleID, userID); err != nil {
		return nil, err
	}
	rows, err := models.ListAlerts(s.conn(ctx), models.AlertQuery{CircleIDs: []string{circleID}, Statuses: st})
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

func (s *AlertService) StatsForCircle(ctx context.Context, userID, circleID string) (models.AlertStats, error) {
	rows, err := s.listForCircle(ctx, userID, circleID, nil)
	if err != nil {
		return models.AlertStats{}, err
	}
	return models.ComputeAlertStats(rows), nil
}
