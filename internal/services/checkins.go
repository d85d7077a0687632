package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckInService 签到生命周期
type CheckInService struct {
	*base
}

type CreateCheckInInput struct {
	CircleID           string
	Location           models.Location
	ExpectedReturnTime time.Time
	Notes              string
}

func overdueEvent(ci *models.CheckIn, at time.Time) events.Event {
	snapshot := *ci
	return events.ToCircle(events.CheckInOverdue, ci.CircleID, ci.UserID,
		events.CheckInOverduePayload{CheckInID: ci.ID, CheckIn: &snapshot}, at)
}

func (s *CheckInService) Create(ctx context.Context, userID string, in CreateCheckInInput) (*models.CheckIn, error) {
	if utf8.RuneCountInString(in.Notes) > 500 {
		return nil, apperr.Validation("notes must be at most 500 characters")
	}
	var out *models.CheckIn
	err := s.transact(ctx, "checkin", func(tx *gorm.DB) error {
		now := s.now()
		c, err := loadCircleForMember(tx, in.CircleID, userID)
		if err != nil {
			return err
		}
		ci, err := models.NewCheckIn(userID, c.ID, in.Location, in.ExpectedReturnTime, strings.TrimSpace(in.Notes), now)
		if err != nil {
			return err
		}
		if err := tx.Create(ci).Error; err != nil {
			return apperr.Server(err)
		}
		if err := s.recordActivity(tx, c, "checkin"); err != nil {
			return err
		}
		out = ci
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCheckInCreated()
	logger.Info("check-in created", zap.String("checkin", out.ID), zap.String("user", userID), zap.Time("expected", out.ExpectedReturnTime))
	snapshot := *out
	s.publish(events.ToCircle(events.CheckInCreated, out.CircleID, userID, events.CheckInCreatedPayload{
		CheckIn: &snapshot,
		Owner:   s.identities.Get(ctx, userID),
	}, s.now()))
	return out, nil
}

// authorizeView 本人或圈子当前成员可见
func authorizeView(tx *gorm.DB, ci *models.CheckIn, userID string) error {
	if ci.UserID == userID {
		return nil
	}
	_, err := loadCircleForMember(tx, ci.CircleID, userID)
	return err
}

func authorizeOwner(_ *gorm.DB, ci *models.CheckIn, userID string) error {
	if ci.UserID != userID {
		return apperr.Authorization("only the owner can modify this check-in")
	}
	return nil
}

func authorizeMember(tx *gorm.DB, ci *models.CheckIn, userID string) error {
	_, err := loadCircleForMember(tx, ci.CircleID, userID)
	return err
}

// mutate 加载、鉴权、推导、迁移、保存。迁移被拒绝时仍落库推导出的逾期状态
func (s *CheckInService) mutate(
	ctx context.Context,
	userID, id string,
	authorize func(tx *gorm.DB, ci *models.CheckIn, userID string) error,
	fn func(ci *models.CheckIn, now time.Time) error,
) (ci *models.CheckIn, becameOverdue bool, err error) {
	var rejected error
	err = s.transact(ctx, "checkin", func(tx *gorm.DB) error {
		now := s.now()
		ci, becameOverdue, rejected = nil, false, nil
		loaded, err := models.GetCheckInByID(tx, id)
		if err != nil {
			return dbError(err, "check-in")
		}
		if err := authorize(tx, loaded, userID); err != nil {
			return err
		}
		derived := loaded.Derive(now)
		if fnErr := fn(loaded, now); fnErr != nil {
			// 模型方法失败时不改动实体，这里只会写入逾期状态
			rejected = fnErr
			if !derived {
				return nil
			}
		}
		if err := save(tx, loaded, now); err != nil {
			return err
		}
		ci = loaded
		becameOverdue = derived
		return nil
	})
	if err == nil && rejected != nil {
		err = rejected
	}
	return ci, becameOverdue, err
}

func (s *CheckInService) Get(ctx context.Context, userID, id string) (*models.CheckIn, error) {
	ci, err := models.GetCheckInByID(s.conn(ctx), id)
	if err != nil {
		return nil, dbError(err, "check-in")
	}
	if err := authorizeView(s.conn(ctx), ci, userID); err != nil {
		return nil, err
	}
	if models.DeriveCheckInStatus(ci.Status, ci.ExpectedReturnTime, s.now()) != ci.Status {
		if m, _, err := s.materialize(ctx, id); err == nil {
			return m, nil
		}
		ci.Derive(s.now())
	}
	return ci, nil
}

// materialize 把逾期状态写回并发布事件，changed 表示本次写入
func (s *CheckInService) materialize(ctx context.Context, id string) (*models.CheckIn, bool, error) {
	var (
		out     *models.CheckIn
		changed bool
	)
	err := s.transact(ctx, "checkin", func(tx *gorm.DB) error {
		now := s.now()
		ci, err := models.GetCheckInByID(tx, id)
		if err != nil {
			return dbError(err, "check-in")
		}
		changed = ci.Derive(now)
		out = ci
		if !changed {
			return nil
		}
		return save(tx, ci, now)
	})
	if err != nil {
		return nil, false, err
	}
	s.publishOverdue(out, changed)
	return out, changed, nil
}

func (s *CheckInService) publishOverdue(ci *models.CheckIn, becameOverdue bool) {
	if becameOverdue {
		s.metrics.RecordTransition("checkin", models.CheckInOverdue)
		s.publish(overdueEvent(ci, s.now()))
	}
}

// Complete 仅本人，active 或 overdue 可完成
func (s *CheckInService) Complete(ctx context.Context, userID, id, notes string) (*models.CheckIn, error) {
	ci, overdue, err := s.mutate(ctx, userID, id, authorizeOwner, func(ci *models.CheckIn, now time.Time) error {
		return ci.Complete(strings.TrimSpace(notes), now)
	})
	if err != nil {
		if ci != nil {
			s.publishOverdue(ci, overdue)
		}
		return nil, err
	}
	s.metrics.RecordTransition("checkin", models.CheckInCompleted)
	logger.Info("check-in completed", zap.String("checkin", id), zap.String("status", ci.Completion.Status))
	s.publish(events.ToCircle(events.CheckInCompleted, ci.CircleID, userID, events.CheckInCompletedPayload{
		CheckInID:  ci.ID,
		OwnerID:    ci.UserID,
		Completion: ci.Completion,
	}, s.now()))
	return ci, nil
}

func (s *CheckInService) Cancel(ctx context.Context, userID, id string) (*models.CheckIn, error) {
	ci, overdue, err := s.mutate(ctx, userID, id, authorizeOwner, func(ci *models.CheckIn, now time.Time) error {
		return ci.Cancel(now)
	})
	if err != nil {
		if ci != nil {
			s.publishOverdue(ci, overdue)
		}
		return nil, err
	}
	s.metrics.RecordTransition("checkin", models.CheckInCancelled)
	s.publish(events.ToCircle(events.CheckInCancelled, ci.CircleID, userID, events.CheckInCancelledPayload{
		CheckInID: ci.ID,
		OwnerID:   ci.UserID,
	}, s.now()))
	return ci, nil
}

// UpdateLocation 仅 active 状态；位置广播受用户隐私设置约束
func (s *CheckInService) UpdateLocation(ctx context.Context, userID, id string, coords models.Coordinates, address string) (*models.CheckIn, error) {
	if !coords.Valid() {
		return nil, apperr.Validation("invalid coordinates")
	}
	ci, overdue, err := s.mutate(ctx, userID, id, authorizeOwner, func(ci *models.CheckIn, now time.Time) error {
		return ci.UpdateLocation(coords, address, now)
	})
	if err != nil {
		if ci != nil {
			s.publishOverdue(ci, overdue)
		}
		return nil, err
	}

	owner, err := loadUser(s.conn(ctx), userID)
	if err == nil && owner.SharesLocation() {
		now := s.now()
		s.publish(events.ToCircle(events.LocationUpdated, ci.CircleID, userID, events.LocationUpdatedPayload{
			UserID:      userID,
			Coordinates: coords,
			Address:     address,
			Timestamp:   now,
		}, now))
	}
	return ci, nil
}

// Acknowledge 圈子当前成员确认，每人一条
func (s *CheckInService) Acknowledge(ctx context.Context, userID, id, message string) (*models.CheckIn, error) {
	var ack models.CheckInAck
	ci, overdue, err := s.mutate(ctx, userID, id, authorizeMember, func(ci *models.CheckIn, now time.Time) error {
		ack = ci.Acknowledge(userID, strings.TrimSpace(message), now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishOverdue(ci, overdue)
	s.publish(events.ToCircle(events.CheckInAcknowledged, ci.CircleID, userID, events.CheckInAcknowledgedPayload{
		CheckInID:      ci.ID,
		Acknowledgment: ack,
		User:           s.identities.Get(ctx, userID),
	}, s.now()))
	return ci, nil
}

// Delete 本人软删除
func (s *CheckInService) Delete(ctx context.Context, userID, id string) error {
	_, _, err := s.mutate(ctx, userID, id, authorizeOwner, func(ci *models.CheckIn, _ time.Time) error {
		ci.IsDeleted = true
		return nil
	})
	return err
}

// MarkOverdueNotified 推送完成后记录，避免重复通知
func (s *CheckInService) MarkOverdueNotified(ctx context.Context, id string) error {
	return s.transact(ctx, "checkin", func(tx *gorm.DB) error {
		ci, err := models.GetCheckInByID(tx, id)
		if err != nil {
			return dbError(err, "check-in")
		}
		if ci.Notifications.OverdueNotified {
			return nil
		}
		ci.Notifications.OverdueNotified = true
		return save(tx, ci, s.now())
	})
}

func (s *CheckInService) validStatus(status string) error {
	if status != "" && !models.ValidCheckInStatus(status) {
		return apperr.Validation("invalid status %q", status)
	}
	return nil
}

func (s *CheckInService) ListMine(ctx context.Context, userID, status string) ([]models.CheckIn, error) {
	if err := s.validStatus(status); err != nil {
		return nil, err
	}
	rows, err := models.ListCheckIns(s.conn(ctx), models.CheckInQuery{UserID: userID, Status: status}, s.now())
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

func (s *CheckInService) ListActiveMine(ctx context.Context, userID string) ([]models.CheckIn, error) {
	return s.ListMine(ctx, userID, models.CheckInActive)
}

func (s *CheckInService) ListForCircle(ctx context.Context, userID, circleID, status string) ([]models.CheckIn, error) {
	if err := s.validStatus(status); err != nil {
		return nil, err
	}
	if _, err := loadCircleForMember(s.conn(ctx), circleID, userID); err != nil {
		return nil, err
	}
	rows, err := models.ListCheckIns(s.conn(ctx), models.CheckInQuery{CircleIDs: []string{circleID}, Status: status}, s.now())
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

// ListOverdue 用户所在圈子里的逾期签到
func (s *CheckInService) ListOverdue(ctx context.Context, userID string) ([]models.CheckIn, error) {
	u, err := loadUser(s.conn(ctx), userID)
	if err != nil {
		return nil, err
	}
	circles := u.Circles
	if circles == nil {
		circles = []string{}
	}
	rows, err := models.ListCheckIns(s.conn(ctx), models.CheckInQuery{CircleIDs: circles, Status: models.CheckInOverdue}, s.now())
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

// FindOverdue 存储状态仍为 active 但已过截止时间的签到
func (s *CheckInService) FindOverdue(ctx context.Context) ([]models.CheckIn, error) {
	rows, err := models.FindOverdueCheckIns(s.conn(ctx), s.now())
	if err != nil {
		return nil, apperr.Server(err)
	}
	return rows, nil
}

// MaterializeOverdue 定时任务：写回逾期状态，单条失败不影响其它
func (s *CheckInService) MaterializeOverdue(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.RecordSweep("overdue", time.Since(start)) }()

	candidates, err := s.FindOverdue(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		_, changed, err := s.materialize(ctx, c.ID)
		if err != nil {
			logger.Error("materialize overdue check-in failed", zap.String("checkin", c.ID), zap.Error(err))
			continue
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		logger.Info("overdue check-ins materialized", zap.Int("count", n))
	}
	return n, nil
}
