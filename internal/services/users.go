package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	apperr "SafeCircle/pkg/errors"

	"gorm.io/gorm"
)

// UserService 身份库：资料、隐私、位置
type UserService struct {
	*base
}

type UpdateProfileInput struct {
	Name            *string
	Phone           *string
	Bio             *string
	Avatar          *string
	LocationSharing *bool
}

type UpdatePrivacyInput struct {
	ShareLocationWithCircles  *bool
	AllowCheckInNotifications *bool
	AllowAlertNotifications   *bool
	VisibleToCircleMembers    *bool
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return loadUser(s.conn(ctx), userID)
}

// update 读改写单个用户
func (s *UserService) update(ctx context.Context, userID string, fn func(u *models.User) error) (*models.User, error) {
	var out *models.User
	err := s.transact(ctx, "user", func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if err := save(tx, u, s.now()); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*models.User, error) {
	u, err := s.update(ctx, userID, func(u *models.User) error {
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
				return apperr.Validation("name must be between 2 and 50 characters")
			}
			u.Name = name
		}
		if in.Phone != nil {
			u.Phone = strings.TrimSpace(*in.Phone)
		}
		if in.Bio != nil {
			if utf8.RuneCountInString(*in.Bio) > 200 {
				return apperr.Validation("bio must be at most 200 characters")
			}
			u.Bio = *in.Bio
		}
		if in.Avatar != nil {
			u.Avatar = *in.Avatar
		}
		if in.LocationSharing != nil {
			u.LocationSharing = *in.LocationSharing
		}
		return nil
	})
	if err == nil {
		s.identities.Invalidate(ctx, userID)
	}
	return u, err
}

func (s *UserService) UpdatePrivacy(ctx context.Context, userID string, in UpdatePrivacyInput) (*models.User, error) {
	return s.update(ctx, userID, func(u *models.User) error {
		set := func(dst *bool, v *bool) {
			if v != nil {
				*dst = *v
			}
		}
		set(&u.Privacy.ShareLocationWithCircles, in.ShareLocationWithCircles)
		set(&u.Privacy.AllowCheckInNotifications, in.AllowCheckInNotifications)
		set(&u.Privacy.AllowAlertNotifications, in.AllowAlertNotifications)
		set(&u.Privacy.VisibleToCircleMembers, in.VisibleToCircleMembers)
		return nil
	})
}

func (s *UserService) UpdatePushToken(ctx context.Context, userID, token string) error {
	_, err := s.update(ctx, userID, func(u *models.User) error {
		u.PushToken = strings.TrimSpace(token)
		return nil
	})
	return err
}

// UpdateLocation 保存最近位置；用户关闭共享时不向圈子广播
func (s *UserService) UpdateLocation(ctx context.Context, userID string, coords models.Coordinates, address string) (*models.User, error) {
	now := s.now()
	u, err := s.update(ctx, userID, func(u *models.User) error {
		if !u.SetLocation(coords, address, now) {
			return apperr.Validation("invalid coordinates")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if u.SharesLocation() {
		payload := events.LocationUpdatedPayload{UserID: u.ID, Coordinates: coords, Address: address, Timestamp: now}
		for _, circleID := range u.Circles {
			s.publish(events.ToCircle(events.LocationUpdated, circleID, u.ID, payload, now))
		}
	}
	return u, nil
}

// CircleIDs 用户当前所在圈子，过滤已停用或已离开的
func (s *UserService) CircleIDs(ctx context.Context, userID string) ([]string, error) {
	u, err := loadUser(s.conn(ctx), userID)
	if err != nil {
		return nil, err
	}
	circles, err := models.GetCirclesByIDs(s.conn(ctx), u.Circles)
	if err != nil {
		return nil, apperr.Server(err)
	}
	ids := make([]string, 0, len(circles))
	for _, c := range circles {
		if c.IsMember(userID) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}
