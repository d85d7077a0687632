package services

import (
	"context"
	"strings"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/util"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CircleService 圈子注册表
type CircleService struct {
	*base
}

type CreateCircleInput struct {
	Name        string
	Description string
	Settings    *models.CircleSettings
}

type SettingsPatch struct {
	RequireApproval    *bool
	AllowMemberInvites *bool
	MaxMembers         *int
	AutoShareLocation  *bool
}

type UpdateCircleInput struct {
	Name        *string
	Description *string
	Settings    *SettingsPatch
}

// newInviteCode 生成未被占用的邀请码
func newInviteCode(tx *gorm.DB) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := util.RandomString(models.InviteCodeLength, util.InviteCodeAlphabet)
		if err != nil {
			return "", apperr.Server(err)
		}
		var n int64
		if err := tx.Model(&models.Circle{}).Where("invite_code = ?", code).Count(&n).Error; err != nil {
			return "", apperr.Server(err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", apperr.Conflict("could not allocate a unique invite code")
}

// announceJoin 先让新成员的连接加入圈子组，再通知圈子
func (s *CircleService) announceJoin(ctx context.Context, circleID, userID, role string) {
	now := s.now()
	s.publish(
		events.ToUser(events.MembershipChanged, userID, events.MembershipChangedPayload{
			CircleID: circleID,
			Group:    events.CircleGroup(circleID),
			Action:   events.MembershipJoined,
		}, now),
		events.ToCircle(events.MemberJoined, circleID, userID, events.MemberPayload{
			CircleID: circleID,
			User:     s.identities.Get(ctx, userID),
			Role:     role,
		}, now),
	)
}

// announceLeave 先通知圈子（离开者也能收到），再把其连接移出组
func (s *CircleService) announceLeave(ctx context.Context, circleID, userID string) {
	now := s.now()
	s.publish(
		events.ToCircle(events.MemberLeft, circleID, userID, events.MemberPayload{
			CircleID: circleID,
			User:     s.identities.Get(ctx, userID),
		}, now),
		events.ToUser(events.MembershipChanged, userID, events.MembershipChangedPayload{
			CircleID: circleID,
			Group:    events.CircleGroup(circleID),
			Action:   events.MembershipLeft,
		}, now),
	)
}

// Create 创建者成为唯一管理员
func (s *CircleService) Create(ctx context.Context, ownerID string, in CreateCircleInput) (*models.Circle, error) {
	var out *models.Circle
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		now := s.now()
		owner, err := loadUser(tx, ownerID)
		if err != nil {
			return err
		}
		code, err := newInviteCode(tx)
		if err != nil {
			return err
		}
		c, err := models.NewCircle(ownerID, strings.TrimSpace(in.Name), strings.TrimSpace(in.Description), in.Settings, code, now)
		if err != nil {
			return err
		}
		if err := tx.Create(c).Error; err != nil {
			return apperr.Server(err)
		}
		owner.AddCircle(c.ID)
		if err := save(tx, owner, now); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("circle created", zap.String("circle", out.ID), zap.String("owner", ownerID))
	s.announceJoin(ctx, out.ID, ownerID, models.RoleAdmin)
	return out, nil
}

func (s *CircleService) Get(ctx context.Context, userID, circleID string) (*models.Circle, error) {
	return loadCircleForMember(s.conn(ctx), circleID, userID)
}

// ListMine 用户当前为活跃成员的圈子
func (s *CircleService) ListMine(ctx context.Context, userID string) ([]models.Circle, error) {
	u, err := loadUser(s.conn(ctx), userID)
	if err != nil {
		return nil, err
	}
	circles, err := models.GetCirclesByIDs(s.conn(ctx), u.Circles)
	if err != nil {
		return nil, apperr.Server(err)
	}
	out := make([]models.Circle, 0, len(circles))
	for _, c := range circles {
		if c.IsMember(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Members 活跃成员及其公开身份
func (s *CircleService) Members(ctx context.Context, userID, circleID string) ([]MemberView, error) {
	c, err := s.Get(ctx, userID, circleID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberView, 0, len(c.Members))
	for _, m := range c.Members {
		if !m.IsActive {
			continue
		}
		out = append(out, MemberView{Member: m, User: s.identities.Get(ctx, m.UserID)})
	}
	return out, nil
}

type MemberView struct {
	models.Member
	User models.PublicIdentity `json:"user"`
}

// IsMember 供实时通道按当前成员关系鉴权
func (s *CircleService) IsMember(ctx context.Context, circleID, userID string) bool {
	c, err := models.GetCircleByID(s.conn(ctx), circleID)
	return err == nil && c.IsMember(userID)
}

// Recipients 圈子活跃成员（排除 exclude），供推送使用，不做调用者鉴权
func (s *CircleService) Recipients(ctx context.Context, circleID, exclude string) ([]models.User, error) {
	c, err := loadCircle(s.conn(ctx), circleID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.Members))
	for _, id := range c.ActiveMemberIDs() {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	users, err := models.GetUsersByIDs(s.conn(ctx), ids)
	if err != nil {
		return nil, apperr.Server(err)
	}
	return users, nil
}

// mutateAsAdmin 管理员对圈子本身的读改写
func (s *CircleService) mutateAsAdmin(ctx context.Context, actorID, circleID string, fn func(tx *gorm.DB, c *models.Circle) error) (*models.Circle, error) {
	var out *models.Circle
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := loadCircleForAdmin(tx, circleID, actorID)
		if err != nil {
			return err
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		if err := save(tx, c, s.now()); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *CircleService) Update(ctx context.Context, actorID, circleID string, in UpdateCircleInput) (*models.Circle, error) {
	return s.mutateAsAdmin(ctx, actorID, circleID, func(_ *gorm.DB, c *models.Circle) error {
		if in.Name != nil {
			c.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			c.Description = strings.TrimSpace(*in.Description)
		}
		if p := in.Settings; p != nil {
			if p.RequireApproval != nil {
				c.Settings.RequireApproval = *p.RequireApproval
			}
			if p.AllowMemberInvites != nil {
				c.Settings.AllowMemberInvites = *p.AllowMemberInvites
			}
			if p.AutoShareLocation != nil {
				c.Settings.AutoShareLocation = *p.AutoShareLocation
			}
			if p.MaxMembers != nil {
				if *p.MaxMembers < c.ActiveMemberCount() {
					return apperr.Validation("maxMembers cannot be lower than the current member count %d", c.ActiveMemberCount())
				}
				c.Settings.MaxMembers = *p.MaxMembers
			}
		}
		return c.Validate()
	})
}

// Delete 软删除，并从每个成员的圈子列表中移除
func (s *CircleService) Delete(ctx context.Context, actorID, circleID string) error {
	var active []string
	_, err := s.mutateAsAdmin(ctx, actorID, circleID, func(tx *gorm.DB, c *models.Circle) error {
		active = c.ActiveMemberIDs()
		ids := make([]string, 0, len(c.Members))
		for _, m := range c.Members {
			ids = append(ids, m.UserID)
		}
		users, err := models.GetUsersByIDs(tx, ids)
		if err != nil {
			return apperr.Server(err)
		}
		now := s.now()
		for i := range users {
			if users[i].RemoveCircle(c.ID) {
				if err := save(tx, &users[i], now); err != nil {
					return err
				}
			}
		}
		c.IsActive = false
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("circle deleted", zap.String("circle", circleID), zap.String("by", actorID))
	for _, uid := range active {
		s.announceLeave(ctx, circleID, uid)
	}
	return nil
}

// Invite 管理员或允许成员邀请时的普通成员
func (s *CircleService) Invite(ctx context.Context, actorID, circleID, email string) (models.PendingInvite, error) {
	var inv models.PendingInvite
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := loadCircleForMember(tx, circleID, actorID)
		if err != nil {
			return err
		}
		if !c.IsAdmin(actorID) && !c.Settings.AllowMemberInvites {
			return apperr.Authorization("only circle admins can invite members")
		}
		email = models.NormalizeEmail(email)
		if !strings.Contains(email, "@") {
			return apperr.Validation("a valid email is required")
		}
		if u, err := models.GetUserByEmail(tx, email); err == nil && c.IsMember(u.ID) {
			return apperr.AlreadyMember()
		}
		now := s.now()
		inv, err = c.AddInvite(email, actorID, now)
		if err != nil {
			return err
		}
		return save(tx, c, now)
	})
	return inv, err
}

// join 把用户加入圈子并更新其圈子列表
func (s *CircleService) join(tx *gorm.DB, c *models.Circle, userID string) error {
	now := s.now()
	u, err := loadUser(tx, userID)
	if err != nil {
		return err
	}
	if _, err := c.AddMember(userID, models.RoleMember, now); err != nil {
		return err
	}
	if err := save(tx, c, now); err != nil {
		return err
	}
	if u.AddCircle(c.ID) {
		return save(tx, u, now)
	}
	return nil
}

// AcceptInvite 兑现发给当前用户邮箱的邀请
func (s *CircleService) AcceptInvite(ctx context.Context, userID, circleID string) (*models.Circle, error) {
	var out *models.Circle
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := loadCircle(tx, circleID)
		if err != nil {
			return err
		}
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if c.IsMember(userID) {
			return apperr.AlreadyMember()
		}
		if _, ok := c.TakeInvite(u.Email, s.now()); !ok {
			return apperr.NotFound("no pending invite for this account")
		}
		if err := s.join(tx, c, userID); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announceJoin(ctx, circleID, userID, models.RoleMember)
	return out, nil
}

// JoinByCode 未知码 404，过期或已是成员 400
func (s *CircleService) JoinByCode(ctx context.Context, userID, code string) (*models.Circle, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var out *models.Circle
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := models.GetCircleByCode(tx, code)
		if err != nil {
			return dbError(err, "invite code")
		}
		if c.InviteCodeExpired(s.now()) {
			return apperr.Expired("invite code has expired")
		}
		if c.IsMember(userID) {
			return apperr.AlreadyMember()
		}
		if err := s.join(tx, c, userID); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("circle joined", zap.String("circle", out.ID), zap.String("user", userID))
	s.announceJoin(ctx, out.ID, userID, models.RoleMember)
	return out, nil
}

// removeMember 软删除成员并更新其圈子列表
func (s *CircleService) removeMember(tx *gorm.DB, c *models.Circle, userID string) error {
	now := s.now()
	if err := c.RemoveMember(userID); err != nil {
		return err
	}
	if err := save(tx, c, now); err != nil {
		return err
	}
	u, err := loadUser(tx, userID)
	if err != nil {
		return err
	}
	if u.RemoveCircle(c.ID) {
		return save(tx, u, now)
	}
	return nil
}

// Leave 唯一管理员不能离开
func (s *CircleService) Leave(ctx context.Context, userID, circleID string) error {
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := loadCircleForMember(tx, circleID, userID)
		if err != nil {
			return err
		}
		return s.removeMember(tx, c, userID)
	})
	if err != nil {
		return err
	}
	s.announceLeave(ctx, circleID, userID)
	return nil
}

// RemoveMember 管理员移除他人，自己离开走 Leave
func (s *CircleService) RemoveMember(ctx context.Context, actorID, circleID, userID string) error {
	if actorID == userID {
		return apperr.Validation("use leave to remove yourself from a circle")
	}
	err := s.transact(ctx, "circle", func(tx *gorm.DB) error {
		c, err := loadCircleForAdmin(tx, circleID, actorID)
		if err != nil {
			return err
		}
		return s.removeMember(tx, c, userID)
	})
	if err != nil {
		return err
	}
	logger.Info("circle member removed", zap.String("circle", circleID), zap.String("user", userID), zap.String("by", actorID))
	s.announceLeave(ctx, circleID, userID)
	return nil
}

func (s *CircleService) UpdateMemberRole(ctx context.Context, actorID, circleID, userID, role string) (*models.Circle, error) {
	return s.mutateAsAdmin(ctx, actorID, circleID, func(_ *gorm.DB, c *models.Circle) error {
		return c.UpdateMemberRole(userID, role)
	})
}

func (s *CircleService) RegenerateInviteCode(ctx context.Context, actorID, circleID string) (*models.Circle, error) {
	return s.mutateAsAdmin(ctx, actorID, circleID, func(tx *gorm.DB, c *models.Circle) error {
		code, err := newInviteCode(tx)
		if err != nil {
			return err
		}
		c.RegenerateInviteCode(code, s.now())
		return nil
	})
}

// recordActivity 圈子统计，随告警与签到的创建在同一事务内写入
func (b *base) recordActivity(tx *gorm.DB, c *models.Circle, kind string) error {
	now := b.now()
	c.RecordActivity(kind, now)
	return save(tx, c, now)
}
