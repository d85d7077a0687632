package models

import (
	"time"
	"unicode/utf8"

	apperr "SafeCircle/pkg/errors"

	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	InviteCodeLength = 8
	InviteCodeTTL    = 30 * 24 * time.Hour
	InviteTTL        = 7 * 24 * time.Hour

	DefaultMaxMembers = 50
	MinMaxMembers     = 2
	MaxMaxMembers     = 100
)

type Member struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	IsActive bool      `json:"isActive"`
}

type PendingInvite struct {
	Email     string    `json:"email"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p PendingInvite) Live(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

type CircleSettings struct {
	RequireApproval    bool `json:"requireApproval"`
	AllowMemberInvites bool `json:"allowMemberInvites"`
	MaxMembers         int  `json:"maxMembers"`
	AutoShareLocation  bool `json:"autoShareLocation"`
}

func DefaultCircleSettings() CircleSettings {
	return CircleSettings{
		AllowMemberInvites: true,
		MaxMembers:         DefaultMaxMembers,
		AutoShareLocation:  true,
	}
}

type CircleStats struct {
	TotalAlerts    int        `json:"totalAlerts"`
	TotalCheckIns  int        `json:"totalCheckIns"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

type Circle struct {
	Base
	Name             string          `json:"name" gorm:"size:50"`
	Description      string          `json:"description,omitempty" gorm:"size:500"`
	CreatedBy        string          `json:"createdBy" gorm:"size:36;index"`
	Members          []Member        `json:"members" gorm:"serializer:json"`
	PendingInvites   []PendingInvite `json:"pendingInvites" gorm:"serializer:json"`
	InviteCode       string          `json:"inviteCode" gorm:"size:16;uniqueIndex"`
	InviteCodeExpiry time.Time       `json:"inviteCodeExpiry"`
	Settings         CircleSettings  `json:"settings" gorm:"embedded;embeddedPrefix:settings_"`
	IsActive         bool            `json:"isActive" gorm:"index"`
	Stats            CircleStats     `json:"stats" gorm:"embedded;embeddedPrefix:stats_"`
}

// NewCircle 创建者成为唯一的管理员
func NewCircle(owner, name, description string, settings *CircleSettings, code string, now time.Time) (*Circle, error) {
	c := &Circle{
		Name:             name,
		Description:      description,
		CreatedBy:        owner,
		Members:          []Member{{UserID: owner, Role: RoleAdmin, JoinedAt: now, IsActive: true}},
		PendingInvites:   []PendingInvite{},
		InviteCode:       code,
		InviteCodeExpiry: now.Add(InviteCodeTTL),
		Settings:         DefaultCircleSettings(),
		IsActive:         true,
	}
	if settings != nil {
		c.Settings = *settings
		if c.Settings.MaxMembers == 0 {
			c.Settings.MaxMembers = DefaultMaxMembers
		}
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 名称、描述与成员上限的边界检查
func (c *Circle) Validate() error {
	n := utf8.RuneCountInString(c.Name)
	if n < 2 || n > 50 {
		return apperr.Validation("circle name must be between 2 and 50 characters")
	}
	if utf8.RuneCountInString(c.Description) > 500 {
		return apperr.Validation("circle description must be at most 500 characters")
	}
	if c.Settings.MaxMembers < MinMaxMembers || c.Settings.MaxMembers > MaxMaxMembers {
		return apperr.Validation("maxMembers must be between %d and %d", MinMaxMembers, MaxMaxMembers)
	}
	return nil
}

func (c *Circle) member(userID string) (int, *Member) {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return i, &c.Members[i]
		}
	}
	return -1, nil
}

func (c *Circle) ActiveMemberCount() int {
	n := 0
	for _, m := range c.Members {
		if m.IsActive {
			n++
		}
	}
	return n
}

func (c *Circle) ActiveAdminCount() int {
	n := 0
	for _, m := range c.Members {
		if m.IsActive && m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func (c *Circle) ActiveMemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.IsActive {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// IsMember 仅统计活跃成员
func (c *Circle) IsMember(userID string) bool {
	_, m := c.member(userID)
	return m != nil && m.IsActive
}

func (c *Circle) IsAdmin(userID string) bool {
	_, m := c.member(userID)
	return m != nil && m.IsActive && m.Role == RoleAdmin
}

// AddMember 已是活跃成员时不做任何事；停用成员重新激活
func (c *Circle) AddMember(userID, role string, now time.Time) (bool, error) {
	if role == "" {
		role = RoleMember
	}
	if role != RoleAdmin && role != RoleMember {
		return false, apperr.Validation("invalid role %q", role)
	}
	_, m := c.member(userID)
	if m != nil && m.IsActive {
		return false, nil
	}
	if c.ActiveMemberCount()+1 > c.Settings.MaxMembers {
		return false, apperr.Capacity(c.Settings.MaxMembers)
	}
	if m != nil {
		m.IsActive = true
		m.Role = role
		m.JoinedAt = now
	} else {
		c.Members = append(c.Members, Member{UserID: userID, Role: role, JoinedAt: now, IsActive: true})
	}
	return true, nil
}

// RemoveMember 软删除，唯一管理员不能移除
func (c *Circle) RemoveMember(userID string) error {
	_, m := c.member(userID)
	if m == nil || !m.IsActive {
		return apperr.NotFound("user is not a member of this circle")
	}
	if m.Role == RoleAdmin && c.ActiveAdminCount() <= 1 {
		return apperr.LastAdmin()
	}
	m.IsActive = false
	return nil
}

func (c *Circle) UpdateMemberRole(userID, role string) error {
	if role != RoleAdmin && role != RoleMember {
		return apperr.Validation("invalid role %q", role)
	}
	_, m := c.member(userID)
	if m == nil || !m.IsActive {
		return apperr.NotFound("user is not a member of this circle")
	}
	if m.Role == RoleAdmin && role == RoleMember && c.ActiveAdminCount() <= 1 {
		return apperr.LastAdmin()
	}
	m.Role = role
	return nil
}

// AddInvite 同一邮箱只允许一个未过期的邀请，过期的会被替换
func (c *Circle) AddInvite(email, invitedBy string, now time.Time) (PendingInvite, error) {
	email = NormalizeEmail(email)
	kept := c.PendingInvites[:0:0]
	for _, p := range c.PendingInvites {
		if p.Email == email {
			if p.Live(now) {
				return PendingInvite{}, apperr.DuplicateInvite(email)
			}
			continue
		}
		kept = append(kept, p)
	}
	inv := PendingInvite{Email: email, InvitedBy: invitedBy, InvitedAt: now, ExpiresAt: now.Add(InviteTTL)}
	c.PendingInvites = append(kept, inv)
	return inv, nil
}

// TakeInvite 取出该邮箱的有效邀请
func (c *Circle) TakeInvite(email string, now time.Time) (PendingInvite, bool) {
	email = NormalizeEmail(email)
	for i, p := range c.PendingInvites {
		if p.Email == email && p.Live(now) {
			c.PendingInvites = append(c.PendingInvites[:i:i], c.PendingInvites[i+1:]...)
			return p, true
		}
	}
	return PendingInvite{}, false
}

func (c *Circle) InviteCodeExpired(now time.Time) bool {
	return !now.Before(c.InviteCodeExpiry)
}

func (c *Circle) RegenerateInviteCode(code string, now time.Time) {
	c.InviteCode = code
	c.InviteCodeExpiry = now.Add(InviteCodeTTL)
}

func (c *Circle) RecordActivity(kind string, now time.Time) {
	switch kind {
	case "alert":
		c.Stats.TotalAlerts++
	case "checkin":
		c.Stats.TotalCheckIns++
	}
	c.Stats.LastActivityAt = &now
}

func GetCircleByID(db *gorm.DB, id string) (*Circle, error) {
	var c Circle
	if err := db.Where("id = ? AND is_active = ?", id, true).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func GetCircleByCode(db *gorm.DB, code string) (*Circle, error) {
	var c Circle
	if err := db.Where("invite_code = ? AND is_active = ?", code, true).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func GetCirclesByIDs(db *gorm.DB, ids []string) ([]Circle, error) {
	var circles []Circle
	if len(ids) == 0 {
		return circles, nil
	}
	err := db.Where("id IN ? AND is_active = ?", ids, true).Order("created_at desc").Find(&circles).Error
	return circles, err
}
