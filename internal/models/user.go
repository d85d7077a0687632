package models

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserField gin 上下文中当前用户的键
const UserField = "_safecircle_user"

// Privacy 隐私开关，默认全部开启
type Privacy struct {
	ShareLocationWithCircles  bool `json:"shareLocationWithCircles"`
	AllowCheckInNotifications bool `json:"allowCheckInNotifications"`
	AllowAlertNotifications   bool `json:"allowAlertNotifications"`
	VisibleToCircleMembers    bool `json:"visibleToCircleMembers"`
}

func DefaultPrivacy() Privacy {
	return Privacy{
		ShareLocationWithCircles:  true,
		AllowCheckInNotifications: true,
		AllowAlertNotifications:   true,
		VisibleToCircleMembers:    true,
	}
}

// LastLocation 最近一次上报的位置
type LastLocation struct {
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type User struct {
	Base
	Email           string        `json:"email" gorm:"size:255;uniqueIndex"`
	Password        string        `json:"-" gorm:"size:128"`
	Name            string        `json:"name" gorm:"size:50"`
	Phone           string        `json:"phone,omitempty" gorm:"size:32"`
	Bio             string        `json:"bio,omitempty" gorm:"size:200"`
	Avatar          string        `json:"avatar,omitempty" gorm:"size:512"`
	LocationSharing bool          `json:"locationSharing"`
	LastLocation    *LastLocation `json:"lastLocation,omitempty" gorm:"serializer:json"`
	Privacy         Privacy       `json:"privacy" gorm:"embedded;embeddedPrefix:privacy_"`
	Circles         []string      `json:"circles" gorm:"serializer:json"`
	LoginAttempts   int           `json:"-"`
	LockUntil       *time.Time    `json:"-"`
	RefreshTokenID  string        `json:"-" gorm:"size:64"`
	PushToken       string        `json:"-" gorm:"size:512"`
	IsActive        bool          `json:"isActive"`
	LastLoginAt     *time.Time    `json:"lastLoginAt,omitempty"`
}

// NewUser 注册时的初始状态
func NewUser(email, passwordHash, name, phone string, now time.Time) *User {
	u := &User{
		Email:           NormalizeEmail(email),
		Password:        passwordHash,
		Name:            name,
		Phone:           phone,
		LocationSharing: true,
		Privacy:         DefaultPrivacy(),
		Circles:         []string{},
		IsActive:        true,
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return u
}

func (u *User) Public() PublicIdentity {
	return PublicIdentity{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// RegisterFailedLogin 累计失败次数，达到上限后锁定并清零
func (u *User) RegisterFailedLogin(max int, lockFor time.Duration, now time.Time) bool {
	u.LoginAttempts++
	if u.LoginAttempts >= max {
		until := now.Add(lockFor)
		u.LockUntil = &until
		u.LoginAttempts = 0
		return true
	}
	return false
}

func (u *User) RegisterLogin(now time.Time) {
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.LastLoginAt = &now
}

func (u *User) HasCircle(circleID string) bool {
	return containsString(u.Circles, circleID)
}

func (u *User) AddCircle(circleID string) bool {
	if u.HasCircle(circleID) {
		return false
	}
	u.Circles = append(u.Circles, circleID)
	return true
}

func (u *User) RemoveCircle(circleID string) bool {
	for i, id := range u.Circles {
		if id == circleID {
			u.Circles = append(u.Circles[:i:i], u.Circles[i+1:]...)
			return true
		}
	}
	return false
}

// SetLocation 更新最近位置，坐标不合法时返回 false
func (u *User) SetLocation(coords Coordinates, address string, now time.Time) bool {
	if !coords.Valid() {
		return false
	}
	u.LastLocation = &LastLocation{Coordinates: coords, Address: address, UpdatedAt: now}
	return true
}

// SharesLocation 同时满足总开关与隐私设置
func (u *User) SharesLocation() bool {
	return u.LocationSharing && u.Privacy.ShareLocationWithCircles
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var u User
	if err := db.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	var u User
	if err := db.Where("email = ?", NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUsersByIDs(db *gorm.DB, ids []string) ([]User, error) {
	var users []User
	if len(ids) == 0 {
		return users, nil
	}
	err := db.Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// CurrentUser 由鉴权中间件写入
func CurrentUser(c *gin.Context) *User {
	if v, ok := c.Get(UserField); ok {
		if u, ok := v.(*User); ok {
			return u
		}
	}
	return nil
}
