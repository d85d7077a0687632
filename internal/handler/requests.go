package handlers

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Phone    string `json:"phone" binding:"max=20"`
}

type loginRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type updateProfileRequest struct {
	Name            *string `json:"name" binding:"omitempty,min=2,max=50"`
	Phone           *string `json:"phone" binding:"omitempty,max=20"`
	Bio             *string `json:"bio" binding:"omitempty,max=200"`
	Avatar          *string `json:"avatar" binding:"omitempty,max=500"`
	LocationSharing *bool   `json:"locationSharing"`
}

type privacyRequest struct {
	ShareLocationWithCircles  *bool `json:"shareLocationWithCircles"`
	AllowCheckInNotifications *bool `json:"allowCheckInNotifications"`
	AllowAlertNotifications   *bool `json:"allowAlertNotifications"`
	VisibleToCircleMembers    *bool `json:"visibleToCircleMembers"`
}

// locationRequest 坐标为 [经度, 纬度]
type locationRequest struct {
	Coordinates *models.Coordinates `json:"coordinates" binding:"required,lnglat"`
	Address     string              `json:"address" binding:"max=200"`
	Accuracy    float64             `json:"accuracy" binding:"gte=0"`
}

func (r locationRequest) toLocation() models.Location {
	return models.Location{Coordinates: *r.Coordinates, Address: strings.TrimSpace(r.Address), Accuracy: r.Accuracy}
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"max=512"`
}

type circleSettingsRequest struct {
	RequireApproval    *bool `json:"requireApproval"`
	AllowMemberInvites *bool `json:"allowMemberInvites"`
	MaxMembers         *int  `json:"maxMembers" binding:"omitempty,min=2,max=100"`
	AutoShareLocation  *bool `json:"autoShareLocation"`
}

// full 未给出的字段取默认值
func (r *circleSettingsRequest) full() *models.CircleSettings {
	if r == nil {
		return nil
	}
	s := models.DefaultCircleSettings()
	if r.RequireApproval != nil {
		s.RequireApproval = *r.RequireApproval
	}
	if r.AllowMemberInvites != nil {
		s.AllowMemberInvites = *r.AllowMemberInvites
	}
	if r.MaxMembers != nil {
		s.MaxMembers = *r.MaxMembers
	}
	if r.AutoShareLocation != nil {
		s.AutoShareLocation = *r.AutoShareLocation
	}
	return &s
}

func (r *circleSettingsRequest) patch() *services.SettingsPatch {
	if r == nil {
		return nil
	}
	return &services.SettingsPatch{
		RequireApproval:    r.RequireApproval,
		AllowMemberInvites: r.AllowMemberInvites,
		MaxMembers:         r.MaxMembers,
		AutoShareLocation:  r.AutoShareLocation,
	}
}

type createCircleRequest struct {
	Name        string                 `json:"name" binding:"required,min=2,max=50"`
	Description string                 `json:"description" binding:"max=500"`
	Settings    *circleSettingsRequest `json:"settings"`
}

type updateCircleRequest struct {
	Name        *string                `json:"name" binding:"omitempty,min=2,max=50"`
	Description *string                `json:"description" binding:"omitempty,max=500"`
	Settings    *circleSettingsRequest `json:"settings"`
}

type joinCircleRequest struct {
	InviteCode string `json:"inviteCode" binding:"required,len=8"`
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

type createCheckInRequest struct {
	CircleID           string          `json:"circleId" binding:"required"`
	Location           locationRequest `json:"location"`
	ExpectedReturnTime time.Time       `json:"expectedReturnTime" binding:"required"`
	Notes              string          `json:"notes" binding:"max=500"`
}

type notesRequest struct {
	Notes string `json:"notes" binding:"max=500"`
}

type acknowledgeCheckInRequest struct {
	Message string `json:"message" binding:"max=200"`
}

type createAlertRequest struct {
	CircleID       string          `json:"circleId" binding:"required"`
	Type           string          `json:"type" binding:"omitempty,oneof=panic check-in-overdue sos location-sharing manual"`
	Severity       string          `json:"severity" binding:"omitempty,oneof=low medium high critical"`
	Title          string          `json:"title" binding:"required,max=100"`
	Message        string          `json:"message" binding:"max=500"`
	Location       locationRequest `json:"location"`
	RelatedCheckIn string          `json:"relatedCheckIn"`
}

type acknowledgeAlertRequest struct {
	Response string `json:"response" binding:"omitempty,oneof=on-my-way contacted-authorities monitoring other"`
	Notes    string `json:"notes" binding:"max=500"`
}

type resolveAlertRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=safe help-arrived false-alarm other"`
	Notes  string `json:"notes" binding:"max=500"`
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

var validatorsOnce sync.Once

// registerValidators 注册 lnglat 校验并让错误字段名使用 json 标签
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("lnglat", validLngLat)
	})
}

func validLngLat(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case models.Coordinates:
		return v.Valid()
	case []float64:
		return len(v) == 2 && models.Coordinates{v[0], v[1]}.Valid()
	}
	return false
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min", "max", "len":
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "lnglat":
		return fmt.Sprintf("%s must be [longitude, latitude] with longitude in [-180, 180] and latitude in [-90, 90]", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}

// bind 解析并校验请求体，失败时已写出响应
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		bindFailed(c, err)
		return false
	}
	return true
}

// bindOptional 请求体可以为空
func bindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		bindFailed(c, err)
		return false
	}
	return true
}

func bindFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		response.Error(c, apperr.Validation("invalid request body"))
		return
	}
	items := make([]response.ErrorItem, 0, len(verrs))
	for _, fe := range verrs {
		items = append(items, response.ErrorItem{
			Code:    apperr.CodeValidation,
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	response.ValidationFailed(c, items)
}
