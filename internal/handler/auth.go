package handlers

import (
	"strings"

	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// bearerToken 取 Authorization: Bearer 头
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authRequired 校验访问令牌，写入当前用户，限流与幂等按 user_id 区分
func (h *Handlers) authRequired(c *gin.Context) {
	u, err := h.svc.Auth.Authenticate(c.Request.Context(), bearerToken(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(models.UserField, u)
	c.Set("user_id", u.ID)
	c.Next()
}

func (h *Handlers) handleRegister(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.Auth.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "registered", res)
}

func (h *Handlers) handleLogin(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	client := middleware.GetClientInfo(c)
	res, err := h.svc.Auth.Login(c.Request.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		logger.Info("login rejected",
			zap.String("ip", client.IP),
			zap.String("platform", client.Platform),
			zap.Error(err),
		)
		response.Error(c, err)
		return
	}
	logger.Info("login success",
		zap.String("user", res.User.ID),
		zap.String("ip", client.IP),
		zap.String("os", client.OS),
		zap.String("browser", client.Browser),
		zap.Bool("mobile", client.Mobile),
	)
	response.Success(c, "login success", res)
}

func (h *Handlers) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	token, err := h.svc.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "token refreshed", gin.H{"accessToken": token})
}

func (h *Handlers) handleLogout(c *gin.Context) {
	user := models.CurrentUser(c)
	if err := h.svc.Auth.Logout(c.Request.Context(), user.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "logged out", nil)
}

func (h *Handlers) handleMe(c *gin.Context) {
	response.Success(c, "success", models.CurrentUser(c))
}
