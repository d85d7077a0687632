package handlers

import (
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleUpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.Users.UpdateProfile(c.Request.Context(), models.CurrentUser(c).ID, services.UpdateProfileInput{
		Name:            req.Name,
		Phone:           req.Phone,
		Bio:             req.Bio,
		Avatar:          req.Avatar,
		LocationSharing: req.LocationSharing,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "profile updated", u)
}

func (h *Handlers) handleUpdatePrivacy(c *gin.Context) {
	var req privacyRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.Users.UpdatePrivacy(c.Request.Context(), models.CurrentUser(c).ID, services.UpdatePrivacyInput{
		ShareLocationWithCircles:  req.ShareLocationWithCircles,
		AllowCheckInNotifications: req.AllowCheckInNotifications,
		AllowAlertNotifications:   req.AllowAlertNotifications,
		VisibleToCircleMembers:    req.VisibleToCircleMembers,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "privacy updated", u.Privacy)
}

func (h *Handlers) handleUpdateLocation(c *gin.Context) {
	var req locationRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.Users.UpdateLocation(c.Request.Context(), models.CurrentUser(c).ID, *req.Coordinates, req.Address)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location updated", u.LastLocation)
}

func (h *Handlers) handleUpdatePushToken(c *gin.Context) {
	var req pushTokenRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Users.UpdatePushToken(c.Request.Context(), models.CurrentUser(c).ID, req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "push token updated", nil)
}
