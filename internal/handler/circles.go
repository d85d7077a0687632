package handlers

import (
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleListCircles(c *gin.Context) {
	circles, err := h.svc.Circles.ListMine(c.Request.Context(), models.CurrentUser(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", circles)
}

func (h *Handlers) handleCreateCircle(c *gin.Context) {
	var req createCircleRequest
	if !bind(c, &req) {
		return
	}
	circle, err := h.svc.Circles.Create(c.Request.Context(), models.CurrentUser(c).ID, services.CreateCircleInput{
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings.full(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "circle created", circle)
}

func (h *Handlers) handleJoinCircle(c *gin.Context) {
	var req joinCircleRequest
	if !bind(c, &req) {
		return
	}
	circle, err := h.svc.Circles.JoinByCode(c.Request.Context(), models.CurrentUser(c).ID, req.InviteCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "joined circle", circle)
}

func (h *Handlers) handleGetCircle(c *gin.Context) {
	circle, err := h.svc.Circles.Get(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", circle)
}

func (h *Handlers) handleUpdateCircle(c *gin.Context) {
	var req updateCircleRequest
	if !bind(c, &req) {
		return
	}
	circle, err := h.svc.Circles.Update(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), services.UpdateCircleInput{
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings.patch(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "circle updated", circle)
}

func (h *Handlers) handleDeleteCircle(c *gin.Context) {
	if err := h.svc.Circles.Delete(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "circle deleted", nil)
}

func (h *Handlers) handleListMembers(c *gin.Context) {
	members, err := h.svc.Circles.Members(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", members)
}

func (h *Handlers) handleInvite(c *gin.Context) {
	var req inviteRequest
	if !bind(c, &req) {
		return
	}
	invite, err := h.svc.Circles.Invite(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "invitation sent", invite)
}

func (h *Handlers) handleAcceptInvite(c *gin.Context) {
	circle, err := h.svc.Circles.AcceptInvite(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "invitation accepted", circle)
}

func (h *Handlers) handleLeaveCircle(c *gin.Context) {
	if err := h.svc.Circles.Leave(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "left circle", nil)
}

func (h *Handlers) handleRemoveMember(c *gin.Context) {
	err := h.svc.Circles.RemoveMember(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "member removed", nil)
}

func (h *Handlers) handleUpdateMemberRole(c *gin.Context) {
	var req roleRequest
	if !bind(c, &req) {
		return
	}
	circle, err := h.svc.Circles.UpdateMemberRole(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), c.Param("userId"), req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "role updated", circle)
}

func (h *Handlers) handleRegenerateInviteCode(c *gin.Context) {
	circle, err := h.svc.Circles.RegenerateInviteCode(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "invite code regenerated", gin.H{"inviteCode": circle.InviteCode})
}
