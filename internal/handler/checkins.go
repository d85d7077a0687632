package handlers

import (
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleListCheckIns(c *gin.Context) {
	list, err := h.svc.CheckIns.ListMine(c.Request.Context(), models.CurrentUser(c).ID, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleListActiveCheckIns(c *gin.Context) {
	list, err := h.svc.CheckIns.ListActiveMine(c.Request.Context(), models.CurrentUser(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleListOverdueCheckIns(c *gin.Context) {
	list, err := h.svc.CheckIns.ListOverdue(c.Request.Context(), models.CurrentUser(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleListCircleCheckIns(c *gin.Context) {
	list, err := h.svc.CheckIns.ListForCircle(c.Request.Context(), models.CurrentUser(c).ID, c.Param("circleId"), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleCreateCheckIn(c *gin.Context) {
	var req createCheckInRequest
	if !bind(c, &req) {
		return
	}
	ci, err := h.svc.CheckIns.Create(c.Request.Context(), models.CurrentUser(c).ID, services.CreateCheckInInput{
		CircleID:           req.CircleID,
		Location:           req.Location.toLocation(),
		ExpectedReturnTime: req.ExpectedReturnTime,
		Notes:              req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "check-in created", ci)
}

func (h *Handlers) handleGetCheckIn(c *gin.Context) {
	ci, err := h.svc.CheckIns.Get(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", ci)
}

func (h *Handlers) handleCompleteCheckIn(c *gin.Context) {
	var req notesRequest
	if !bindOptional(c, &req) {
		return
	}
	ci, err := h.svc.CheckIns.Complete(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "check-in completed", ci)
}

func (h *Handlers) handleCancelCheckIn(c *gin.Context) {
	ci, err := h.svc.CheckIns.Cancel(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "check-in cancelled", ci)
}

func (h *Handlers) handleCheckInLocation(c *gin.Context) {
	var req locationRequest
	if !bind(c, &req) {
		return
	}
	ci, err := h.svc.CheckIns.UpdateLocation(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), *req.Coordinates, req.Address)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location updated", ci)
}

func (h *Handlers) handleAcknowledgeCheckIn(c *gin.Context) {
	var req acknowledgeCheckInRequest
	if !bindOptional(c, &req) {
		return
	}
	ci, err := h.svc.CheckIns.Acknowledge(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "check-in acknowledged", ci)
}

func (h *Handlers) handleDeleteCheckIn(c *gin.Context) {
	if err := h.svc.CheckIns.Delete(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "check-in deleted", nil)
}
