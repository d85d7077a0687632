package handlers

import (
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleListAlerts(c *gin.Context) {
	list, err := h.svc.Alerts.ListMine(c.Request.Context(), models.CurrentUser(c).ID, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleListCircleAlerts(c *gin.Context) {
	list, err := h.svc.Alerts.ListForCircle(c.Request.Context(), models.CurrentUser(c).ID, c.Param("circleId"), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleListActiveAlerts(c *gin.Context) {
	list, err := h.svc.Alerts.ListActiveForCircle(c.Request.Context(), models.CurrentUser(c).ID, c.Param("circleId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", list)
}

func (h *Handlers) handleAlertStats(c *gin.Context) {
	stats, err := h.svc.Alerts.StatsForCircle(c.Request.Context(), models.CurrentUser(c).ID, c.Param("circleId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", stats)
}

// handleCreateAlert 发起告警，位置必填
func (h *Handlers) handleCreateAlert(c *gin.Context) {
	var req createAlertRequest
	if !bind(c, &req) {
		return
	}
	alert, err := h.svc.Alerts.Create(c.Request.Context(), models.CurrentUser(c).ID, services.CreateAlertInput{
		CircleID:       req.CircleID,
		Type:           req.Type,
		Severity:       req.Severity,
		Title:          req.Title,
		Message:        req.Message,
		Location:       req.Location.toLocation(),
		RelatedCheckIn: req.RelatedCheckIn,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "alert raised", alert)
}

func (h *Handlers) handleGetAlert(c *gin.Context) {
	alert, err := h.svc.Alerts.Get(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", alert)
}

func (h *Handlers) handleAcknowledgeAlert(c *gin.Context) {
	var req acknowledgeAlertRequest
	if !bindOptional(c, &req) {
		return
	}
	alert, err := h.svc.Alerts.Acknowledge(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Response, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert acknowledged", alert)
}

func (h *Handlers) handleResolveAlert(c *gin.Context) {
	var req resolveAlertRequest
	if !bindOptional(c, &req) {
		return
	}
	alert, err := h.svc.Alerts.Resolve(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Status, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert resolved", alert)
}

func (h *Handlers) handleCancelAlert(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	alert, err := h.svc.Alerts.Cancel(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert cancelled", alert)
}

func (h *Handlers) handleFalseAlarm(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	alert, err := h.svc.Alerts.MarkFalseAlarm(c.Request.Context(), models.CurrentUser(c).ID, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert marked as false alarm", alert)
}
