package api

import (
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) openDispute(c *gin.Context) {
	var req service.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dispute, err := h.disputes.OpenDispute(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "dispute opened", dispute)
}

func (h *Handler) listDisputes(c *gin.Context) {
	var filter models.DisputeListFilter
	var ok bool
	if filter.AssignedTo, ok = queryInt64(c, "assigned_to"); !ok {
		return
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseDisputeStatus(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Status = &status
	}
	filter.Page = pageFromQuery(c)

	disputes, total, err := h.disputes.ListDisputes(c.Request.Context(), mustActor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, disputes, filter.Page, total)
}

func (h *Handler) getDispute(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputes.GetDispute(c.Request.Context(), mustActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", dispute)
}

func (h *Handler) updateDisputeStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dispute, err := h.disputes.UpdateStatus(c.Request.Context(), mustActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "dispute updated", dispute)
}

func (h *Handler) assignDispute(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		AssigneeID int64 `json:"assignee_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dispute, err := h.disputes.Assign(c.Request.Context(), mustActor(c), id, req.AssigneeID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "dispute assigned", dispute)
}

func (h *Handler) addDisputeMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.disputes.AddMessage(c.Request.Context(), mustActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "message added", msg)
}

func (h *Handler) listDisputeMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.disputes.ListMessages(c.Request.Context(), mustActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", messages)
}

func (h *Handler) addDisputeEvidence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.AddEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	evidence, err := h.disputes.AddEvidence(c.Request.Context(), mustActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "evidence added", evidence)
}

func (h *Handler) listDisputeEvidence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	evidence, err := h.disputes.ListEvidence(c.Request.Context(), mustActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", evidence)
}
