package api

import (
	"net/http"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "user registered", user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "logged in", loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		User:      user,
	})
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), mustActor(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", user)
}

func (h *Handler) updateKYC(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status models.KYCStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.UpdateKYCStatus(c.Request.Context(), mustActor(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "kyc status updated", user)
}

func (h *Handler) grantRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.GrantRole(c.Request.Context(), mustActor(c), id, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "role granted", user)
}

func (h *Handler) revokeRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	role, err := models.ParseRole(c.Param("role"))
	if err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.RevokeRole(c.Request.Context(), mustActor(c), id, role)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "role revoked", user)
}

func (h *Handler) setActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.SetActive(c.Request.Context(), mustActor(c), id, *req.Active)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "account updated", user)
}
