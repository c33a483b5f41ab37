package api

import (
	"net/http"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.cart.GetCart(c.Request.Context(), mustActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.cart.AddItem(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "item added to cart", item)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.cart.UpdateItem(c.Request.Context(), mustActor(c), id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "cart item updated", item)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.cart.RemoveItem(c.Request.Context(), mustActor(c), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "cart item removed", nil)
}

func (h *Handler) checkoutCart(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.cart.Checkout(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "order created", order)
}
