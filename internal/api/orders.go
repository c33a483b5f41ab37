package api

import (
	"context"
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "order created", order)
}

func (h *Handler) listOrders(c *gin.Context) {
	var filter models.OrderListFilter
	var ok bool
	if filter.BuyerID, ok = queryInt64(c, "buyer_id"); !ok {
		return
	}
	if filter.SellerID, ok = queryInt64(c, "seller_id"); !ok {
		return
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseOrderStatus(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Status = &status
	}
	filter.Page = pageFromQuery(c)

	orders, total, err := h.orders.ListOrders(c.Request.Context(), mustActor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, orders, filter.Page, total)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), mustActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", order)
}

type orderAction func(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error)

// orderTransition adapts a lifecycle operation to a handler
func (h *Handler) orderTransition(c *gin.Context, action orderAction, message string) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := action(c.Request.Context(), mustActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, message, order)
}

func (h *Handler) processOrder(c *gin.Context) {
	h.orderTransition(c, h.orders.MarkProcessing, "order processing")
}

func (h *Handler) completeOrder(c *gin.Context) {
	h.orderTransition(c, h.orders.MarkCompleted, "order completed")
}

func (h *Handler) cancelOrder(c *gin.Context) {
	h.orderTransition(c, h.orders.Cancel, "order cancelled")
}

func (h *Handler) refundOrder(c *gin.Context) {
	h.orderTransition(c, h.orders.Refund, "order refunded")
}

func (h *Handler) recordPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.RecordPayment(c.Request.Context(), mustActor(c), orderID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "payment recorded", order)
}

func (h *Handler) orderDisputable(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	disputable, err := h.orders.CanBeDisputed(c.Request.Context(), mustActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", gin.H{"order_id": orderID, "disputable": disputable})
}
