package api

import (
	"context"
	"net/http"
	"time"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services bundles the application services the transport dispatches to
type Services struct {
	Users    *service.UserService
	Catalog  *service.CatalogService
	Orders   *service.OrderService
	Disputes *service.DisputeService
	Reviews  *service.ReviewService
	Cart     *service.CartService
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	users    *service.UserService
	catalog  *service.CatalogService
	orders   *service.OrderService
	disputes *service.DisputeService
	reviews  *service.ReviewService
	cart     *service.CartService
	tokens   TokenManager
	checks   map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, tokens TokenManager, checks map[string]Pinger) *Handler {
	return &Handler{
		users:    svc.Users,
		catalog:  svc.Catalog,
		orders:   svc.Orders,
		disputes: svc.Disputes,
		reviews:  svc.Reviews,
		cart:     svc.Cart,
		tokens:   tokens,
		checks:   checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(tracingMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(accessLogMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := authRequired(h.tokens, h.users)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)
		v1.GET("/auth/me", authed, h.me)

		users := v1.Group("/users", authed)
		users.PUT("/:id/kyc", h.updateKYC)
		users.POST("/:id/roles", h.grantRole)
		users.DELETE("/:id/roles/:role", h.revokeRole)
		users.PUT("/:id/active", h.setActive)

		v1.GET("/categories", h.listCategories)
		v1.POST("/categories", authed, h.createCategory)
		v1.DELETE("/categories/:id", authed, h.deleteCategory)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", optionalAuth(h.tokens, h.users), h.getProduct)
		v1.GET("/products/:id/reviews", h.listProductReviews)
		v1.POST("/products", authed, h.createProduct)
		v1.PUT("/products/:id", authed, h.updateProduct)
		v1.DELETE("/products/:id", authed, h.deleteProduct)

		orders := v1.Group("/orders", authed)
		orders.POST("", h.createOrder)
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/process", h.processOrder)
		orders.PUT("/:id/payment", h.recordPayment)
		orders.POST("/:id/complete", h.completeOrder)
		orders.POST("/:id/cancel", h.cancelOrder)
		orders.POST("/:id/refund", h.refundOrder)
		orders.GET("/:id/disputable", h.orderDisputable)

		disputes := v1.Group("/disputes", authed)
		disputes.POST("", h.openDispute)
		disputes.GET("", h.listDisputes)
		disputes.GET("/:id", h.getDispute)
		disputes.PUT("/:id", h.updateDisputeStatus)
		disputes.POST("/:id/assign", h.assignDispute)
		disputes.POST("/:id/messages", h.addDisputeMessage)
		disputes.GET("/:id/messages", h.listDisputeMessages)
		disputes.POST("/:id/evidence", h.addDisputeEvidence)
		disputes.GET("/:id/evidence", h.listDisputeEvidence)

		v1.POST("/reviews", authed, h.createReview)

		cart := v1.Group("/cart", authed)
		cart.GET("", h.getCart)
		cart.POST("", h.addCartItem)
		cart.POST("/checkout", h.checkoutCart)
		cart.PUT("/:id", h.updateCartItem)
		cart.DELETE("/:id", h.removeCartItem)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
