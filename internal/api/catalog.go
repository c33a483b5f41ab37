package api

import (
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context(), c.Query("all") != "true")
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", categories)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req service.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	category, err := h.catalog.CreateCategory(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "category created", category)
}

func (h *Handler) deleteCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteCategory(c.Request.Context(), mustActor(c), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "category deleted", nil)
}

func queryDecimal(c *gin.Context, name string) (*decimal.Decimal, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		abortWith(c, http.StatusBadRequest, service.CodeInvalidInput, "invalid "+name)
		return nil, false
	}
	return &d, true
}

func (h *Handler) listProducts(c *gin.Context) {
	var filter models.ProductFilter
	var ok bool
	if filter.CategoryID, ok = queryInt64(c, "category_id"); !ok {
		return
	}
	if filter.MinPrice, ok = queryDecimal(c, "min_price"); !ok {
		return
	}
	if filter.MaxPrice, ok = queryDecimal(c, "max_price"); !ok {
		return
	}
	sort, err := models.ParseProductSort(c.Query("sort"))
	if err != nil {
		badRequest(c, err)
		return
	}
	filter.Sort = sort
	filter.Search = c.Query("q")
	filter.Page = pageFromQuery(c)

	products, total, err := h.catalog.ListActive(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, products, filter.Page, total)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var actor *models.Actor
	if a, ok := actorFrom(c); ok {
		actor = &a
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.catalog.IncrementViews(c.Request.Context(), id); err != nil {
		util.FromContext(c.Request.Context()).Warn("Failed to count view", zap.Int64("product_id", id), zap.Error(err))
	}
	respond(c, http.StatusOK, "", product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "product created", product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), mustActor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "product updated", product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), mustActor(c), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "product deleted", nil)
}

func (h *Handler) listProductReviews(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	page := pageFromQuery(c)

	reviews, total, err := h.reviews.ListProductReviews(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, reviews, page, total)
}

func (h *Handler) createReview(c *gin.Context) {
	var req service.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	review, err := h.reviews.CreateReview(c.Request.Context(), mustActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "review created", review)
}
