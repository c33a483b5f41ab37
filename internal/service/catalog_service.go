package service

import (
	"context"
	"errors"
	"strings"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService handles categories and product listings
type CatalogService struct {
	store  CatalogStore
	views  ViewCounter
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. views may be nil, in which
// case views are written straight to the database.
func NewCatalogService(store CatalogStore, views ViewCounter) *CatalogService {
	return &CatalogService{
		store:  store,
		views:  views,
		logger: util.GetLogger(),
	}
}

// CreateCategoryRequest represents a request to add a category
type CreateCategoryRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description,omitempty"`
	ParentID    *int64  `json:"parent_id,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	OrderIndex  int     `json:"order_index"`
}

// CreateCategory adds a category to the tree. Admin only.
func (s *CatalogService) CreateCategory(ctx context.Context, actor models.Actor, req CreateCategoryRequest) (*models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateCategory")
	defer span.End()

	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("name is required")
	}
	if req.ParentID != nil {
		if _, err := s.store.GetCategoryByID(ctx, *req.ParentID); err != nil {
			return nil, fromStore(err, "parent category")
		}
	}

	slug, err := uniqueSlug(ctx, name, s.store.CategorySlugExists)
	if err != nil {
		return nil, unexpected("failed to derive slug", err)
	}

	category := &models.Category{
		Name:        name,
		Slug:        slug,
		Description: req.Description,
		ParentID:    req.ParentID,
		IsActive:    req.IsActive == nil || *req.IsActive,
		OrderIndex:  req.OrderIndex,
	}
	if err := s.store.CreateCategory(ctx, category); err != nil {
		if store.IsConstraint(err, store.ConstraintCategorySlug) {
			return nil, conflict(CodeInvalidInput, "category slug already taken")
		}
		return nil, unexpected("failed to create category", err)
	}
	return category, nil
}

// ListCategories returns the categories, optionally only active ones
func (s *CatalogService) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	categories, err := s.store.ListCategories(ctx, activeOnly)
	if err != nil {
		return nil, unexpected("failed to list categories", err)
	}
	return categories, nil
}

// DeleteCategory removes a category that no product references. Admin only.
func (s *CatalogService) DeleteCategory(ctx context.Context, actor models.Actor, id int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteCategory")
	defer span.End()

	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return ErrCategoryInUse
		}
		return fromStore(err, "category")
	}
	s.logger.Info("Category deleted", zap.Int64("category_id", id), zap.Int64("by", actor.ID))
	return nil
}

// ImageInput is one image in a create/update request
type ImageInput struct {
	URL        string  `json:"url" binding:"required"`
	AltText    *string `json:"alt_text,omitempty"`
	OrderIndex int     `json:"order_index"`
	IsPrimary  bool    `json:"is_primary"`
}

func toImages(in []ImageInput) []models.ProductImage {
	images := make([]models.ProductImage, 0, len(in))
	for _, img := range in {
		images = append(images, models.ProductImage{
			URL:        strings.TrimSpace(img.URL),
			AltText:    img.AltText,
			OrderIndex: img.OrderIndex,
			IsPrimary:  img.IsPrimary,
		})
	}
	return images
}

// CreateProductRequest represents a request to list a product
type CreateProductRequest struct {
	CategoryID    int64                 `json:"category_id" binding:"required"`
	Title         string                `json:"title" binding:"required"`
	Description   string                `json:"description"`
	Price         decimal.Decimal       `json:"price"`
	DiscountPrice *decimal.Decimal      `json:"discount_price,omitempty"`
	StockQuantity *int                  `json:"stock_quantity,omitempty"`
	Status        *models.ProductStatus `json:"status,omitempty"`
	Images        []ImageInput          `json:"images"`
}

// statuses a seller may list a new product in
func sellerCreatable(st models.ProductStatus) bool {
	return st == models.ProductDraft || st == models.ProductPending
}

// status moves a seller may make on their own listing. Going live from draft,
// pending or rejected is a moderation decision left to staff.
var sellerMoves = map[models.ProductStatus][]models.ProductStatus{
	models.ProductDraft:    {models.ProductPending},
	models.ProductPending:  {models.ProductDraft},
	models.ProductRejected: {models.ProductDraft, models.ProductPending},
	models.ProductActive:   {models.ProductInactive},
	models.ProductSold:     {models.ProductActive, models.ProductInactive},
	models.ProductInactive: {models.ProductActive},
}

func sellerMayMove(from, to models.ProductStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range sellerMoves[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// settleStockStatus keeps the sold status in step with the stock counter
func settleStockStatus(p *models.Product) {
	switch {
	case p.Status == models.ProductActive && p.StockQuantity == 0:
		p.Status = models.ProductSold
	case p.Status == models.ProductSold && p.StockQuantity > 0:
		p.Status = models.ProductActive
	}
}

// CreateProduct lists a new product for the calling seller
func (s *CatalogService) CreateProduct(ctx context.Context, actor models.Actor, req CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	seller, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return nil, fromStore(err, "seller")
	}
	if !seller.IsActive || !seller.HasRole(models.RoleSeller) {
		return nil, forbidden("an active seller account is required")
	}

	category, err := s.store.GetCategoryByID(ctx, req.CategoryID)
	if err != nil {
		return nil, fromStore(err, "category")
	}
	if !category.IsActive {
		return nil, invalidf("category %d is not active", category.ID)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalidf("title is required")
	}

	p := &models.Product{
		SellerID:      seller.ID,
		CategoryID:    category.ID,
		Title:         title,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: 1,
		Status:        models.ProductPending,
		Images:        toImages(req.Images),
	}
	if req.DiscountPrice != nil {
		p.DiscountPrice = decimal.NewNullDecimal(*req.DiscountPrice)
	}
	if req.StockQuantity != nil {
		p.StockQuantity = *req.StockQuantity
	}
	if req.Status != nil {
		if !sellerCreatable(*req.Status) && !actor.IsStaff() {
			return nil, invalidf("status %q cannot be set by a seller", *req.Status)
		}
		p.Status = *req.Status
	}
	if err := p.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}
	settleStockStatus(p)

	p.Slug, err = uniqueSlug(ctx, title, s.store.ProductSlugExists)
	if err != nil {
		return nil, unexpected("failed to derive slug", err)
	}

	if err := s.store.CreateProduct(ctx, p); err != nil {
		switch {
		case store.IsConstraint(err, store.ConstraintProductSlug):
			return nil, conflict(CodeInvalidInput, "product slug already taken, retry")
		case errors.Is(err, store.ErrCheckViolation):
			return nil, invalidf("product violates a catalog constraint")
		}
		util.RecordError(span, err)
		return nil, unexpected("failed to create product", err)
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.Int64("product_id", p.ID),
		zap.Int64("seller_id", p.SellerID),
		zap.String("slug", p.Slug))
	return p, nil
}

func canManageProduct(actor *models.Actor, p *models.Product) bool {
	return actor != nil && (actor.ID == p.SellerID || actor.IsStaff())
}

// GetProduct returns a product. Listings that are neither active nor sold are
// visible only to their seller and to staff; actor is nil for anonymous callers.
func (s *CatalogService) GetProduct(ctx context.Context, actor *models.Actor, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct", util.AttrProductID.Int64(id))
	defer span.End()

	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "product")
	}
	if p.Status != models.ProductActive && p.Status != models.ProductSold && !canManageProduct(actor, p) {
		return nil, notFound("product")
	}
	return p, nil
}

// UpdateProductRequest carries the mutable product fields; nil means unchanged
type UpdateProductRequest struct {
	Price         *decimal.Decimal      `json:"price,omitempty"`
	DiscountPrice *decimal.Decimal      `json:"discount_price,omitempty"`
	ClearDiscount bool                  `json:"clear_discount"`
	Description   *string               `json:"description,omitempty"`
	Status        *models.ProductStatus `json:"status,omitempty"`
	StockQuantity *int                  `json:"stock_quantity,omitempty"`
	Images        *[]ImageInput         `json:"images,omitempty"`
}

// UpdateProduct changes price, description, status, stock or images. The
// seller, title, slug and creation time never change. Stock and status are
// written only when the request sets one of them, and only if checkout has not
// moved them since they were read; otherwise ErrProductChanged is returned.
func (s *CatalogService) UpdateProduct(ctx context.Context, actor models.Actor, id int64, req UpdateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct", util.AttrProductID.Int64(id))
	defer span.End()

	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "product")
	}
	if !canManageProduct(&actor, p) {
		return nil, ErrForbidden
	}

	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.ClearDiscount {
		p.DiscountPrice = decimal.NullDecimal{}
	} else if req.DiscountPrice != nil {
		p.DiscountPrice = decimal.NewNullDecimal(*req.DiscountPrice)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}

	var expected *models.Inventory
	if req.StockQuantity != nil || req.Status != nil {
		read := p.Inventory()
		expected = &read
	}
	if req.StockQuantity != nil {
		p.StockQuantity = *req.StockQuantity
	}
	if req.Status != nil {
		if !actor.IsStaff() && !sellerMayMove(p.Status, *req.Status) {
			return nil, invalidf("a seller cannot move a %s listing to %s", p.Status, *req.Status)
		}
		p.Status = *req.Status
	}
	if req.Images != nil {
		p.Images = toImages(*req.Images)
	}
	if err := p.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}
	if expected != nil {
		settleStockStatus(p)
	}

	if err := s.store.UpdateProduct(ctx, p, expected, req.Images != nil); err != nil {
		switch {
		case errors.Is(err, store.ErrStaleState):
			return nil, ErrProductChanged
		case errors.Is(err, store.ErrCheckViolation):
			return nil, invalidf("product violates a catalog constraint")
		}
		return nil, fromStore(err, "product")
	}
	s.logger.Info("Product updated", zap.Int64("product_id", p.ID), zap.Int64("by", actor.ID))
	return p, nil
}

// DeleteProduct soft-deletes a product so past orders keep their reference
func (s *CatalogService) DeleteProduct(ctx context.Context, actor models.Actor, id int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteProduct")
	defer span.End()

	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return fromStore(err, "product")
	}
	if !canManageProduct(&actor, p) {
		return ErrForbidden
	}
	if err := s.store.SoftDeleteProduct(ctx, id); err != nil {
		return fromStore(err, "product")
	}
	s.logger.Info("Product deleted", zap.Int64("product_id", id), zap.Int64("by", actor.ID))
	return nil
}

// ListActive returns one page of active products matching filter
func (s *CatalogService) ListActive(ctx context.Context, filter models.ProductFilter) ([]models.Product, int64, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListActive")
	defer span.End()

	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, 0, invalidf("min_price must not exceed max_price")
	}
	if filter.Sort == "" {
		filter.Sort = models.SortNewest
	}
	filter.Page = filter.Page.Normalize()

	products, total, err := s.store.ListActiveProducts(ctx, filter)
	if err != nil {
		return nil, 0, unexpected("failed to list products", err)
	}
	return products, total, nil
}

// IncrementViews counts one view of a product. Counts are approximate.
func (s *CatalogService) IncrementViews(ctx context.Context, id int64) error {
	if s.views != nil {
		err := s.views.IncrementViews(ctx, id)
		if err == nil {
			return nil
		}
		s.logger.Warn("View buffer unavailable, writing through", zap.Int64("product_id", id), zap.Error(err))
	}
	return s.store.AddProductViews(ctx, id, 1)
}
