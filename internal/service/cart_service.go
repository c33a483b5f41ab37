package service

import (
	"context"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// OrderPlacer is satisfied by *OrderService
type OrderPlacer interface {
	CreateOrder(ctx context.Context, actor models.Actor, req CreateOrderRequest) (*models.Order, error)
}

// CartService keeps the working cart a buyer checks out from
type CartService struct {
	store  CartStore
	orders OrderPlacer
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartStore, orders OrderPlacer) *CartService {
	return &CartService{
		store:  store,
		orders: orders,
		logger: util.GetLogger(),
	}
}

// GetCart returns the caller's cart with its total
func (s *CartService) GetCart(ctx context.Context, actor models.Actor) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart", util.AttrActorID.Int64(actor.ID))
	defer span.End()

	items, err := s.store.ListCartItems(ctx, actor.ID)
	if err != nil {
		return nil, unexpected("failed to load cart", err)
	}
	return models.NewCart(items), nil
}

// AddCartItemRequest puts a product in the cart
type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// AddItem adds an active product to the cart. Adding a product already in the
// cart raises the quantity of the existing line.
func (s *CartService) AddItem(ctx context.Context, actor models.Actor, req AddCartItemRequest) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem",
		util.AttrActorID.Int64(actor.ID), util.AttrProductID.Int64(req.ProductID))
	defer span.End()

	if req.Quantity < 1 {
		return nil, invalidf("quantity must be at least 1")
	}
	p, err := s.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, fromStore(err, "product")
	}
	if p.Status != models.ProductActive {
		return nil, notFound("product")
	}
	if p.SellerID == actor.ID {
		return nil, invalidf("cannot add your own product %d", p.ID)
	}

	item, err := s.store.AddCartItem(ctx, actor.ID, p.ID, req.Quantity)
	if err != nil {
		return nil, fromStore(err, "product")
	}
	s.logger.Debug("Cart item added",
		zap.Int64("user_id", actor.ID),
		zap.Int64("product_id", p.ID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateItem sets the quantity of one of the caller's cart lines
func (s *CartService) UpdateItem(ctx context.Context, actor models.Actor, itemID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem", util.AttrActorID.Int64(actor.ID))
	defer span.End()

	if quantity < 1 {
		return nil, invalidf("quantity must be at least 1")
	}
	item, err := s.store.SetCartItemQuantity(ctx, actor.ID, itemID, quantity)
	if err != nil {
		return nil, fromStore(err, "cart item")
	}
	return item, nil
}

// RemoveItem deletes one of the caller's cart lines
func (s *CartService) RemoveItem(ctx context.Context, actor models.Actor, itemID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem", util.AttrActorID.Int64(actor.ID))
	defer span.End()

	if err := s.store.RemoveCartItem(ctx, actor.ID, itemID); err != nil {
		return fromStore(err, "cart item")
	}
	return nil
}

// CheckoutRequest turns the cart into an order. SellerID picks which seller's
// lines to order when the cart holds more than one seller.
type CheckoutRequest struct {
	PaymentMethod  string  `json:"payment_method" binding:"required"`
	Notes          *string `json:"notes,omitempty"`
	SellerID       *int64  `json:"seller_id,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// Checkout places one order for the cart lines of a single seller, then drops
// those lines from the cart. Orders are single-seller, so a mixed cart needs
// SellerID.
func (s *CartService) Checkout(ctx context.Context, actor models.Actor, req CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Checkout", util.AttrActorID.Int64(actor.ID))
	defer span.End()

	items, err := s.store.ListCartItems(ctx, actor.ID)
	if err != nil {
		return nil, unexpected("failed to load cart", err)
	}
	cart := models.NewCart(items)
	if cart.Count == 0 {
		util.CartCheckoutsTotal.WithLabelValues("empty").Inc()
		return nil, invalidf("cart is empty")
	}

	var sellerID int64
	switch sellers := cart.Sellers(); {
	case req.SellerID != nil:
		sellerID = *req.SellerID
	case len(sellers) == 1:
		sellerID = sellers[0]
	default:
		return nil, invalidf("cart holds items from %d sellers, choose one with seller_id", len(sellers))
	}

	var lines []OrderItemRequest
	var productIDs []int64
	for _, it := range cart.Items {
		if it.SellerID != sellerID {
			continue
		}
		lines = append(lines, OrderItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		productIDs = append(productIDs, it.ProductID)
	}
	if len(lines) == 0 {
		return nil, invalidf("cart holds nothing from seller %d", sellerID)
	}

	order, err := s.orders.CreateOrder(ctx, actor, CreateOrderRequest{
		Items:          lines,
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		util.CartCheckoutsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	util.CartCheckoutsTotal.WithLabelValues("ordered").Inc()

	// the order stands even if the cart cannot be trimmed
	if err := s.store.RemoveCartProducts(ctx, actor.ID, productIDs); err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Failed to clear ordered cart lines",
			zap.Int64("user_id", actor.ID),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	s.logger.Info("Cart checked out",
		zap.Int64("user_id", actor.ID),
		zap.Int64("order_id", order.ID),
		zap.Int("lines", len(lines)))
	return order, nil
}
