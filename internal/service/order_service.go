package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultOrderNumberAttempts = 5
	idempotencyLockTTL         = 30 * time.Second
	idempotencyKeyTTL          = 24 * time.Hour
)

// OrderService handles order business logic
type OrderService struct {
	store          OrderStore
	guard          RequestGuard
	eventPublisher EventPublisher
	fees           FeePolicy
	logger         *zap.Logger
	now            func() time.Time
	numberAttempts int
}

// NewOrderService creates a new order service. guard may be nil, in which
// case idempotency relies on the database alone.
func NewOrderService(
	store OrderStore,
	guard RequestGuard,
	eventPublisher EventPublisher,
	fees FeePolicy,
	orderNumberAttempts int,
) *OrderService {
	if orderNumberAttempts <= 0 {
		orderNumberAttempts = defaultOrderNumberAttempts
	}
	return &OrderService{
		store:          store,
		guard:          guard,
		eventPublisher: eventPublisher,
		fees:           fees,
		logger:         util.GetLogger(),
		now:            time.Now,
		numberAttempts: orderNumberAttempts,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod  string             `json:"payment_method" binding:"required"`
	Notes          *string            `json:"notes,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// mergeItems validates quantities and folds repeated products into one line
func mergeItems(items []OrderItemRequest) ([]OrderItemRequest, error) {
	if len(items) == 0 {
		return nil, invalidf("an order needs at least one item")
	}
	qty := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, invalidf("invalid product id %d", it.ProductID)
		}
		if it.Quantity < 1 {
			return nil, invalidf("quantity for product %d must be at least 1", it.ProductID)
		}
		if _, seen := qty[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	merged := make([]OrderItemRequest, 0, len(order))
	for _, id := range order {
		merged = append(merged, OrderItemRequest{ProductID: id, Quantity: qty[id]})
	}
	return merged, nil
}

func productUnavailable(productID int64) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeProductUnavailable,
		Message: fmt.Sprintf("product %d is unavailable in the requested quantity", productID),
	}
}

// CreateOrder snapshots the requested products into a new pending order and
// takes their stock in the same transaction. Losing a stock race is retried
// once against fresh product state before failing with ProductUnavailable.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, req CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", util.AttrActorID.Int64(actor.ID))
	defer span.End()

	items, err := mergeItems(req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, invalidf("payment_method is required")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.findIdempotent(ctx, actor, key)
		if err != nil || existing != nil {
			return existing, err
		}

		if s.guard != nil {
			lockKey := "order:" + key
			token, err := s.guard.AcquireLock(ctx, lockKey, idempotencyLockTTL)
			switch {
			case err != nil:
				// the unique column still rejects duplicates
				s.logger.Warn("Idempotency lock unavailable", zap.String("idempotency_key", key), zap.Error(err))
			case token == "":
				return nil, ErrRequestInProgress
			default:
				defer func() {
					if err := s.guard.ReleaseLock(context.Background(), lockKey, token); err != nil {
						s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
					}
				}()
				existing, err := s.findIdempotent(ctx, actor, key)
				if err != nil || existing != nil {
					return existing, err
				}
			}
		}
	}

	buyer, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return nil, fromStore(err, "buyer")
	}
	if !buyer.IsActive {
		return nil, forbidden("account is suspended")
	}

	start := time.Now()
	defer func() { util.OrderCreateLatency.Observe(time.Since(start).Seconds()) }()

	var order *models.Order
	for attempt := 0; ; attempt++ {
		order, err = s.buildOrder(ctx, buyer, items, req, key)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("unavailable").Inc()
			return nil, err
		}

		err = s.insertWithNumber(ctx, order)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			util.StockConflictsTotal.Inc()
			if attempt == 0 {
				s.logger.Info("Stock race lost, retrying", zap.Int64("buyer_id", buyer.ID), zap.Error(err))
				continue
			}
			util.OrdersFailedTotal.WithLabelValues("stock_conflict").Inc()
			return nil, &Error{Kind: KindConflict, Code: CodeProductUnavailable, Message: "product unavailable", Err: err}
		}
		if key != "" && store.IsConstraint(err, store.ConstraintOrderIdempotency) {
			existing, ferr := s.findIdempotent(ctx, actor, key)
			if ferr == nil && existing == nil {
				ferr = unexpected("idempotent order vanished", err)
			}
			return existing, ferr
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, svcErr
		}
		return nil, unexpected("failed to create order", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("buyer_id", order.BuyerID),
		zap.Int64("seller_id", order.SellerID),
		zap.String("total", order.Total.StringFixed(2)))

	if key != "" && s.guard != nil {
		if err := s.guard.SetIdempotencyKey(ctx, key, order.ID, idempotencyKeyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	s.publish(ctx, models.EventTypeOrderCreated, order)
	return order, nil
}

// findIdempotent returns the order previously created with key, if any
func (s *OrderService) findIdempotent(ctx context.Context, actor models.Actor, key string) (*models.Order, error) {
	var existing *models.Order
	if s.guard != nil {
		if v, err := s.guard.GetIdempotencyKey(ctx, key); err == nil && v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				if o, err := s.store.GetOrderByID(ctx, id); err == nil {
					existing = o
				}
			}
		}
	}
	if existing == nil {
		o, err := s.store.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, unexpected("failed to check idempotency", err)
		}
		existing = o
	}
	if existing == nil {
		return nil, nil
	}
	if existing.BuyerID != actor.ID {
		return nil, invalidf("idempotency key already used")
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return existing, nil
}

// buildOrder loads current product state and computes the order lines and money fields
func (s *OrderService) buildOrder(ctx context.Context, buyer *models.User, items []OrderItemRequest, req CreateOrderRequest, key string) (*models.Order, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, unexpected("failed to load products", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	var sellerID int64
	lines := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok || !p.IsPurchasable() || p.StockQuantity < it.Quantity {
			return nil, productUnavailable(it.ProductID)
		}
		if p.SellerID == buyer.ID {
			return nil, invalidf("cannot buy your own product %d", p.ID)
		}
		if sellerID == 0 {
			sellerID = p.SellerID
		} else if p.SellerID != sellerID {
			return nil, invalidf("all items of an order must come from the same seller")
		}
		lines = append(lines, models.NewOrderItem(p, it.Quantity))
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	subtotal := models.Subtotal(lines)
	fee := s.fees.ServiceFee(subtotal)
	email := buyer.Email
	order := &models.Order{
		BuyerID:       buyer.ID,
		SellerID:      sellerID,
		Subtotal:      subtotal,
		ServiceFee:    fee,
		Total:         subtotal.Add(fee),
		Status:        models.OrderPending,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		PaymentStatus: models.PaymentPending,
		BuyerEmail:    &email,
		Notes:         req.Notes,
		Items:         lines,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}
	return order, nil
}

// insertWithNumber allocates an unused order number and persists the order,
// drawing a fresh number when a concurrent order takes the same one.
func (s *OrderService) insertWithNumber(ctx context.Context, order *models.Order) error {
	for i := 0; i < s.numberAttempts; i++ {
		number := newOrderNumber()
		taken, err := s.store.OrderNumberExists(ctx, number)
		if err != nil {
			return unexpected("failed to check order number", err)
		}
		if taken {
			continue
		}

		order.OrderNumber = number
		err = s.store.CreateOrderTx(ctx, order)
		if store.IsConstraint(err, store.ConstraintOrderNumber) {
			continue
		}
		return err
	}
	return unexpected("could not allocate a unique order number", nil)
}

// GetOrder returns an order to one of its parties or to staff
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", util.AttrOrderID.Int64(orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) && !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return order, nil
}

// ListOrders returns a page of orders. Non-staff callers only see orders they
// bought or sold.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor, filter models.OrderListFilter) ([]models.Order, int64, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if !actor.IsStaff() {
		if (filter.BuyerID != nil && *filter.BuyerID != actor.ID) || (filter.SellerID != nil && *filter.SellerID != actor.ID) {
			return nil, 0, ErrForbidden
		}
		if filter.BuyerID == nil && filter.SellerID == nil {
			filter.BuyerID = &actor.ID
			filter.SellerID = &actor.ID
		}
	}
	filter.Page = filter.Page.Normalize()

	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, unexpected("failed to list orders", err)
	}
	return orders, total, nil
}

// MarkProcessing moves a pending order to processing. Seller or staff.
func (s *OrderService) MarkProcessing(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkProcessing", util.AttrOrderID.Int64(orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if order.SellerID != actor.ID && !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.transition(ctx, order, models.OrderProcessing, false, false)
}

// RecordPaymentRequest carries the outcome reported by the payment provider
type RecordPaymentRequest struct {
	Status        models.PaymentStatus `json:"status" binding:"required"`
	TransactionID *string              `json:"transaction_id,omitempty"`
}

// RecordPayment settles a pending payment as paid or failed. Staff only.
func (s *OrderService) RecordPayment(ctx context.Context, actor models.Actor, orderID int64, req RecordPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RecordPayment", util.AttrOrderID.Int64(orderID))
	defer span.End()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	if req.Status != models.PaymentPaid && req.Status != models.PaymentFailed {
		return nil, invalidf("payment status must be paid or failed")
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if order.Status != models.OrderPending && order.Status != models.OrderProcessing {
		return nil, conflict(CodeInvalidTransition, "payment cannot be recorded on a "+string(order.Status)+" order")
	}
	if !order.PaymentStatus.CanTransitionTo(req.Status) {
		return nil, conflict(CodeInvalidTransition,
			fmt.Sprintf("payment cannot move from %s to %s", order.PaymentStatus, req.Status))
	}

	updated, err := s.store.UpdatePaymentStatus(ctx, orderID, order.PaymentStatus, req.Status, req.TransactionID)
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, conflict(CodeInvalidTransition, "payment changed concurrently")
		}
		return nil, fromStore(err, "order")
	}

	util.PaymentsRecordedTotal.WithLabelValues(string(req.Status)).Inc()
	s.logger.Info("Payment recorded",
		zap.Int64("order_id", orderID),
		zap.String("payment_status", string(req.Status)))
	if req.Status == models.PaymentPaid {
		s.publish(ctx, models.EventTypeOrderPaid, updated)
	}
	return updated, nil
}

// MarkCompleted completes a processing, paid order. Either party or staff.
func (s *OrderService) MarkCompleted(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkCompleted", util.AttrOrderID.Int64(orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) && !actor.IsStaff() {
		return nil, ErrForbidden
	}
	if order.Status.CanTransitionTo(models.OrderCompleted) {
		if err := models.CheckOrderState(models.OrderCompleted, order.PaymentStatus); err != nil {
			return nil, conflict(CodeInvalidTransition, "order is not paid")
		}
	}
	return s.transition(ctx, order, models.OrderCompleted, false, false)
}

// Cancel cancels a pending or processing order, returns its stock and
// refunds a payment already taken. Either party or staff.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel", util.AttrOrderID.Int64(orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) && !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.transition(ctx, order, models.OrderCancelled, true, true)
}

// Refund refunds a completed order. Staff only.
func (s *OrderService) Refund(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Refund", util.AttrOrderID.Int64(orderID))
	defer span.End()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	return s.transition(ctx, order, models.OrderRefunded, true, false)
}

// CanBeDisputed reports whether a dispute may be opened against the order now
func (s *OrderService) CanBeDisputed(ctx context.Context, actor models.Actor, orderID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CanBeDisputed", util.AttrOrderID.Int64(orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) && !actor.IsStaff() {
		return false, ErrForbidden
	}
	return canBeDisputed(ctx, s.store, order)
}

type activeDisputeChecker interface {
	HasActiveDispute(ctx context.Context, orderID int64) (bool, error)
}

func disputableStatus(st models.OrderStatus) bool {
	return st == models.OrderProcessing || st == models.OrderCompleted
}

func canBeDisputed(ctx context.Context, checker activeDisputeChecker, order *models.Order) (bool, error) {
	if !disputableStatus(order.Status) {
		return false, nil
	}
	active, err := checker.HasActiveDispute(ctx, order.ID)
	if err != nil {
		return false, unexpected("failed to check disputes", err)
	}
	return !active, nil
}

var orderEventTypes = map[models.OrderStatus]string{
	models.OrderProcessing: models.EventTypeOrderProcessing,
	models.OrderCompleted:  models.EventTypeOrderCompleted,
	models.OrderCancelled:  models.EventTypeOrderCancelled,
	models.OrderRefunded:   models.EventTypeOrderRefunded,
}

// transition moves order to `to` with a compare-and-swap on its current status
func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus, refundPayment, restoreStock bool) (*models.Order, error) {
	if !order.Status.CanTransitionTo(to) {
		return nil, conflict(CodeInvalidTransition,
			fmt.Sprintf("order cannot move from %s to %s", order.Status, to))
	}

	updated, err := s.store.TransitionOrder(ctx, models.OrderTransition{
		OrderID:       order.ID,
		From:          []models.OrderStatus{order.Status},
		To:            to,
		At:            s.now(),
		RefundPayment: refundPayment,
		RestoreStock:  restoreStock,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStaleState):
			return nil, conflict(CodeInvalidTransition, "order changed concurrently, reload and retry")
		case errors.Is(err, store.ErrCheckViolation):
			return nil, conflict(CodeInvalidTransition, "order state violates a payment constraint")
		}
		return nil, fromStore(err, "order")
	}

	util.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", updated.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(to)),
		zap.String("payment_status", string(updated.PaymentStatus)))

	s.publish(ctx, orderEventTypes[to], updated)
	return updated, nil
}

// publish emits an order event. Delivery is best effort and never fails the operation.
func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order) {
	if s.eventPublisher == nil {
		return
	}
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now(),
		},
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		Subtotal:      order.Subtotal,
		Total:         order.Total,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Items:         models.OrderItemsData(order.Items),
	}
	if err := s.eventPublisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
