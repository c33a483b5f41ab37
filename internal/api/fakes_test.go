package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/shopspring/decimal"
)

var errNotStubbed = errors.New("not stubbed")

// marketTable backs the order, dispute, review and cart services in handler
// tests. Operations no test reaches report errNotStubbed.
type marketTable struct {
	*userTable

	mu       sync.Mutex
	nextID   int64
	products map[int64]*models.Product
	orders   map[int64]*models.Order
	disputes map[int64]*models.Dispute
	reviews  []models.Review
	cart     map[int64]*models.CartItem

	// staleDisputeCheck makes HasActiveDispute miss disputes opened by a
	// concurrent request, leaving the unique index to catch them
	staleDisputeCheck bool
}

func newMarketTable(users *userTable) *marketTable {
	return &marketTable{
		userTable: users,
		nextID:    100,
		products:  map[int64]*models.Product{},
		orders:    map[int64]*models.Order{},
		disputes:  map[int64]*models.Dispute{},
		cart:      map[int64]*models.CartItem{},
	}
}

func (m *marketTable) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *marketTable) addProduct(sellerID int64, price string, stock int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{
		ID:            m.id(),
		SellerID:      sellerID,
		Title:         "Steam Key",
		Slug:          "steam-key",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Status:        models.ProductActive,
	}
	m.products[p.ID] = p
	c := *p
	return &c
}

// addOrder stores a completed, paid order of one unit of p
func (m *marketTable) addOrder(buyerID int64, p *models.Product) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := &models.Order{
		ID:            m.id(),
		OrderNumber:   "ORD-TEST",
		BuyerID:       buyerID,
		SellerID:      p.SellerID,
		Subtotal:      p.Price,
		Total:         p.Price,
		Status:        models.OrderCompleted,
		PaymentMethod: "card",
		PaymentStatus: models.PaymentPaid,
		Items:         []models.OrderItem{models.NewOrderItem(p, 1)},
	}
	m.orders[o.ID] = o
	c := *o
	return &c
}

func (m *marketTable) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *marketTable) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *marketTable) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *marketTable) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return nil, nil
}

func (m *marketTable) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	return false, nil
}

func (m *marketTable) CreateOrderTx(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range order.Items {
		p, ok := m.products[it.ProductID]
		if !ok || !p.IsPurchasable() || p.StockQuantity < it.Quantity {
			return store.ErrInsufficientStock
		}
	}
	for _, it := range order.Items {
		m.products[it.ProductID].StockQuantity -= it.Quantity
	}
	order.ID = m.id()
	order.CreatedAt = time.Now()
	c := *order
	m.orders[order.ID] = &c
	return nil
}

func (m *marketTable) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if (filter.BuyerID != nil && o.BuyerID == *filter.BuyerID) || (filter.SellerID != nil && o.SellerID == *filter.SellerID) {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *marketTable) TransitionOrder(ctx context.Context, t models.OrderTransition) (*models.Order, error) {
	return nil, errNotStubbed
}

func (m *marketTable) UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, transactionID *string) (*models.Order, error) {
	return nil, errNotStubbed
}

func (m *marketTable) hasActiveDispute(orderID int64) bool {
	for _, d := range m.disputes {
		if d.OrderID == orderID && d.Status.IsActive() {
			return true
		}
	}
	return false
}

func (m *marketTable) HasActiveDispute(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleDisputeCheck {
		return false, nil
	}
	return m.hasActiveDispute(orderID), nil
}

func (m *marketTable) CreateDispute(ctx context.Context, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasActiveDispute(d.OrderID) {
		return &store.ConstraintError{Kind: store.ErrDuplicate, Constraint: store.ConstraintOneActiveDispute}
	}
	d.ID = m.id()
	d.CreatedAt = time.Now()
	c := *d
	m.disputes[d.ID] = &c
	return nil
}

func (m *marketTable) GetDisputeByID(ctx context.Context, id int64) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *marketTable) ListDisputes(ctx context.Context, filter models.DisputeListFilter) ([]models.Dispute, int64, error) {
	return nil, 0, errNotStubbed
}

func (m *marketTable) UpdateDisputeStatus(ctx context.Context, id int64, from, to models.DisputeStatus, resolution *string, at time.Time) (*models.Dispute, error) {
	return nil, errNotStubbed
}

func (m *marketTable) AssignDispute(ctx context.Context, id, assignee int64) (*models.Dispute, error) {
	return nil, errNotStubbed
}

func (m *marketTable) AddDisputeMessage(ctx context.Context, msg *models.DisputeMessage) error {
	return errNotStubbed
}

func (m *marketTable) AddDisputeEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	return errNotStubbed
}

func (m *marketTable) ListDisputeMessages(ctx context.Context, disputeID int64, includeInternal bool) ([]models.DisputeMessage, error) {
	return nil, errNotStubbed
}

func (m *marketTable) ListDisputeEvidence(ctx context.Context, disputeID int64) ([]models.DisputeEvidence, error) {
	return nil, errNotStubbed
}

func (m *marketTable) ReviewExists(ctx context.Context, userID, productID, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.UserID == userID && r.ProductID == productID && r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *marketTable) CreateReview(ctx context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = time.Now()
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *marketTable) ListProductReviews(ctx context.Context, productID int64, page models.Page) ([]models.Review, int64, error) {
	return nil, 0, errNotStubbed
}

func (m *marketTable) ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.CartItem{}
	for _, c := range m.cart {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *marketTable) AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[productID]
	for _, c := range m.cart {
		if c.UserID == userID && c.ProductID == productID {
			c.Quantity += quantity
			cp := *c
			return &cp, nil
		}
	}
	c := &models.CartItem{
		ID:            m.id(),
		UserID:        userID,
		ProductID:     productID,
		Quantity:      quantity,
		SellerID:      p.SellerID,
		UnitPrice:     p.UnitPrice(),
		ProductStatus: p.Status,
		StockQuantity: p.StockQuantity,
	}
	m.cart[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *marketTable) SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cart[itemID]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	c.Quantity = quantity
	cp := *c
	return &cp, nil
}

func (m *marketTable) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cart[itemID]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.cart, itemID)
	return nil
}

func (m *marketTable) RemoveCartProducts(ctx context.Context, userID int64, productIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.cart {
		for _, pid := range productIDs {
			if c.UserID == userID && c.ProductID == pid {
				delete(m.cart, id)
			}
		}
	}
	return nil
}
