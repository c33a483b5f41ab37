package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store. It keeps the same
// compare-and-swap and constraint semantics the SQL relies on.
type memStore struct {
	mu sync.Mutex

	nextID     int64
	users      map[int64]*models.User
	categories map[int64]*models.Category
	products   map[int64]*models.Product
	orders     map[int64]*models.Order
	disputes   map[int64]*models.Dispute
	messages   []models.DisputeMessage
	evidence   []models.DisputeEvidence
	reviews    []models.Review
	cart       map[int64]*models.CartItem
	processed  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[int64]*models.User{},
		categories: map[int64]*models.Category{},
		products:   map[int64]*models.Product{},
		orders:     map[int64]*models.Order{},
		disputes:   map[int64]*models.Dispute{},
		cart:       map[int64]*models.CartItem{},
		processed:  map[string]bool{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func duplicate(constraint string) error {
	return &store.ConstraintError{Kind: store.ErrDuplicate, Constraint: constraint}
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Roles = append(models.Roles{}, u.Roles...)
	return &c
}

func copyProduct(p *models.Product) *models.Product {
	c := *p
	c.Images = append([]models.ProductImage{}, p.Images...)
	return &c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem{}, o.Items...)
	return &c
}

func copyDispute(d *models.Dispute) *models.Dispute {
	c := *d
	return &c
}

// users

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return duplicate(store.ConstraintUserEmail)
		}
	}
	user.ID = m.id()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) AddUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Roles = u.Roles.With(role)
	return copyUser(u), nil
}

func (m *memStore) RemoveUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Roles = u.Roles.Without(role)
	return copyUser(u), nil
}

func (m *memStore) SetUserActive(ctx context.Context, id int64, active bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.IsActive = active
	return copyUser(u), nil
}

func (m *memStore) UpdateKYCStatus(ctx context.Context, id int64, from, to models.KYCStatus, at time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if u.KYCStatus != from {
		return nil, store.ErrStaleState
	}
	u.KYCStatus = to
	if to == models.KYCVerified {
		u.KYCVerifiedAt = &at
	}
	return copyUser(u), nil
}

// catalog

func (m *memStore) CreateCategory(ctx context.Context, c *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if existing.Slug == c.Slug {
			return duplicate(store.ConstraintCategorySlug)
		}
	}
	c.ID = m.id()
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *memStore) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Category{}
	for _, c := range m.categories {
		if !activeOnly || c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CategorySlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteCategory(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return store.ErrNotFound
	}
	for _, p := range m.products {
		if p.CategoryID == id {
			return &store.ConstraintError{Kind: store.ErrReferenced, Constraint: store.ConstraintProductCategoryRef}
		}
	}
	delete(m.categories, id)
	return nil
}

func (m *memStore) ProductSlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.Slug == p.Slug {
			return duplicate(store.ConstraintProductSlug)
		}
	}
	p.ID = m.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	for i := range p.Images {
		p.Images[i].ID = m.id()
		p.Images[i].ProductID = p.ID
	}
	m.products[p.ID] = copyProduct(p)
	return nil
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return copyProduct(p), nil
}

func (m *memStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.DeletedAt == nil {
			out = append(out, *copyProduct(p))
		}
	}
	return out, nil
}

func (m *memStore) UpdateProduct(ctx context.Context, p *models.Product, expected *models.Inventory, replaceImages bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.products[p.ID]
	if !ok || existing.DeletedAt != nil {
		return store.ErrNotFound
	}
	if expected != nil && existing.Inventory() != *expected {
		return store.ErrStaleState
	}
	existing.Description = p.Description
	existing.Price = p.Price
	existing.DiscountPrice = p.DiscountPrice
	if expected != nil {
		existing.StockQuantity = p.StockQuantity
		existing.Status = p.Status
	}
	if replaceImages {
		existing.Images = append([]models.ProductImage{}, p.Images...)
	}
	existing.UpdatedAt = time.Now()
	p.StockQuantity, p.Status, p.UpdatedAt = existing.StockQuantity, existing.Status, existing.UpdatedAt
	return nil
}

func (m *memStore) SoftDeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	return nil
}

func (m *memStore) ListActiveProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.products {
		if p.DeletedAt != nil || p.Status != models.ProductActive {
			continue
		}
		if filter.CategoryID != nil && p.CategoryID != *filter.CategoryID {
			continue
		}
		out = append(out, *copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memStore) AddProductViews(ctx context.Context, id int64, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.ViewsCount += n
	return nil
}

// orders

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (m *memStore) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateOrderTx(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber {
			return duplicate(store.ConstraintOrderNumber)
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
			return duplicate(store.ConstraintOrderIdempotency)
		}
	}
	for _, it := range order.Items {
		p, ok := m.products[it.ProductID]
		if !ok || p.DeletedAt != nil || p.Status != models.ProductActive || p.StockQuantity < it.Quantity {
			return fmt.Errorf("product %d: %w", it.ProductID, store.ErrInsufficientStock)
		}
	}
	for _, it := range order.Items {
		p := m.products[it.ProductID]
		p.StockQuantity -= it.Quantity
		if p.StockQuantity == 0 {
			p.Status = models.ProductSold
		}
	}

	order.ID = m.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = m.id()
		order.Items[i].OrderID = order.ID
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *memStore) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if filter.BuyerID != nil || filter.SellerID != nil {
			buyer := filter.BuyerID != nil && o.BuyerID == *filter.BuyerID
			seller := filter.SellerID != nil && o.SellerID == *filter.SellerID
			if !buyer && !seller {
				continue
			}
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, *copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memStore) TransitionOrder(ctx context.Context, t models.OrderTransition) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[t.OrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	matched := false
	for _, from := range t.From {
		if o.Status == from {
			matched = true
		}
	}
	if !matched || (t.To == models.OrderCompleted && o.PaymentStatus != models.PaymentPaid) {
		return nil, store.ErrStaleState
	}

	o.Status = t.To
	at := t.At
	switch t.To {
	case models.OrderCompleted:
		o.CompletedAt = &at
	case models.OrderCancelled:
		o.CancelledAt = &at
	case models.OrderRefunded:
		o.RefundedAt = &at
	}
	if t.RefundPayment && o.PaymentStatus == models.PaymentPaid {
		o.PaymentStatus = models.PaymentRefunded
	}
	if t.RestoreStock {
		for _, it := range o.Items {
			if p, ok := m.products[it.ProductID]; ok {
				p.StockQuantity += it.Quantity
				if p.Status == models.ProductSold {
					p.Status = models.ProductActive
				}
			}
		}
	}
	return copyOrder(o), nil
}

func (m *memStore) UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, transactionID *string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if o.PaymentStatus != from {
		return nil, store.ErrStaleState
	}
	o.PaymentStatus = to
	if transactionID != nil {
		o.PaymentTransactionID = transactionID
	}
	return copyOrder(o), nil
}

// disputes

func (m *memStore) hasActiveDispute(orderID int64) bool {
	for _, d := range m.disputes {
		if d.OrderID == orderID && d.Status.IsActive() {
			return true
		}
	}
	return false
}

func (m *memStore) HasActiveDispute(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasActiveDispute(orderID), nil
}

func (m *memStore) CreateDispute(ctx context.Context, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasActiveDispute(d.OrderID) {
		return duplicate(store.ConstraintOneActiveDispute)
	}
	d.ID = m.id()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.disputes[d.ID] = copyDispute(d)
	return nil
}

func (m *memStore) GetDisputeByID(ctx context.Context, id int64) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyDispute(d), nil
}

func (m *memStore) ListDisputes(ctx context.Context, filter models.DisputeListFilter) ([]models.Dispute, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Dispute{}
	for _, d := range m.disputes {
		if filter.PartyID != nil && !m.orders[d.OrderID].IsParty(*filter.PartyID) {
			continue
		}
		if filter.AssignedTo != nil && (d.AssignedTo == nil || *d.AssignedTo != *filter.AssignedTo) {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memStore) UpdateDisputeStatus(ctx context.Context, id int64, from, to models.DisputeStatus, resolution *string, at time.Time) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if d.Status != from {
		return nil, store.ErrStaleState
	}
	d.Status = to
	if to.IsClosing() {
		d.Resolution = resolution
		d.ResolvedAt = &at
	}
	return copyDispute(d), nil
}

func (m *memStore) AssignDispute(ctx context.Context, id, assignee int64) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !d.Status.IsActive() {
		return nil, store.ErrStaleState
	}
	d.AssignedTo = &assignee
	return copyDispute(d), nil
}

func (m *memStore) AddDisputeMessage(ctx context.Context, msg *models.DisputeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[msg.DisputeID]
	if !ok {
		return store.ErrNotFound
	}
	if !d.Status.IsActive() {
		return store.ErrStaleState
	}
	msg.ID = m.id()
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) AddDisputeEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[e.DisputeID]
	if !ok {
		return store.ErrNotFound
	}
	if !d.Status.IsActive() {
		return store.ErrStaleState
	}
	e.ID = m.id()
	e.CreatedAt = time.Now()
	m.evidence = append(m.evidence, *e)
	return nil
}

func (m *memStore) ListDisputeMessages(ctx context.Context, disputeID int64, includeInternal bool) ([]models.DisputeMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.DisputeMessage{}
	for _, msg := range m.messages {
		if msg.DisputeID == disputeID && (includeInternal || !msg.IsInternal) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) ListDisputeEvidence(ctx context.Context, disputeID int64) ([]models.DisputeEvidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.DisputeEvidence{}
	for _, e := range m.evidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// reviews

func (m *memStore) ReviewExists(ctx context.Context, userID, productID, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.UserID == userID && r.ProductID == productID && r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateReview(ctx context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reviews {
		if existing.UserID == r.UserID && existing.ProductID == r.ProductID && existing.OrderID == r.OrderID {
			return duplicate(store.ConstraintReviewUnique)
		}
	}
	r.ID = m.id()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *memStore) ListProductReviews(ctx context.Context, productID int64, page models.Page) ([]models.Review, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Review{}
	for i := len(m.reviews) - 1; i >= 0; i-- {
		if m.reviews[i].ProductID == productID {
			out = append(out, m.reviews[i])
		}
	}
	return out, int64(len(out)), nil
}

// cart

// cartLine joins a stored line with its live product, as the SQL does
func (m *memStore) cartLine(c *models.CartItem) (models.CartItem, bool) {
	p, ok := m.products[c.ProductID]
	if !ok || p.DeletedAt != nil {
		return models.CartItem{}, false
	}
	line := *c
	line.ProductTitle = p.Title
	line.SellerID = p.SellerID
	line.UnitPrice = p.UnitPrice()
	line.ProductStatus = p.Status
	line.StockQuantity = p.StockQuantity
	return line, true
}

func (m *memStore) ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.CartItem{}
	for _, c := range m.cart {
		if c.UserID != userID {
			continue
		}
		if line, ok := m.cartLine(c); ok {
			out = append(out, line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[productID]; !ok {
		return nil, &store.ConstraintError{Kind: store.ErrReferenced, Constraint: "cart_items_product_id_fkey"}
	}
	var row *models.CartItem
	for _, c := range m.cart {
		if c.UserID == userID && c.ProductID == productID {
			row = c
		}
	}
	if row == nil {
		row = &models.CartItem{ID: m.id(), UserID: userID, ProductID: productID, CreatedAt: time.Now()}
		m.cart[row.ID] = row
	}
	row.Quantity += quantity
	row.UpdatedAt = time.Now()
	line, _ := m.cartLine(row)
	return &line, nil
}

func (m *memStore) SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.cart[itemID]
	if !ok || row.UserID != userID {
		return nil, store.ErrNotFound
	}
	row.Quantity = quantity
	line, ok := m.cartLine(row)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &line, nil
}

func (m *memStore) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.cart[itemID]
	if !ok || row.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.cart, itemID)
	return nil
}

func (m *memStore) RemoveCartProducts(ctx context.Context, userID int64, productIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, row := range m.cart {
		for _, pid := range productIDs {
			if row.UserID == userID && row.ProductID == pid {
				delete(m.cart, id)
			}
		}
	}
	return nil
}

// stats

func (m *memStore) claim(eventID string) bool {
	if m.processed[eventID] {
		return false
	}
	m.processed[eventID] = true
	return true
}

func (m *memStore) ApplySale(ctx context.Context, eventID, eventType string, sellerID int64, revenue decimal.Decimal, items []models.OrderItemData, sign int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.claim(eventID) {
		return false, nil
	}
	if u, ok := m.users[sellerID]; ok {
		u.TotalSales += sign
		u.TotalRevenue = u.TotalRevenue.Add(revenue.Mul(decimal.NewFromInt(int64(sign))))
	}
	for _, it := range items {
		if p, ok := m.products[it.ProductID]; ok {
			p.SalesCount += sign * it.Quantity
		}
	}
	return true, nil
}

func (m *memStore) RefreshRatings(ctx context.Context, eventID, eventType string, productID, sellerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.claim(eventID) {
		return false, nil
	}
	productSum, productCount := 0, 0
	sellerSum, sellerCount := 0, 0
	for _, r := range m.reviews {
		if r.ProductID == productID {
			productSum += r.Rating
			productCount++
		}
		if p, ok := m.products[r.ProductID]; ok && p.SellerID == sellerID {
			sellerSum += r.Rating
			sellerCount++
		}
	}
	if p, ok := m.products[productID]; ok && productCount > 0 {
		p.Rating = decimal.NewFromInt(int64(productSum)).Div(decimal.NewFromInt(int64(productCount))).Round(2)
		p.ReviewsCount = productCount
	}
	if u, ok := m.users[sellerID]; ok && sellerCount > 0 {
		u.SellerRating = decimal.NewFromInt(int64(sellerSum)).Div(decimal.NewFromInt(int64(sellerCount))).Round(2)
	}
	return true, nil
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu       sync.Mutex
	orders   []*models.OrderEvent
	disputes []*models.DisputeEvent
	reviews  []*models.ReviewEvent
	err      error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return p.err
}

func (p *recordingPublisher) PublishDisputeEvent(ctx context.Context, event *models.DisputeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disputes = append(p.disputes, event)
	return p.err
}

func (p *recordingPublisher) PublishReviewEvent(ctx context.Context, event *models.ReviewEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviews = append(p.reviews, event)
	return p.err
}

func (p *recordingPublisher) orderEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.orders))
	for _, e := range p.orders {
		types = append(types, e.EventType)
	}
	return types
}

// memGuard is an in-memory RequestGuard
type memGuard struct {
	mu    sync.Mutex
	locks map[string]string
	keys  map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{locks: map[string]string{}, keys: map[string]string{}}
}

func (g *memGuard) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.locks[lockKey]; held {
		return "", nil
	}
	token := strconv.Itoa(len(g.locks) + 1)
	g.locks[lockKey] = token
	return token, nil
}

func (g *memGuard) ReleaseLock(ctx context.Context, lockKey, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locks[lockKey] == token {
		delete(g.locks, lockKey)
	}
	return nil
}

func (g *memGuard) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key], nil
}

func (g *memGuard) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = fmt.Sprint(value)
	return nil
}

// plainHasher stands in for bcrypt so tests stay fast
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return fmt.Errorf("mismatch")
	}
	return nil
}

// fixture is a marketplace with one seller, one buyer, one admin and one
// active product priced 25.00 with a single unit in stock.
type fixture struct {
	store     *memStore
	publisher *recordingPublisher
	seller    models.Actor
	buyer     models.Actor
	admin     models.Actor
	category  *models.Category
	product   *models.Product
}

func (m *memStore) addUser(name string, roles ...models.Role) models.Actor {
	u := &models.User{
		Name:      name,
		Email:     name + "@example.com",
		Roles:     append(models.Roles{models.RoleCustomer}, roles...),
		IsActive:  true,
		KYCStatus: models.KYCPending,
	}
	_ = m.CreateUser(context.Background(), u)
	return u.Actor()
}

func (m *memStore) addProduct(sellerID, categoryID int64, slug string, price string, stock int) *models.Product {
	p := &models.Product{
		SellerID:      sellerID,
		CategoryID:    categoryID,
		Title:         slug,
		Slug:          slug,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Status:        models.ProductActive,
	}
	_ = m.CreateProduct(context.Background(), p)
	return p
}

func newFixture() *fixture {
	m := newMemStore()
	f := &fixture{store: m, publisher: &recordingPublisher{}}
	f.seller = m.addUser("seller", models.RoleSeller)
	f.buyer = m.addUser("buyer")
	f.admin = m.addUser("admin", models.RoleAdmin)
	f.category = &models.Category{Name: "Games", Slug: "games", IsActive: true}
	_ = m.CreateCategory(context.Background(), f.category)
	f.product = m.addProduct(f.seller.ID, f.category.ID, "steam-key", "25.00", 1)
	return f
}

var flatFee = FeeFunc(func(decimal.Decimal) decimal.Decimal { return decimal.RequireFromString("1.50") })

func (f *fixture) orders() *OrderService {
	return NewOrderService(f.store, nil, f.publisher, flatFee, 0)
}

func (f *fixture) disputesSvc() *DisputeService {
	return NewDisputeService(f.store, f.publisher)
}

func (f *fixture) reviewsSvc() *ReviewService {
	return NewReviewService(f.store, f.publisher)
}

// completedOrder runs one order for the fixture product all the way to completed
func (f *fixture) completedOrder(ctx context.Context) (*models.Order, error) {
	svc := f.orders()
	o, err := svc.CreateOrder(ctx, f.buyer, CreateOrderRequest{
		Items:         []OrderItemRequest{{ProductID: f.product.ID, Quantity: 1}},
		PaymentMethod: "card",
	})
	if err != nil {
		return nil, err
	}
	if _, err := svc.MarkProcessing(ctx, f.seller, o.ID); err != nil {
		return nil, err
	}
	if _, err := svc.RecordPayment(ctx, f.admin, o.ID, RecordPaymentRequest{Status: models.PaymentPaid}); err != nil {
		return nil, err
	}
	return svc.MarkCompleted(ctx, f.buyer, o.ID)
}
