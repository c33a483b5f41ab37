package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
)

// The interfaces below are satisfied by *store.Store. Each service asks only
// for what it uses.

type userReader interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type UserStore interface {
	userReader
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	AddUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error)
	RemoveUserRole(ctx context.Context, id int64, role models.Role) (*models.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) (*models.User, error)
	UpdateKYCStatus(ctx context.Context, id int64, from, to models.KYCStatus, at time.Time) (*models.User, error)
}

type CatalogStore interface {
	userReader
	CreateCategory(ctx context.Context, c *models.Category) error
	GetCategoryByID(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error)
	CategorySlugExists(ctx context.Context, slug string) (bool, error)
	DeleteCategory(ctx context.Context, id int64) error
	ProductSlugExists(ctx context.Context, slug string) (bool, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product, expected *models.Inventory, replaceImages bool) error
	SoftDeleteProduct(ctx context.Context, id int64) error
	ListActiveProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int64, error)
	AddProductViews(ctx context.Context, id int64, n int64) error
}

type orderReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
}

type OrderStore interface {
	userReader
	orderReader
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	CreateOrderTx(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, filter models.OrderListFilter) ([]models.Order, int64, error)
	TransitionOrder(ctx context.Context, t models.OrderTransition) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, transactionID *string) (*models.Order, error)
	HasActiveDispute(ctx context.Context, orderID int64) (bool, error)
}

type DisputeStore interface {
	userReader
	orderReader
	HasActiveDispute(ctx context.Context, orderID int64) (bool, error)
	CreateDispute(ctx context.Context, d *models.Dispute) error
	GetDisputeByID(ctx context.Context, id int64) (*models.Dispute, error)
	ListDisputes(ctx context.Context, filter models.DisputeListFilter) ([]models.Dispute, int64, error)
	UpdateDisputeStatus(ctx context.Context, id int64, from, to models.DisputeStatus, resolution *string, at time.Time) (*models.Dispute, error)
	AssignDispute(ctx context.Context, id, assignee int64) (*models.Dispute, error)
	AddDisputeMessage(ctx context.Context, m *models.DisputeMessage) error
	AddDisputeEvidence(ctx context.Context, e *models.DisputeEvidence) error
	ListDisputeMessages(ctx context.Context, disputeID int64, includeInternal bool) ([]models.DisputeMessage, error)
	ListDisputeEvidence(ctx context.Context, disputeID int64) ([]models.DisputeEvidence, error)
}

type ReviewStore interface {
	orderReader
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ReviewExists(ctx context.Context, userID, productID, orderID int64) (bool, error)
	CreateReview(ctx context.Context, r *models.Review) error
	ListProductReviews(ctx context.Context, productID int64, page models.Page) ([]models.Review, int64, error)
}

type CartStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error)
	SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, itemID int64) error
	RemoveCartProducts(ctx context.Context, userID int64, productIDs []int64) error
}

type StatsStore interface {
	ApplySale(ctx context.Context, eventID, eventType string, sellerID int64, revenue decimal.Decimal, items []models.OrderItemData, sign int) (bool, error)
	RefreshRatings(ctx context.Context, eventID, eventType string, productID, sellerID int64) (bool, error)
}

// EventPublisher is satisfied by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishDisputeEvent(ctx context.Context, event *models.DisputeEvent) error
	PublishReviewEvent(ctx context.Context, event *models.ReviewEvent) error
}

// ViewCounter buffers product views; satisfied by *redisclient.Client
type ViewCounter interface {
	IncrementViews(ctx context.Context, productID int64) error
}

// RequestGuard serializes requests sharing an idempotency key; satisfied by *redisclient.Client
type RequestGuard interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
