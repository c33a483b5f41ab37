package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderProcessing = "ORDER_PROCESSING"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderCompleted  = "ORDER_COMPLETED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
	EventTypeOrderRefunded   = "ORDER_REFUNDED"
	EventTypeDisputeOpened   = "DISPUTE_OPENED"
	EventTypeDisputeUpdated  = "DISPUTE_UPDATED"
	EventTypeDisputeResolved = "DISPUTE_RESOLVED"
	EventTypeReviewCreated   = "REVIEW_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every order lifecycle change
type OrderEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	BuyerID       int64           `json:"buyer_id"`
	SellerID      int64           `json:"seller_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Items         []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// DisputeEvent is published when a dispute is opened or changes status
type DisputeEvent struct {
	BaseEvent
	DisputeID  int64         `json:"dispute_id"`
	OrderID    int64         `json:"order_id"`
	CreatedBy  int64         `json:"created_by"`
	Status     DisputeStatus `json:"status"`
	Resolution *string       `json:"resolution,omitempty"`
}

// ReviewEvent is published when a review is created
type ReviewEvent struct {
	BaseEvent
	ReviewID  int64 `json:"review_id"`
	ProductID int64 `json:"product_id"`
	SellerID  int64 `json:"seller_id"`
	UserID    int64 `json:"user_id"`
	OrderID   int64 `json:"order_id"`
	Rating    int   `json:"rating"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// OrderItemsData converts order items to their event representation
func OrderItemsData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemData{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	return out
}
