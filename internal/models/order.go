package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment lifecycle state of an order
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch o := OrderStatus(s); o {
	case OrderPending, OrderProcessing, OrderCompleted, OrderCancelled, OrderRefunded:
		return o, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (o *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {OrderRefunded},
}

// CanTransitionTo reports whether the order lifecycle allows moving from o to next
func (o OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, s := range orderTransitions[o] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition at all leaves o
func (o OrderStatus) IsTerminal() bool {
	return len(orderTransitions[o]) == 0
}

// TransitionSources lists every status from which next is reachable
func TransitionSources(next OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{OrderPending, OrderProcessing, OrderCompleted, OrderCancelled, OrderRefunded} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// PaymentStatus is the settlement state of an order, tracked beside OrderStatus
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch p := PaymentStatus(s); p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

func (p *PaymentStatus) UnmarshalText(b []byte) error {
	v, err := ParsePaymentStatus(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// CanTransitionTo reports whether payment may move from p to next
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch p {
	case PaymentPending:
		return next == PaymentPaid || next == PaymentFailed
	case PaymentPaid:
		return next == PaymentRefunded
	}
	return false
}

// ErrCompletedUnpaid is the forbidden (completed, not paid) combination
var ErrCompletedUnpaid = errors.New("a completed order must be paid")

// CheckOrderState validates the combined status/payment state of an order
func CheckOrderState(status OrderStatus, payment PaymentStatus) error {
	if status == OrderCompleted && payment != PaymentPaid {
		return ErrCompletedUnpaid
	}
	return nil
}

// Order is a purchase of one seller's products by one buyer
type Order struct {
	ID                   int64           `db:"id" json:"id"`
	OrderNumber          string          `db:"order_number" json:"order_number"`
	BuyerID              int64           `db:"buyer_id" json:"buyer_id"`
	SellerID             int64           `db:"seller_id" json:"seller_id"`
	Subtotal             decimal.Decimal `db:"subtotal" json:"subtotal"`
	ServiceFee           decimal.Decimal `db:"service_fee" json:"service_fee"`
	Total                decimal.Decimal `db:"total" json:"total"`
	Status               OrderStatus     `db:"status" json:"status"`
	PaymentMethod        string          `db:"payment_method" json:"payment_method"`
	PaymentStatus        PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentTransactionID *string         `db:"payment_transaction_id" json:"payment_transaction_id,omitempty"`
	BuyerEmail           *string         `db:"buyer_email" json:"buyer_email,omitempty"`
	Notes                *string         `db:"notes" json:"notes,omitempty"`
	IdempotencyKey       *string         `db:"idempotency_key" json:"-"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt          *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundedAt           *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// IsParty reports whether userID is the buyer or the seller of the order
func (o *Order) IsParty(userID int64) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// HasProduct reports whether productID is among the order's items
func (o *Order) HasProduct(productID int64) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// OrderItem is one purchased line with the product snapshot taken at checkout
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	ProductTitle string          `db:"product_title" json:"product_title"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Total        decimal.Decimal `db:"total" json:"total"`
	Metadata     ProductSnapshot `db:"metadata" json:"metadata"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// ProductSnapshot is the product state copied into an order item at purchase time
type ProductSnapshot struct {
	Slug          string           `json:"slug"`
	CategoryID    int64            `json:"category_id"`
	SellerID      int64            `json:"seller_id"`
	ListPrice     decimal.Decimal  `json:"list_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
}

// Value implements driver.Valuer
func (s ProductSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *ProductSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = ProductSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("unsupported snapshot type %T", src)
}

// NewOrderItem snapshots product for a purchase of quantity units
func NewOrderItem(p *Product, quantity int) OrderItem {
	snap := ProductSnapshot{
		Slug:       p.Slug,
		CategoryID: p.CategoryID,
		SellerID:   p.SellerID,
		ListPrice:  p.Price,
	}
	if p.DiscountPrice.Valid {
		d := p.DiscountPrice.Decimal
		snap.DiscountPrice = &d
	}
	for _, img := range p.Images {
		if img.IsPrimary || snap.ImageURL == "" {
			snap.ImageURL = img.URL
		}
	}
	price := p.UnitPrice()
	return OrderItem{
		ProductID:    p.ID,
		ProductTitle: p.Title,
		Quantity:     quantity,
		Price:        price,
		Total:        price.Mul(decimal.NewFromInt(int64(quantity))),
		Metadata:     snap,
	}
}

// Subtotal sums the line totals of items
func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total)
	}
	return sum
}

// OrderTransition describes a compare-and-swap status change on one order.
// RefundPayment moves a paid payment to refunded in the same write; RestoreStock
// returns the ordered quantities to the products.
type OrderTransition struct {
	OrderID       int64
	From          []OrderStatus
	To            OrderStatus
	At            time.Time
	RefundPayment bool
	RestoreStock  bool
}

// OrderListFilter selects orders visible to a user
type OrderListFilter struct {
	BuyerID  *int64
	SellerID *int64
	Status   *OrderStatus
	Page     Page
}
