package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one product held in a user's cart. The product columns are
// read live on every load, so prices and availability are never stale.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	ProductTitle  string          `db:"product_title" json:"product_title"`
	SellerID      int64           `db:"seller_id" json:"seller_id"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	ProductStatus ProductStatus   `db:"product_status" json:"product_status"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
}

// LineTotal is unit price times quantity
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Available reports whether the line could be ordered as it stands
func (i CartItem) Available() bool {
	return i.ProductStatus == ProductActive && i.StockQuantity >= i.Quantity
}

// Cart is a user's cart with its running total
type Cart struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// NewCart totals items
func NewCart(items []CartItem) *Cart {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	if items == nil {
		items = []CartItem{}
	}
	return &Cart{Items: items, Total: total, Count: len(items)}
}

// Sellers lists the distinct sellers in the cart in first-seen order
func (c *Cart) Sellers() []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, it := range c.Items {
		if !seen[it.SellerID] {
			seen[it.SellerID] = true
			out = append(out, it.SellerID)
		}
	}
	return out
}
