package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a node in the catalog tree
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description,omitempty"`
	ParentID    *int64    `db:"parent_id" json:"parent_id,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	OrderIndex  int       `db:"order_index" json:"order_index"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ProductStatus is the listing lifecycle state
type ProductStatus string

const (
	ProductDraft    ProductStatus = "draft"
	ProductPending  ProductStatus = "pending"
	ProductActive   ProductStatus = "active"
	ProductSold     ProductStatus = "sold"
	ProductInactive ProductStatus = "inactive"
	ProductRejected ProductStatus = "rejected"
)

func ParseProductStatus(s string) (ProductStatus, error) {
	switch p := ProductStatus(s); p {
	case ProductDraft, ProductPending, ProductActive, ProductSold, ProductInactive, ProductRejected:
		return p, nil
	}
	return "", fmt.Errorf("unknown product status %q", s)
}

func (p *ProductStatus) UnmarshalText(b []byte) error {
	v, err := ParseProductStatus(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Product is a listing owned by a seller
type Product struct {
	ID            int64               `db:"id" json:"id"`
	SellerID      int64               `db:"seller_id" json:"seller_id"`
	CategoryID    int64               `db:"category_id" json:"category_id"`
	Title         string              `db:"title" json:"title"`
	Slug          string              `db:"slug" json:"slug"`
	Description   string              `db:"description" json:"description"`
	Price         decimal.Decimal     `db:"price" json:"price"`
	DiscountPrice decimal.NullDecimal `db:"discount_price" json:"discount_price"`
	StockQuantity int                 `db:"stock_quantity" json:"stock_quantity"`
	Status        ProductStatus       `db:"status" json:"status"`
	ViewsCount    int64               `db:"views_count" json:"views_count"`
	Rating        decimal.Decimal     `db:"rating" json:"rating"`
	ReviewsCount  int                 `db:"reviews_count" json:"reviews_count"`
	SalesCount    int                 `db:"sales_count" json:"sales_count"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time          `db:"deleted_at" json:"-"`

	Images []ProductImage `db:"-" json:"images"`
}

// Inventory is the stock counter and status pair that checkout also writes
type Inventory struct {
	StockQuantity int
	Status        ProductStatus
}

func (p *Product) Inventory() Inventory {
	return Inventory{StockQuantity: p.StockQuantity, Status: p.Status}
}

// IsPurchasable reports whether the product can be ordered right now
func (p *Product) IsPurchasable() bool {
	return p.DeletedAt == nil && p.Status == ProductActive && p.StockQuantity > 0
}

// UnitPrice is the price a buyer pays per unit: the discount price when one is set
func (p *Product) UnitPrice() decimal.Decimal {
	if p.DiscountPrice.Valid {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

var (
	ErrNegativePrice   = errors.New("price must not be negative")
	ErrDiscountTooHigh = errors.New("discount price must not exceed price")
	ErrNegativeStock   = errors.New("stock quantity must not be negative")
	ErrMultiplePrimary = errors.New("at most one image may be primary")
	ErrEmptyImageURL   = errors.New("image url is required")
)

// ValidatePricing checks the price/discount invariants of a product
func ValidatePricing(price decimal.Decimal, discount decimal.NullDecimal) error {
	if price.IsNegative() {
		return ErrNegativePrice
	}
	if discount.Valid {
		if discount.Decimal.IsNegative() {
			return ErrNegativePrice
		}
		if discount.Decimal.GreaterThan(price) {
			return ErrDiscountTooHigh
		}
	}
	return nil
}

// Validate checks every field-level invariant of the product
func (p *Product) Validate() error {
	if err := ValidatePricing(p.Price, p.DiscountPrice); err != nil {
		return err
	}
	if p.StockQuantity < 0 {
		return ErrNegativeStock
	}
	return ValidateImages(p.Images)
}

// ProductImage is one entry in a product's ordered gallery
type ProductImage struct {
	ID         int64     `db:"id" json:"id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	URL        string    `db:"url" json:"url"`
	AltText    *string   `db:"alt_text" json:"alt_text,omitempty"`
	OrderIndex int       `db:"order_index" json:"order_index"`
	IsPrimary  bool      `db:"is_primary" json:"is_primary"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ValidateImages enforces a non-empty url per image and a single primary image
func ValidateImages(images []ProductImage) error {
	primary := 0
	for _, img := range images {
		if img.URL == "" {
			return ErrEmptyImageURL
		}
		if img.IsPrimary {
			primary++
		}
	}
	if primary > 1 {
		return ErrMultiplePrimary
	}
	return nil
}

// ProductSort is the ordering applied to product listings
type ProductSort string

const (
	SortNewest    ProductSort = "newest"
	SortOldest    ProductSort = "oldest"
	SortPriceAsc  ProductSort = "price_asc"
	SortPriceDesc ProductSort = "price_desc"
	SortRating    ProductSort = "rating"
)

func ParseProductSort(s string) (ProductSort, error) {
	switch v := ProductSort(s); v {
	case SortNewest, SortOldest, SortPriceAsc, SortPriceDesc, SortRating:
		return v, nil
	case "":
		return SortNewest, nil
	}
	return "", fmt.Errorf("unknown sort %q", s)
}

// ProductFilter selects active products; all set predicates combine with AND
type ProductFilter struct {
	CategoryID *int64
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Search     string
	Sort       ProductSort
	Page       Page
}

// Page is a 1-based pagination window
type Page struct {
	Number  int
	PerPage int
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Normalize clamps the window into the accepted range
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.PerPage
}
