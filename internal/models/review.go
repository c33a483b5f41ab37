package models

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a buyer's rating of a product, backed by the order that bought it
type Review struct {
	ID           int64     `db:"id" json:"id"`
	ProductID    int64     `db:"product_id" json:"product_id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Rating       int       `db:"rating" json:"rating"`
	Title        *string   `db:"title" json:"title,omitempty"`
	Comment      *string   `db:"comment" json:"comment,omitempty"`
	IsVerified   bool      `db:"is_verified" json:"is_verified"`
	HelpfulCount int       `db:"helpful_count" json:"helpful_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ValidRating reports whether r is within the star range
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}
