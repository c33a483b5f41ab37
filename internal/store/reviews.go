package store

import (
	"context"

	"marketplace-service/internal/models"
)

const reviewColumns = `id, product_id, user_id, order_id, rating, title, comment, is_verified, helpful_count,
	created_at, updated_at`

// ReviewExists reports whether the user already reviewed the product for this order
func (s *Store) ReviewExists(ctx context.Context, userID, productID, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM reviews WHERE user_id = $1 AND product_id = $2 AND order_id = $3)",
		userID, productID, orderID)
	return exists, mapError(err)
}

// CreateReview inserts a review
func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	query := `
		INSERT INTO reviews (product_id, user_id, order_id, rating, title, comment, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, helpful_count, created_at, updated_at`

	err := s.db.GetContext(ctx, r, query,
		r.ProductID, r.UserID, r.OrderID, r.Rating, r.Title, r.Comment, r.IsVerified)
	return mapError(err)
}

// ListProductReviews returns one page of reviews for a product, newest first
func (s *Store) ListProductReviews(ctx context.Context, productID int64, page models.Page) ([]models.Review, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM reviews WHERE product_id = $1", productID); err != nil {
		return nil, 0, mapError(err)
	}

	page = page.Normalize()
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT "+reviewColumns+" FROM reviews WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		productID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	return reviews, total, nil
}
