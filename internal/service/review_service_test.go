package service

import (
	"context"
	"testing"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.reviewsSvc()

	order, err := f.completedOrder(ctx)
	require.NoError(t, err)

	req := CreateReviewRequest{ProductID: f.product.ID, OrderID: order.ID, Rating: 5, Comment: strPtr(" works ")}
	review, err := svc.CreateReview(ctx, f.buyer, req)
	require.NoError(t, err)
	assert.True(t, review.IsVerified)
	assert.Equal(t, "works", *review.Comment)

	_, err = svc.CreateReview(ctx, f.buyer, req)
	assert.ErrorIs(t, err, ErrDuplicateReview)

	require.Len(t, f.publisher.reviews, 1)
	assert.Equal(t, f.seller.ID, f.publisher.reviews[0].SellerID)

	reviews, total, err := svc.ListProductReviews(ctx, f.product.ID, models.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, reviews, 1)
}

func TestCreateReviewEligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.reviewsSvc()

	order, err := f.completedOrder(ctx)
	require.NoError(t, err)

	_, err = svc.CreateReview(ctx, f.buyer, CreateReviewRequest{ProductID: f.product.ID, OrderID: order.ID, Rating: 6})
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = svc.CreateReview(ctx, f.buyer, CreateReviewRequest{ProductID: f.product.ID, OrderID: order.ID, Rating: 0})
	assert.ErrorIs(t, err, ErrInvalidRating)

	_, err = svc.CreateReview(ctx, f.seller, CreateReviewRequest{ProductID: f.product.ID, OrderID: order.ID, Rating: 5})
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Equal(t, KindAuthorization, KindOf(err))

	other := f.store.addProduct(f.seller.ID, f.category.ID, "other", "3.00", 2)
	_, err = svc.CreateReview(ctx, f.buyer, CreateReviewRequest{ProductID: other.ID, OrderID: order.ID, Rating: 4})
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = svc.CreateReview(ctx, f.buyer, CreateReviewRequest{ProductID: f.product.ID, OrderID: 9999, Rating: 4})
	assert.Equal(t, KindNotFound, KindOf(err))

	pending, err := f.orders().CreateOrder(ctx, f.buyer, CreateOrderRequest{
		Items:         []OrderItemRequest{{ProductID: other.ID, Quantity: 1}},
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	_, err = svc.CreateReview(ctx, f.buyer, CreateReviewRequest{ProductID: other.ID, OrderID: pending.ID, Rating: 4})
	assert.ErrorIs(t, err, ErrNotEligible)
}
