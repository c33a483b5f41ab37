package service

import (
	"context"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewService records verified-purchase reviews
type ReviewService struct {
	store          ReviewStore
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewReviewService creates a new review service
func NewReviewService(store ReviewStore, eventPublisher EventPublisher) *ReviewService {
	return &ReviewService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// CreateReviewRequest reviews one product of one order
type CreateReviewRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	OrderID   int64   `json:"order_id" binding:"required"`
	Rating    int     `json:"rating"`
	Title     *string `json:"title,omitempty"`
	Comment   *string `json:"comment,omitempty"`
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// CreateReview stores a review from the buyer of a completed order that
// contains the product. One review per (user, product, order).
func (s *ReviewService) CreateReview(ctx context.Context, actor models.Actor, req CreateReviewRequest) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.CreateReview", util.AttrProductID.Int64(req.ProductID))
	defer span.End()

	if !models.ValidRating(req.Rating) {
		return nil, ErrInvalidRating
	}

	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if order.BuyerID != actor.ID {
		return nil, &Error{Kind: KindAuthorization, Code: CodeNotEligible, Message: "only the buyer can review this order"}
	}
	if order.Status != models.OrderCompleted {
		return nil, conflict(CodeNotEligible, "order is not completed")
	}
	if !order.HasProduct(req.ProductID) {
		return nil, conflict(CodeNotEligible, "product is not part of this order")
	}

	exists, err := s.store.ReviewExists(ctx, actor.ID, req.ProductID, order.ID)
	if err != nil {
		return nil, unexpected("failed to check reviews", err)
	}
	if exists {
		return nil, ErrDuplicateReview
	}

	review := &models.Review{
		ProductID:  req.ProductID,
		UserID:     actor.ID,
		OrderID:    order.ID,
		Rating:     req.Rating,
		Title:      trimmed(req.Title),
		Comment:    trimmed(req.Comment),
		IsVerified: true,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		if store.IsConstraint(err, store.ConstraintReviewUnique) {
			return nil, ErrDuplicateReview
		}
		util.RecordError(span, err)
		return nil, unexpected("failed to create review", err)
	}

	util.ReviewsCreatedTotal.Inc()
	s.logger.Info("Review created",
		zap.Int64("review_id", review.ID),
		zap.Int64("product_id", review.ProductID),
		zap.Int64("order_id", review.OrderID),
		zap.Int("rating", review.Rating))

	if s.eventPublisher != nil {
		event := &models.ReviewEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeReviewCreated,
				Timestamp: s.now(),
			},
			ReviewID:  review.ID,
			ProductID: review.ProductID,
			SellerID:  order.SellerID,
			UserID:    review.UserID,
			OrderID:   review.OrderID,
			Rating:    review.Rating,
		}
		if err := s.eventPublisher.PublishReviewEvent(ctx, event); err != nil {
			s.logger.Error("Failed to publish review event", zap.Int64("review_id", review.ID), zap.Error(err))
		}
	}
	return review, nil
}

// ListProductReviews returns a page of reviews for a visible product
func (s *ReviewService) ListProductReviews(ctx context.Context, productID int64, page models.Page) ([]models.Review, int64, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.ListProductReviews")
	defer span.End()

	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		return nil, 0, fromStore(err, "product")
	}
	reviews, total, err := s.store.ListProductReviews(ctx, productID, page.Normalize())
	if err != nil {
		return nil, 0, unexpected("failed to list reviews", err)
	}
	return reviews, total, nil
}
