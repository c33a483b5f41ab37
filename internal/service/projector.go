package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// StatsProjector keeps the denormalized counters (seller sales and revenue,
// product sales count, product and seller ratings) in step with the event
// stream. Each event is applied at most once.
type StatsProjector struct {
	store  StatsStore
	logger *zap.Logger
}

// NewStatsProjector creates a new projector
func NewStatsProjector(store StatsStore) *StatsProjector {
	return &StatsProjector{
		store:  store,
		logger: util.GetLogger(),
	}
}

// HandleOrderEvent applies completed orders and reverses refunded ones.
// Other order events carry nothing to project.
func (p *StatsProjector) HandleOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	ctx, span := util.StartSpan(ctx, "StatsProjector.HandleOrderEvent",
		util.AttrEventID.String(event.EventID),
		util.AttrEventType.String(event.EventType),
	)
	defer span.End()

	var sign int
	switch event.EventType {
	case models.EventTypeOrderCompleted:
		sign = 1
	case models.EventTypeOrderRefunded:
		sign = -1
	default:
		return nil
	}

	applied, err := p.store.ApplySale(ctx, event.EventID, event.EventType, event.SellerID, event.Subtotal, event.Items, sign)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to apply sale for order %d: %w", event.OrderID, err)
	}
	if !applied {
		p.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.EventsProjectedTotal.WithLabelValues(event.EventType).Inc()
	p.logger.Info("Sale projected",
		zap.String("event_type", event.EventType),
		zap.Int64("order_id", event.OrderID),
		zap.Int64("seller_id", event.SellerID),
		zap.String("revenue", event.Subtotal.StringFixed(2)))
	return nil
}

// HandleReviewEvent recomputes the ratings the new review contributes to
func (p *StatsProjector) HandleReviewEvent(ctx context.Context, event *models.ReviewEvent) error {
	ctx, span := util.StartSpan(ctx, "StatsProjector.HandleReviewEvent",
		util.AttrEventID.String(event.EventID),
		util.AttrEventType.String(event.EventType),
	)
	defer span.End()

	applied, err := p.store.RefreshRatings(ctx, event.EventID, event.EventType, event.ProductID, event.SellerID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to refresh ratings for product %d: %w", event.ProductID, err)
	}
	if !applied {
		p.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.EventsProjectedTotal.WithLabelValues(event.EventType).Inc()
	p.logger.Info("Ratings refreshed",
		zap.Int64("product_id", event.ProductID),
		zap.Int64("seller_id", event.SellerID))
	return nil
}
