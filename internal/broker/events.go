package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes an order lifecycle event
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event.EventType, event)
}

// PublishDisputeEvent publishes a dispute event. Keyed by order so it stays
// ordered with the events of the disputed order.
func (ep *EventPublisher) PublishDisputeEvent(ctx context.Context, event *models.DisputeEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event.EventType, event)
}

// PublishReviewEvent publishes a review event
func (ep *EventPublisher) PublishReviewEvent(ctx context.Context, event *models.ReviewEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrder   func(context.Context, *models.OrderEvent) error
	onDispute func(context.Context, *models.DisputeEvent) error
	onReview  func(context.Context, *models.ReviewEvent) error
	logger    *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderEvent registers a handler for all order events
func (eh *EventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrder = handler
}

// OnDisputeEvent registers a handler for all dispute events
func (eh *EventHandler) OnDisputeEvent(handler func(context.Context, *models.DisputeEvent) error) {
	eh.onDispute = handler
}

// OnReviewEvent registers a handler for review events
func (eh *EventHandler) OnReviewEvent(handler func(context.Context, *models.ReviewEvent) error) {
	eh.onReview = handler
}

// HandleMessage routes messages to appropriate handlers. The event_type
// header wins over the payload; older messages without it are decoded twice.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	eventType := headerValue(msg, EventTypeHeader)
	if eventType == "" {
		var baseEvent models.BaseEvent
		if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
			// a poison message would otherwise be retried to no end
			eh.logger.Error("Dropping undecodable message", zap.String("key", string(msg.Key)), zap.Error(err))
			return nil
		}
		eventType = baseEvent.EventType
	}

	eh.logger.Debug("Handling event", zap.String("event_type", eventType), zap.String("key", string(msg.Key)))

	switch eventType {
	case models.EventTypeOrderCreated, models.EventTypeOrderProcessing, models.EventTypeOrderPaid,
		models.EventTypeOrderCompleted, models.EventTypeOrderCancelled, models.EventTypeOrderRefunded:
		if eh.onOrder != nil {
			var event models.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order event: %w", err)
			}
			return eh.onOrder(ctx, &event)
		}

	case models.EventTypeDisputeOpened, models.EventTypeDisputeUpdated, models.EventTypeDisputeResolved:
		if eh.onDispute != nil {
			var event models.DisputeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal dispute event: %w", err)
			}
			return eh.onDispute(ctx, &event)
		}

	case models.EventTypeReviewCreated:
		if eh.onReview != nil {
			var event models.ReviewEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal review event: %w", err)
			}
			return eh.onReview(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", eventType))
	}

	return nil
}
