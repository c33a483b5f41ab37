package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// StatsWorker feeds the event stream into the stats projector
type StatsWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStatsWorker creates a new stats worker
func NewStatsWorker(consumer *broker.Consumer, projector *service.StatsProjector) *StatsWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderEvent(projector.HandleOrderEvent)
	eventHandler.OnReviewEvent(projector.HandleReviewEvent)

	return &StatsWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *StatsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stats worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StatsWorker) Stop() error {
	w.logger.Info("Stopping stats worker...")
	return w.consumer.Close()
}

// NotificationWorker turns events into user notifications. It reads with its
// own consumer group so it sees every event independently of the stats worker.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifications *service.NotificationService) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderEvent(notifications.HandleOrderEvent)
	eventHandler.OnDisputeEvent(notifications.HandleDisputeEvent)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the notification worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the notification worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker...")
	return w.consumer.Close()
}
