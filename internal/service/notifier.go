package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Notification is a message addressed to one user
type Notification struct {
	UserID  int64
	Kind    string
	Subject string
	Body    string
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It stands in until a mail or
// push channel is wired.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	util.FromContext(ctx).Info("Notification",
		zap.Int64("user_id", msg.UserID),
		zap.String("kind", msg.Kind),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}

// NotificationService turns domain events into user notifications
type NotificationService struct {
	orders   orderReader
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(orders orderReader, notifier Notifier) *NotificationService {
	return &NotificationService{
		orders:   orders,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if err := s.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("failed to notify user %d: %w", n.UserID, err)
	}
	util.NotificationsSentTotal.WithLabelValues(n.Kind).Inc()
	return nil
}

// HandleOrderEvent tells both parties when an order is created, completed,
// cancelled or refunded
func (s *NotificationService) HandleOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderEvent")
	defer span.End()

	var subject string
	switch event.EventType {
	case models.EventTypeOrderCreated:
		subject = "New order %s"
	case models.EventTypeOrderCompleted:
		subject = "Order %s completed"
	case models.EventTypeOrderCancelled:
		subject = "Order %s cancelled"
	case models.EventTypeOrderRefunded:
		subject = "Order %s refunded"
	default:
		return nil
	}
	subject = fmt.Sprintf(subject, event.OrderNumber)
	body := fmt.Sprintf("Order total %s, payment %s", event.Total.StringFixed(2), event.PaymentStatus)

	for _, userID := range []int64{event.BuyerID, event.SellerID} {
		err := s.send(ctx, Notification{UserID: userID, Kind: event.EventType, Subject: subject, Body: body})
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleDisputeEvent tells the other party when a dispute is opened and
// both parties when it is closed
func (s *NotificationService) HandleDisputeEvent(ctx context.Context, event *models.DisputeEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleDisputeEvent")
	defer span.End()

	if event.EventType != models.EventTypeDisputeOpened && event.EventType != models.EventTypeDisputeResolved {
		return nil
	}

	order, err := s.orders.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", event.OrderID, err)
	}

	n := Notification{Kind: event.EventType}
	recipients := []int64{order.BuyerID, order.SellerID}
	if event.EventType == models.EventTypeDisputeOpened {
		n.Subject = fmt.Sprintf("Dispute opened on order %s", order.OrderNumber)
		n.Body = fmt.Sprintf("Dispute #%d is awaiting review", event.DisputeID)
		recipients = []int64{order.BuyerID}
		if event.CreatedBy == order.BuyerID {
			recipients = []int64{order.SellerID}
		}
	} else {
		n.Subject = fmt.Sprintf("Dispute on order %s %s", order.OrderNumber, event.Status)
		if event.Resolution != nil {
			n.Body = *event.Resolution
		}
	}

	for _, userID := range recipients {
		n.UserID = userID
		if err := s.send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
