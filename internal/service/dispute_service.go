package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisputeService handles disputes raised against orders
type DisputeService struct {
	store          DisputeStore
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewDisputeService creates a new dispute service
func NewDisputeService(store DisputeStore, eventPublisher EventPublisher) *DisputeService {
	return &DisputeService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// OpenDisputeRequest represents a complaint against an order
type OpenDisputeRequest struct {
	OrderID     int64              `json:"order_id" binding:"required"`
	Type        models.DisputeType `json:"type" binding:"required"`
	Reason      string             `json:"reason" binding:"required"`
	Description string             `json:"description" binding:"required"`
}

// OpenDispute opens a dispute on an order the caller bought or sold. The
// order must be processing or completed with no other active dispute.
func (s *DisputeService) OpenDispute(ctx context.Context, actor models.Actor, req OpenDisputeRequest) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.OpenDispute", util.AttrOrderID.Int64(req.OrderID))
	defer span.End()

	if _, err := models.ParseDisputeType(string(req.Type)); err != nil {
		return nil, invalidf("%v", err)
	}
	reason := strings.TrimSpace(req.Reason)
	description := strings.TrimSpace(req.Description)
	if reason == "" || description == "" {
		return nil, invalidf("reason and description are required")
	}

	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) {
		return nil, ErrNotAParty
	}
	ok, err := canBeDisputed(ctx, s.store, order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotDisputable
	}

	dispute := &models.Dispute{
		OrderID:     order.ID,
		CreatedBy:   actor.ID,
		Type:        req.Type,
		Reason:      reason,
		Description: description,
		Status:      models.DisputeOpen,
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		// a concurrent open won the partial unique index
		if store.IsConstraint(err, store.ConstraintOneActiveDispute) {
			return nil, ErrOrderNotDisputable
		}
		util.RecordError(span, err)
		return nil, unexpected("failed to create dispute", err)
	}

	util.DisputesOpenedTotal.Inc()
	s.logger.Info("Dispute opened",
		zap.Int64("dispute_id", dispute.ID),
		zap.Int64("order_id", order.ID),
		zap.Int64("created_by", actor.ID),
		zap.String("type", string(dispute.Type)))
	s.publish(ctx, models.EventTypeDisputeOpened, dispute)
	return dispute, nil
}

// authorize loads a dispute the actor may see: staff, or a party to its order
func (s *DisputeService) authorize(ctx context.Context, actor models.Actor, disputeID int64) (*models.Dispute, error) {
	dispute, err := s.store.GetDisputeByID(ctx, disputeID)
	if err != nil {
		return nil, fromStore(err, "dispute")
	}
	if actor.IsStaff() {
		return dispute, nil
	}
	order, err := s.store.GetOrderByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, fromStore(err, "order")
	}
	if !order.IsParty(actor.ID) {
		return nil, ErrNotAParty
	}
	return dispute, nil
}

// GetDispute returns a dispute to a party of its order or to staff
func (s *DisputeService) GetDispute(ctx context.Context, actor models.Actor, disputeID int64) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.GetDispute", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	return s.authorize(ctx, actor, disputeID)
}

// ListDisputes returns a page of disputes. Non-staff callers see only
// disputes on their own orders.
func (s *DisputeService) ListDisputes(ctx context.Context, actor models.Actor, filter models.DisputeListFilter) ([]models.Dispute, int64, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.ListDisputes")
	defer span.End()

	if !actor.IsStaff() {
		filter.PartyID = &actor.ID
		filter.AssignedTo = nil
	}
	filter.Page = filter.Page.Normalize()

	disputes, total, err := s.store.ListDisputes(ctx, filter)
	if err != nil {
		return nil, 0, unexpected("failed to list disputes", err)
	}
	return disputes, total, nil
}

// UpdateStatusRequest moves a dispute through review
type UpdateStatusRequest struct {
	Status     models.DisputeStatus `json:"status" binding:"required"`
	Resolution *string              `json:"resolution,omitempty"`
}

// UpdateStatus moves a dispute along open -> in_review -> resolved|declined
// (or open -> declined). Closing requires a resolution and stamps
// resolved_at; both are immutable afterwards. Staff only.
func (s *DisputeService) UpdateStatus(ctx context.Context, actor models.Actor, disputeID int64, req UpdateStatusRequest) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.UpdateStatus", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	if _, err := models.ParseDisputeStatus(string(req.Status)); err != nil {
		return nil, invalidf("%v", err)
	}

	var resolution *string
	if req.Status.IsClosing() {
		if req.Resolution == nil || strings.TrimSpace(*req.Resolution) == "" {
			return nil, invalidf("resolution is required to close a dispute")
		}
		r := strings.TrimSpace(*req.Resolution)
		resolution = &r
	}

	dispute, err := s.store.GetDisputeByID(ctx, disputeID)
	if err != nil {
		return nil, fromStore(err, "dispute")
	}
	if !dispute.Status.IsActive() {
		return nil, ErrDisputeClosed
	}
	if !dispute.Status.CanTransitionTo(req.Status) {
		return nil, conflict(CodeInvalidTransition,
			fmt.Sprintf("dispute cannot move from %s to %s", dispute.Status, req.Status))
	}

	updated, err := s.store.UpdateDisputeStatus(ctx, disputeID, dispute.Status, req.Status, resolution, s.now())
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, conflict(CodeInvalidTransition, "dispute changed concurrently, reload and retry")
		}
		return nil, fromStore(err, "dispute")
	}

	eventType := models.EventTypeDisputeUpdated
	if updated.Status.IsClosing() {
		eventType = models.EventTypeDisputeResolved
		util.DisputesClosedTotal.WithLabelValues(string(updated.Status)).Inc()
	}
	s.logger.Info("Dispute status changed",
		zap.Int64("dispute_id", disputeID),
		zap.String("from", string(dispute.Status)),
		zap.String("to", string(updated.Status)),
		zap.Int64("by", actor.ID))
	s.publish(ctx, eventType, updated)
	return updated, nil
}

// Assign hands an active dispute to a moderator or admin. Staff only.
func (s *DisputeService) Assign(ctx context.Context, actor models.Actor, disputeID, assigneeID int64) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.Assign", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	assignee, err := s.store.GetUserByID(ctx, assigneeID)
	if err != nil {
		return nil, fromStore(err, "assignee")
	}
	if !assignee.Actor().IsStaff() || !assignee.IsActive {
		return nil, invalidf("disputes can only be assigned to active moderators or admins")
	}

	updated, err := s.store.AssignDispute(ctx, disputeID, assigneeID)
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrDisputeClosed
		}
		return nil, fromStore(err, "dispute")
	}
	s.logger.Info("Dispute assigned", zap.Int64("dispute_id", disputeID), zap.Int64("assigned_to", assigneeID))
	return updated, nil
}

// AddMessageRequest is one message in a dispute conversation
type AddMessageRequest struct {
	Message    string `json:"message" binding:"required"`
	IsInternal bool   `json:"is_internal"`
}

// AddMessage appends a message to an active dispute. Internal messages are
// staff only.
func (s *DisputeService) AddMessage(ctx context.Context, actor models.Actor, disputeID int64, req AddMessageRequest) (*models.DisputeMessage, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.AddMessage", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, invalidf("message is required")
	}
	if req.IsInternal && !actor.IsStaff() {
		return nil, forbidden("only staff can post internal messages")
	}

	dispute, err := s.authorize(ctx, actor, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.IsActive() {
		return nil, ErrDisputeClosed
	}

	msg := &models.DisputeMessage{
		DisputeID:  disputeID,
		UserID:     actor.ID,
		Message:    text,
		IsInternal: req.IsInternal,
	}
	if err := s.store.AddDisputeMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrDisputeClosed
		}
		return nil, fromStore(err, "dispute")
	}
	return msg, nil
}

// ListMessages returns the conversation; internal messages only for staff
func (s *DisputeService) ListMessages(ctx context.Context, actor models.Actor, disputeID int64) ([]models.DisputeMessage, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.ListMessages", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	if _, err := s.authorize(ctx, actor, disputeID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListDisputeMessages(ctx, disputeID, actor.IsStaff())
	if err != nil {
		return nil, unexpected("failed to list messages", err)
	}
	return messages, nil
}

// AddEvidenceRequest is one piece of evidence. Content is a URL for image
// and document evidence, free text otherwise.
type AddEvidenceRequest struct {
	Type        models.EvidenceType `json:"type" binding:"required"`
	Content     string              `json:"content" binding:"required"`
	Description *string             `json:"description,omitempty"`
}

func validEvidenceURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// AddEvidence appends evidence to an active dispute
func (s *DisputeService) AddEvidence(ctx context.Context, actor models.Actor, disputeID int64, req AddEvidenceRequest) (*models.DisputeEvidence, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.AddEvidence", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	if _, err := models.ParseEvidenceType(string(req.Type)); err != nil {
		return nil, invalidf("%v", err)
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalidf("content is required")
	}
	if req.Type.IsFile() && !validEvidenceURL(content) {
		return nil, invalidf("%s evidence must be an http(s) URL", req.Type)
	}

	dispute, err := s.authorize(ctx, actor, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.IsActive() {
		return nil, ErrDisputeClosed
	}

	evidence := &models.DisputeEvidence{
		DisputeID:   disputeID,
		UserID:      actor.ID,
		Type:        req.Type,
		Content:     content,
		Description: req.Description,
	}
	if err := s.store.AddDisputeEvidence(ctx, evidence); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrDisputeClosed
		}
		return nil, fromStore(err, "dispute")
	}
	return evidence, nil
}

// ListEvidence returns the evidence attached to a dispute
func (s *DisputeService) ListEvidence(ctx context.Context, actor models.Actor, disputeID int64) ([]models.DisputeEvidence, error) {
	ctx, span := util.StartSpan(ctx, "DisputeService.ListEvidence", util.AttrDisputeID.Int64(disputeID))
	defer span.End()

	if _, err := s.authorize(ctx, actor, disputeID); err != nil {
		return nil, err
	}
	evidence, err := s.store.ListDisputeEvidence(ctx, disputeID)
	if err != nil {
		return nil, unexpected("failed to list evidence", err)
	}
	return evidence, nil
}

func (s *DisputeService) publish(ctx context.Context, eventType string, d *models.Dispute) {
	if s.eventPublisher == nil {
		return
	}
	event := &models.DisputeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now(),
		},
		DisputeID:  d.ID,
		OrderID:    d.OrderID,
		CreatedBy:  d.CreatedBy,
		Status:     d.Status,
		Resolution: d.Resolution,
	}
	if err := s.eventPublisher.PublishDisputeEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish dispute event",
			zap.String("event_type", eventType),
			zap.Int64("dispute_id", d.ID),
			zap.Error(err))
	}
}
