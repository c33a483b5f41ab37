package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const disputeColumns = `id, order_id, created_by, assigned_to, type, reason, description, status, resolution,
	resolved_at, created_at, updated_at`

// HasActiveDispute reports whether the order has an open or in-review dispute
func (s *Store) HasActiveDispute(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM disputes WHERE order_id = $1 AND status IN ('open', 'in_review'))", orderID)
	return exists, mapError(err)
}

// CreateDispute inserts a dispute. A second active dispute on the same order
// violates disputes_one_active_per_order.
func (s *Store) CreateDispute(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (order_id, created_by, type, reason, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, d, query, d.OrderID, d.CreatedBy, d.Type, d.Reason, d.Description, d.Status)
	return mapError(err)
}

// GetDisputeByID retrieves a dispute by ID
func (s *Store) GetDisputeByID(ctx context.Context, id int64) (*models.Dispute, error) {
	var d models.Dispute
	err := s.db.GetContext(ctx, &d, "SELECT "+disputeColumns+" FROM disputes WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

// ListDisputes returns one page of disputes matching filter, newest first
func (s *Store) ListDisputes(ctx context.Context, filter models.DisputeListFilter) ([]models.Dispute, int64, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.PartyID != nil {
		p := arg(*filter.PartyID)
		where = append(where, fmt.Sprintf(
			"order_id IN (SELECT id FROM orders WHERE buyer_id = %s OR seller_id = %s)", p, p))
	}
	if filter.AssignedTo != nil {
		where = append(where, "assigned_to = "+arg(*filter.AssignedTo))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM disputes WHERE "+clause, args...); err != nil {
		return nil, 0, mapError(err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf("SELECT %s FROM disputes WHERE %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		disputeColumns, clause, arg(page.PerPage), arg(page.Offset()))

	disputes := []models.Dispute{}
	if err := s.db.SelectContext(ctx, &disputes, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	return disputes, total, nil
}

// UpdateDisputeStatus moves a dispute from one status to another. Closing
// statuses stamp resolved_at and record the resolution in the same write.
func (s *Store) UpdateDisputeStatus(ctx context.Context, id int64, from, to models.DisputeStatus, resolution *string, at time.Time) (*models.Dispute, error) {
	var resolvedAt *time.Time
	if to.IsClosing() {
		resolvedAt = &at
	}

	var d models.Dispute
	err := s.db.GetContext(ctx, &d, `
		UPDATE disputes
		SET status = $1, resolution = COALESCE($2, resolution), resolved_at = COALESCE($3, resolved_at), updated_at = NOW()
		WHERE id = $4 AND status = $5
		RETURNING `+disputeColumns,
		to, resolution, resolvedAt, id, from)
	if err != nil {
		if err = mapError(err); err != ErrNotFound {
			return nil, err
		}
		if _, err := s.GetDisputeByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStaleState
	}
	return &d, nil
}

// AssignDispute sets the moderator handling an active dispute
func (s *Store) AssignDispute(ctx context.Context, id, assignee int64) (*models.Dispute, error) {
	var d models.Dispute
	err := s.db.GetContext(ctx, &d, `
		UPDATE disputes SET assigned_to = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('open', 'in_review')
		RETURNING `+disputeColumns,
		assignee, id)
	if err != nil {
		if err = mapError(err); err != ErrNotFound {
			return nil, err
		}
		if _, err := s.GetDisputeByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStaleState
	}
	return &d, nil
}

// lockActiveDispute takes a share lock on the dispute row so a concurrent
// close waits for the append to commit. Returns ErrStaleState once closed.
func lockActiveDispute(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var status models.DisputeStatus
	if err := tx.GetContext(ctx, &status, "SELECT status FROM disputes WHERE id = $1 FOR SHARE", id); err != nil {
		return mapError(err)
	}
	if !status.IsActive() {
		return ErrStaleState
	}
	return nil
}

// AddDisputeMessage appends a message to an active dispute
func (s *Store) AddDisputeMessage(ctx context.Context, m *models.DisputeMessage) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockActiveDispute(ctx, tx, m.DisputeID); err != nil {
			return err
		}
		err := tx.GetContext(ctx, m, `
			INSERT INTO dispute_messages (dispute_id, user_id, message, is_internal)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			m.DisputeID, m.UserID, m.Message, m.IsInternal)
		return mapError(err)
	})
}

// AddDisputeEvidence appends evidence to an active dispute
func (s *Store) AddDisputeEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockActiveDispute(ctx, tx, e.DisputeID); err != nil {
			return err
		}
		err := tx.GetContext(ctx, e, `
			INSERT INTO dispute_evidence (dispute_id, user_id, type, content, description)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			e.DisputeID, e.UserID, e.Type, e.Content, e.Description)
		return mapError(err)
	})
}

// ListDisputeMessages returns the conversation in posting order
func (s *Store) ListDisputeMessages(ctx context.Context, disputeID int64, includeInternal bool) ([]models.DisputeMessage, error) {
	query := `SELECT id, dispute_id, user_id, message, is_internal, created_at FROM dispute_messages WHERE dispute_id = $1`
	if !includeInternal {
		query += " AND NOT is_internal"
	}
	query += " ORDER BY created_at, id"

	messages := []models.DisputeMessage{}
	err := s.db.SelectContext(ctx, &messages, query, disputeID)
	return messages, mapError(err)
}

// ListDisputeEvidence returns the evidence attached to a dispute
func (s *Store) ListDisputeEvidence(ctx context.Context, disputeID int64) ([]models.DisputeEvidence, error) {
	evidence := []models.DisputeEvidence{}
	err := s.db.SelectContext(ctx, &evidence, `
		SELECT id, dispute_id, user_id, type, content, description, created_at
		FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at, id`, disputeID)
	return evidence, mapError(err)
}
