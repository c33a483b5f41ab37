package models

import (
	"fmt"
	"time"
)

// DisputeType classifies the complaint raised against an order
type DisputeType string

const (
	DisputeNotAsDescribed      DisputeType = "product_not_as_described"
	DisputeNotDelivered        DisputeType = "product_not_delivered"
	DisputeSellerNotResponding DisputeType = "seller_not_responding"
	DisputeOther               DisputeType = "other"
)

func ParseDisputeType(s string) (DisputeType, error) {
	switch t := DisputeType(s); t {
	case DisputeNotAsDescribed, DisputeNotDelivered, DisputeSellerNotResponding, DisputeOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown dispute type %q", s)
}

func (t *DisputeType) UnmarshalText(b []byte) error {
	v, err := ParseDisputeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DisputeStatus is the resolution lifecycle state of a dispute
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeInReview DisputeStatus = "in_review"
	DisputeResolved DisputeStatus = "resolved"
	DisputeDeclined DisputeStatus = "declined"
)

// ActiveDisputeStatuses are the statuses counted by the one-active-dispute-per-order rule
var ActiveDisputeStatuses = []DisputeStatus{DisputeOpen, DisputeInReview}

func ParseDisputeStatus(s string) (DisputeStatus, error) {
	switch d := DisputeStatus(s); d {
	case DisputeOpen, DisputeInReview, DisputeResolved, DisputeDeclined:
		return d, nil
	}
	return "", fmt.Errorf("unknown dispute status %q", s)
}

func (d *DisputeStatus) UnmarshalText(b []byte) error {
	v, err := ParseDisputeStatus(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// IsActive reports whether the dispute has not been closed
func (d DisputeStatus) IsActive() bool {
	return d == DisputeOpen || d == DisputeInReview
}

// IsClosing reports whether entering d closes the dispute
func (d DisputeStatus) IsClosing() bool {
	return d == DisputeResolved || d == DisputeDeclined
}

// CanTransitionTo reports whether a dispute may move from d to next
func (d DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	switch d {
	case DisputeOpen:
		return next == DisputeInReview || next == DisputeDeclined
	case DisputeInReview:
		return next == DisputeResolved || next == DisputeDeclined
	}
	return false
}

// Dispute is a complaint against exactly one order
type Dispute struct {
	ID          int64         `db:"id" json:"id"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	CreatedBy   int64         `db:"created_by" json:"created_by"`
	AssignedTo  *int64        `db:"assigned_to" json:"assigned_to,omitempty"`
	Type        DisputeType   `db:"type" json:"type"`
	Reason      string        `db:"reason" json:"reason"`
	Description string        `db:"description" json:"description"`
	Status      DisputeStatus `db:"status" json:"status"`
	Resolution  *string       `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt  *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// DisputeMessage is an append-only entry in a dispute conversation
type DisputeMessage struct {
	ID         int64     `db:"id" json:"id"`
	DisputeID  int64     `db:"dispute_id" json:"dispute_id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Message    string    `db:"message" json:"message"`
	IsInternal bool      `db:"is_internal" json:"is_internal"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// EvidenceType tells how DisputeEvidence.Content is interpreted
type EvidenceType string

const (
	EvidenceImage    EvidenceType = "image"
	EvidenceDocument EvidenceType = "document"
	EvidenceText     EvidenceType = "text"
)

func ParseEvidenceType(s string) (EvidenceType, error) {
	switch e := EvidenceType(s); e {
	case EvidenceImage, EvidenceDocument, EvidenceText:
		return e, nil
	}
	return "", fmt.Errorf("unknown evidence type %q", s)
}

func (e *EvidenceType) UnmarshalText(b []byte) error {
	v, err := ParseEvidenceType(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// IsFile reports whether content of this type is a URL
func (e EvidenceType) IsFile() bool {
	return e == EvidenceImage || e == EvidenceDocument
}

// DisputeEvidence is an append-only attachment on a dispute
type DisputeEvidence struct {
	ID          int64        `db:"id" json:"id"`
	DisputeID   int64        `db:"dispute_id" json:"dispute_id"`
	UserID      int64        `db:"user_id" json:"user_id"`
	Type        EvidenceType `db:"type" json:"type"`
	Content     string       `db:"content" json:"content"`
	Description *string      `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// DisputeListFilter selects disputes. PartyID limits to orders the user bought or sold.
type DisputeListFilter struct {
	PartyID    *int64
	AssignedTo *int64
	Status     *DisputeStatus
	Page       Page
}
