package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate wraps unique constraint violations
	ErrDuplicate = errors.New("duplicate")
	// ErrReferenced wraps foreign key violations
	ErrReferenced = errors.New("referenced")
	// ErrCheckViolation wraps check constraint violations
	ErrCheckViolation = errors.New("check violation")
	// ErrInsufficientStock is returned when a conditional stock decrement matches no row
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleState is returned when a compare-and-swap update finds the row in another state
	ErrStaleState = errors.New("stale state")
)

// Constraint names referenced by callers
const (
	ConstraintUserEmail          = "users_email_key"
	ConstraintCategorySlug       = "categories_slug_key"
	ConstraintProductSlug        = "products_slug_key"
	ConstraintOrderNumber        = "orders_order_number_key"
	ConstraintOrderIdempotency   = "orders_idempotency_key_key"
	ConstraintOneActiveDispute   = "disputes_one_active_per_order"
	ConstraintReviewUnique       = "reviews_user_product_order_key"
	ConstraintProductCategoryRef = "products_category_id_fkey"
)

// ConstraintError is a constraint violation reported by Postgres
type ConstraintError struct {
	Kind       error
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Constraint)
}

func (e *ConstraintError) Unwrap() error {
	return e.Kind
}

// IsConstraint reports whether err is a violation of the named constraint
func IsConstraint(err error, name string) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Constraint == name
}

// SQLSTATE classes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// mapError translates driver errors into store errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return &ConstraintError{Kind: ErrDuplicate, Constraint: pqErr.Constraint, Detail: pqErr.Detail}
		case pqForeignKeyViolation:
			return &ConstraintError{Kind: ErrReferenced, Constraint: pqErr.Constraint, Detail: pqErr.Detail}
		case pqCheckViolation:
			return &ConstraintError{Kind: ErrCheckViolation, Constraint: pqErr.Constraint, Detail: pqErr.Detail}
		}
	}
	return err
}
