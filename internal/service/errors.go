package service

import (
	"errors"
	"fmt"

	"marketplace-service/internal/store"
)

// Kind classifies a failure so the transport can pick a status code
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthorization
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindUnauthenticated:
		return "unauthenticated"
	}
	return "unexpected"
}

// Code is a stable, machine-readable error identifier
type Code string

const (
	CodeInvalidInput       Code = "InvalidInput"
	CodeNotFound           Code = "NotFound"
	CodeForbidden          Code = "Forbidden"
	CodeInvalidCredentials Code = "InvalidCredentials"
	CodeInternal           Code = "Internal"
	CodeDuplicateEmail     Code = "DuplicateEmail"
	CodeProductUnavailable Code = "ProductUnavailable"
	CodeOrderNotDisputable Code = "OrderNotDisputable"
	CodeNotAParty          Code = "NotAParty"
	CodeDisputeClosed      Code = "DisputeClosed"
	CodeInvalidRating      Code = "InvalidRating"
	CodeDuplicateReview    Code = "DuplicateReview"
	CodeNotEligible        Code = "NotEligible"
	CodeInvalidTransition  Code = "InvalidTransition"
	CodeCategoryInUse      Code = "CategoryInUse"
	CodeRequestInProgress  Code = "RequestInProgress"
	CodeProductChanged     Code = "ProductChanged"
)

// Error is the error type returned by every service operation
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against the sentinels below
// regardless of message or kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrDuplicateEmail     = &Error{Kind: KindConflict, Code: CodeDuplicateEmail, Message: "email already registered"}
	ErrInvalidCredentials = &Error{Kind: KindUnauthenticated, Code: CodeInvalidCredentials, Message: "invalid email or password"}
	ErrForbidden          = &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: "not allowed"}
	ErrProductUnavailable = &Error{Kind: KindConflict, Code: CodeProductUnavailable, Message: "product unavailable"}
	ErrOrderNotDisputable = &Error{Kind: KindConflict, Code: CodeOrderNotDisputable, Message: "order cannot be disputed"}
	ErrNotAParty          = &Error{Kind: KindAuthorization, Code: CodeNotAParty, Message: "user is not a party to the order"}
	ErrDisputeClosed      = &Error{Kind: KindConflict, Code: CodeDisputeClosed, Message: "dispute is closed"}
	ErrInvalidRating      = &Error{Kind: KindValidation, Code: CodeInvalidRating, Message: "rating must be between 1 and 5"}
	ErrDuplicateReview    = &Error{Kind: KindConflict, Code: CodeDuplicateReview, Message: "product already reviewed for this order"}
	ErrNotEligible        = &Error{Kind: KindConflict, Code: CodeNotEligible, Message: "not eligible to review this product"}
	ErrInvalidTransition  = &Error{Kind: KindConflict, Code: CodeInvalidTransition, Message: "transition not allowed"}
	ErrCategoryInUse      = &Error{Kind: KindConflict, Code: CodeCategoryInUse, Message: "category is referenced by products"}
	ErrRequestInProgress  = &Error{Kind: KindConflict, Code: CodeRequestInProgress, Message: "a request with this idempotency key is in progress"}
	ErrProductChanged     = &Error{Kind: KindConflict, Code: CodeProductChanged, Message: "product stock changed since it was read, reload and retry"}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
)

func invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: entity + " not found"}
}

func forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: msg}
}

func conflict(code Code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func unexpected(msg string, err error) *Error {
	return &Error{Kind: KindUnexpected, Code: CodeInternal, Message: msg, Err: err}
}

// fromStore translates a store lookup failure for entity
func fromStore(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(entity)
	}
	return unexpected("failed to load "+entity, err)
}

// KindOf reports the Kind of err. Errors that did not come from this package are unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
