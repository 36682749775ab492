package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so adapters can pick a response without
// matching on individual errors.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error is a sentinel business error. Compare with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidQuantity = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrEmptyCart       = newError(KindValidation, "empty_cart", "cart is empty")
	ErrInvalidAccount  = newError(KindValidation, "invalid_account", "account needs a name and a known role")

	ErrInsufficientStock = newError(KindConflict, "insufficient_stock", "insufficient stock")
	ErrIllegalTransition = newError(KindConflict, "illegal_transition", "illegal status transition")
	ErrAlreadyPaid       = newError(KindConflict, "already_paid", "order already paid")
	ErrCanceled          = newError(KindConflict, "canceled", "order is canceled")
	ErrNotCancelable     = newError(KindConflict, "not_cancelable", "order cannot be canceled")
	ErrNotOwner          = newError(KindConflict, "not_owner", "requester does not own this resource")
	ErrStatusConflict    = newError(KindConflict, "status_conflict", "order status changed concurrently")

	ErrNotFound = newError(KindNotFound, "not_found", "not found")

	ErrGatewayFailure     = newError(KindExternal, "gateway_failure", "payment gateway failure")
	ErrStorageUnavailable = newError(KindExternal, "storage_unavailable", "storage unavailable")
)

// RejectionError ties a sentinel to the aggregate that caused it.
type RejectionError struct {
	Cause    *Error
	Entity   EntityType
	EntityID string
	Detail   error
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Entity, e.EntityID, e.Cause.Message)
	if e.Detail != nil {
		msg += ": " + e.Detail.Error()
	}
	return msg
}

func (e *RejectionError) Unwrap() []error {
	if e.Detail != nil {
		return []error{e.Cause, e.Detail}
	}
	return []error{e.Cause}
}

// Reject wraps cause with the offending aggregate.
func Reject(cause *Error, entity EntityType, id string) error {
	return &RejectionError{Cause: cause, Entity: entity, EntityID: id}
}

// RejectWith is Reject carrying the underlying error, e.g. a gateway decline.
func RejectWith(cause *Error, entity EntityType, id string, detail error) error {
	return &RejectionError{Cause: cause, Entity: entity, EntityID: id, Detail: detail}
}

// KindOf reports the Kind of err. Errors outside the taxonomy count as external.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Cause.Kind
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExternal
}

// CodeOf reports the business code of err, or "internal".
func CodeOf(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Cause.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
