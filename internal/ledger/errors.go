package ledger

import (
	"context"
	"errors"

	"github.com/lumipay/lumipay/internal/idgen"
)

// Kind classifies ledger failures so callers can react without matching on individual errors.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindLimitExceeded       Kind = "limit_exceeded"
	KindInvalidInput        Kind = "invalid_input"
	KindGenerationExhausted Kind = "generation_exhausted"
	KindTimedOut            Kind = "timeout"
	KindContention          Kind = "contention"
	KindInternal            Kind = "internal"
)

// Error is a classified ledger error. Sentinels are compared by identity, so wrap them with %w.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// NewError builds a classified sentinel error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrAccountNotFound occurs when no wallet matches the requested identifier.
	ErrAccountNotFound = NewError(KindNotFound, "account_not_found", "account not found")

	// ErrAccountExists indicates the owner already holds a wallet.
	ErrAccountExists = NewError(KindConflict, "account_exists", "account already exists for owner")

	// ErrSelfTransfer rejects transfers whose sender and recipient are the same account.
	ErrSelfTransfer = NewError(KindConflict, "self_transfer_rejected", "cannot send money to yourself")

	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = NewError(KindInsufficientFunds, "insufficient_funds", "insufficient funds")

	// ErrInvalidAmount rejects non-positive amounts or amounts with more than two decimals.
	ErrInvalidAmount = NewError(KindInvalidInput, "invalid_amount", "amount must be positive with at most two decimal places")

	// ErrInvalidWindow rejects a history window with a negative offset or a non-positive limit.
	ErrInvalidWindow = NewError(KindInvalidInput, "invalid_window", "history window out of range")

	// ErrDuplicateID signals a generated identifier collided with an existing one.
	// The unit of work stays usable so the caller can retry with a fresh candidate.
	ErrDuplicateID = NewError(KindConflict, "duplicate_identifier", "identifier already in use")

	// ErrAccountNotLocked is returned when a unit of work touches an account it did not lock.
	ErrAccountNotLocked = NewError(KindInternal, "account_not_locked", "account is not part of the unit of work")

	// ErrGenerationExhausted is the classified form of idgen.ErrExhausted.
	ErrGenerationExhausted = NewError(KindGenerationExhausted, "generation_exhausted", "could not allocate a unique identifier")

	// ErrTimedOut is returned when a lock or the store did not respond within the operation deadline.
	ErrTimedOut = NewError(KindTimedOut, "operation_timed_out", "operation timed out")

	// ErrContention is returned when the store aborted the unit because of a conflicting writer.
	ErrContention = NewError(KindContention, "contention", "concurrent update conflict, retry")
)

// KindOf returns the classification of err, or KindInternal when err is not a ledger error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, idgen.ErrExhausted):
		return KindGenerationExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	}
	return KindInternal
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	switch KindOf(err) {
	case KindGenerationExhausted:
		return ErrGenerationExhausted.Code
	case KindTimedOut:
		return ErrTimedOut.Code
	}
	return "internal_error"
}

// Retryable reports whether the operation may succeed if the client simply tries again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimedOut, KindContention:
		return true
	default:
		return false
	}
}

// IsDuplicateID reports whether err is an identifier collision.
func IsDuplicateID(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}

// RetryUnique runs try until it stops colliding, up to attempts times.
func RetryUnique(attempts int, try func() error) error {
	return idgen.Retry(attempts, IsDuplicateID, try)
}
