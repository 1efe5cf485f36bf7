package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine readable reason attached to a RepositoryError.
type ErrorCode string

const (
	CodeNotFound               ErrorCode = "not_found"
	CodeDuplicateOrderNumber   ErrorCode = "duplicate_order_number"
	CodeDuplicatePaymentIntent ErrorCode = "duplicate_payment_intent"
	CodeStaleState             ErrorCode = "stale_state"
	CodeEventAlreadyApplied    ErrorCode = "event_already_applied"
	CodeUserExists             ErrorCode = "user_exists"
	CodeUnavailable            ErrorCode = "unavailable"
)

var (
	ErrNotFound              = errors.New("repositories: not found")
	ErrDuplicateOrderNumber  = errors.New("repositories: duplicate order number")
	ErrPaymentIntentConflict = errors.New("repositories: payment intent conflict")
	ErrStaleState            = errors.New("repositories: stale order state")
	ErrEventAlreadyApplied   = errors.New("repositories: event already applied")
	ErrUserExists            = errors.New("repositories: user exists")
	ErrUnavailable           = errors.New("repositories: backend unavailable")
)

var sentinels = map[ErrorCode]error{
	CodeNotFound:               ErrNotFound,
	CodeDuplicateOrderNumber:   ErrDuplicateOrderNumber,
	CodeDuplicatePaymentIntent: ErrPaymentIntentConflict,
	CodeStaleState:             ErrStaleState,
	CodeEventAlreadyApplied:    ErrEventAlreadyApplied,
	CodeUserExists:             ErrUserExists,
	CodeUnavailable:            ErrUnavailable,
}

// RepositoryError categorises persistence failures for services and the retry executor.
type RepositoryError struct {
	Code ErrorCode
	Op   string
	Err  error
}

// NewError builds a RepositoryError for op.
func NewError(code ErrorCode, op string, err error) *RepositoryError {
	return &RepositoryError{Code: code, Op: op, Err: err}
}

func (e *RepositoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the code sentinel and the cause so both match with errors.Is.
func (e *RepositoryError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if sentinel, ok := sentinels[e.Code]; ok {
		out = append(out, sentinel)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *RepositoryError) IsNotFound() bool {
	return e != nil && e.Code == CodeNotFound
}

func (e *RepositoryError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeDuplicateOrderNumber, CodeDuplicatePaymentIntent, CodeStaleState, CodeEventAlreadyApplied, CodeUserExists:
		return true
	}
	return false
}

func (e *RepositoryError) IsUnavailable() bool {
	return e != nil && e.Code == CodeUnavailable
}

// IsNotFound reports whether err is a repository not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
