package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRetryExhausted matches every error returned after the attempt cap was reached.
var ErrRetryExhausted = errors.New("retry exhausted")

// RetryExhaustedError reports the operation that kept failing transiently and the last failure.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both ErrRetryExhausted and the last underlying error.
func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// Class is the retry classification of an error.
type Class int

const (
	// ClassPermanent errors are returned immediately.
	ClassPermanent Class = iota
	// ClassTransient errors are retried with backoff.
	ClassTransient
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) Class

type markedError struct {
	err   error
	class Class
}

func (m *markedError) Error() string { return m.err.Error() }
func (m *markedError) Unwrap() error { return m.err }

// Transient marks err as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, class: ClassTransient}
}

// Permanent marks err as non-retryable regardless of its type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, class: ClassPermanent}
}

// IsTransient reports whether the default classifier would retry err. Exhausted retries count
// as transient so callers can still ask the remote side to try again later.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRetryExhausted) {
		return true
	}
	return DefaultClassifier(err) == ClassTransient
}

type unavailable interface {
	IsUnavailable() bool
}

// DefaultClassifier treats dropped connections, timeouts and unavailable backends as transient.
// Validation, not-found, conflicts and caller cancellation are permanent.
func DefaultClassifier(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var marked *markedError
	if errors.As(err, &marked) {
		return marked.class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	var backend unavailable
	if errors.As(err, &backend) {
		if backend.IsUnavailable() {
			return ClassTransient
		}
		return ClassPermanent
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return ClassTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return ClassTransient
	}
	return ClassPermanent
}
