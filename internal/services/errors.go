package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOrderInvalidInput indicates the order request failed validation.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates no order matches the key.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderInvalidState indicates the order cannot accept the requested operation in its current state.
	ErrOrderInvalidState = errors.New("orders: invalid state")
	// ErrPaymentAmountMismatch indicates the requested charge differs from the order total.
	ErrPaymentAmountMismatch = errors.New("payments: amount does not match order total")
	// ErrPaymentInvalidInput indicates the payment request failed validation.
	ErrPaymentInvalidInput = errors.New("payments: invalid input")
	// ErrPaymentProviderUnavailable indicates the provider could not be reached after retries.
	ErrPaymentProviderUnavailable = errors.New("payments: provider unavailable")
)

// ValidationError lists every rejected field of a request. It matches the sentinel it wraps.
type ValidationError struct {
	Sentinel error
	Fields   map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Fields[key]))
	}
	return fmt.Sprintf("%v: %s", e.Sentinel, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Sentinel }

type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

func (f fieldErrors) err(sentinel error) error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Sentinel: sentinel, Fields: map[string]string(f)}
}
