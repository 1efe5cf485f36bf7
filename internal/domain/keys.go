package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// OrderNumberPrefix marks human-facing order numbers.
const OrderNumberPrefix = "ORD-"

// ErrInvalidOrderKey indicates a lookup key that is neither an order id nor an order number.
var ErrInvalidOrderKey = errors.New("domain: invalid order key")

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-\d{6}$`)

// OrderKeyKind tags which identifier space an OrderKey belongs to.
type OrderKeyKind int

const (
	KeyKindID OrderKeyKind = iota + 1
	KeyKindNumber
)

func (k OrderKeyKind) String() string {
	switch k {
	case KeyKindID:
		return "id"
	case KeyKindNumber:
		return "number"
	default:
		return "unknown"
	}
}

// OrderKey identifies an order either by internal id or by order number, never ambiguously.
type OrderKey struct {
	Kind  OrderKeyKind
	Value string
}

// OrderIDKey builds a key for an internal order id.
func OrderIDKey(id string) OrderKey {
	return OrderKey{Kind: KeyKindID, Value: strings.TrimSpace(id)}
}

// OrderNumberKey builds a key for a human-facing order number.
func OrderNumberKey(number string) OrderKey {
	return OrderKey{Kind: KeyKindNumber, Value: strings.ToUpper(strings.TrimSpace(number))}
}

// ParseOrderKey classifies raw input as an order number or an order id.
func ParseOrderKey(raw string) (OrderKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return OrderKey{}, ErrInvalidOrderKey
	}
	upper := strings.ToUpper(raw)
	if strings.HasPrefix(upper, OrderNumberPrefix) {
		if !orderNumberPattern.MatchString(upper) {
			return OrderKey{}, fmt.Errorf("%w: %q", ErrInvalidOrderKey, raw)
		}
		return OrderKey{Kind: KeyKindNumber, Value: upper}, nil
	}
	if _, err := ulid.ParseStrict(upper); err != nil {
		return OrderKey{}, fmt.Errorf("%w: %q", ErrInvalidOrderKey, raw)
	}
	return OrderKey{Kind: KeyKindID, Value: upper}, nil
}

// Valid reports whether the key carries a known kind and a value.
func (k OrderKey) Valid() bool {
	return (k.Kind == KeyKindID || k.Kind == KeyKindNumber) && k.Value != ""
}

// Matches reports whether the order is identified by the key.
func (k OrderKey) Matches(order Order) bool {
	switch k.Kind {
	case KeyKindID:
		return order.ID == k.Value
	case KeyKindNumber:
		return order.Number == k.Value
	default:
		return false
	}
}

func (k OrderKey) String() string {
	return k.Kind.String() + ":" + k.Value
}
