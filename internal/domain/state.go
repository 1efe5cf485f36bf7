package domain

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Terminal reports whether no further fulfilment transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether the status is known.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

// Terminal reports whether no further payment transitions are allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// Valid reports whether the payment status is known.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// CanAdvanceStatus reports whether the fulfilment status may move from one state to another.
// Moves are forward-only; cancelled is reachable from any non-terminal state.
func CanAdvanceStatus(from, to OrderStatus) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	return statusRank[to] > fromRank
}

// CanAdvancePayment reports whether the payment status may move from one state to another.
func CanAdvancePayment(from, to PaymentStatus) bool {
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusPaid || to == PaymentStatusFailed
	case PaymentStatusPaid:
		return to == PaymentStatusRefunded
	default:
		return false
	}
}

// CanTransition reports whether next is reachable from current. Either axis may stay unchanged,
// but at least one must move, and a confirmed provider-billed order must be paid.
func CanTransition(current, next OrderState, method PaymentMethod) bool {
	if current == next {
		return false
	}
	if current.Status != next.Status && !CanAdvanceStatus(current.Status, next.Status) {
		return false
	}
	if current.PaymentStatus != next.PaymentStatus && !CanAdvancePayment(current.PaymentStatus, next.PaymentStatus) {
		return false
	}
	if method.ProviderBilled() && next.Status == OrderStatusConfirmed && next.PaymentStatus != PaymentStatusPaid {
		return false
	}
	return true
}
