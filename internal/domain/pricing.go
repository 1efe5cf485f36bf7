package domain

import (
	"github.com/shopspring/decimal"
)

// PricingRules are the fixed shipping and tax constants applied at order time.
type PricingRules struct {
	// FreeShippingThreshold is the subtotal at or above which shipping is free.
	FreeShippingThreshold Money
	// FlatShipping is charged below the threshold.
	FlatShipping Money
	// TaxRate is a fraction of the subtotal, e.g. 0.18.
	TaxRate decimal.Decimal
}

// Subtotal sums the line totals, recomputing each from unit price and quantity, and fails once any
// line or the running sum exceeds MaxOrderAmount.
func Subtotal(items []OrderItem) (Money, error) {
	var subtotal Money
	for _, item := range items {
		line, err := item.UnitPrice.TimesChecked(item.Quantity)
		if err != nil {
			return 0, err
		}
		if subtotal, err = subtotal.AddChecked(line); err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// Price computes order totals for the supplied items. Items must pass Subtotal first.
func (r PricingRules) Price(items []OrderItem, discount Money) Totals {
	var subtotal Money
	for _, item := range items {
		subtotal += item.Total
	}

	shipping := r.FlatShipping
	if subtotal >= r.FreeShippingThreshold {
		shipping = 0
	}

	tax := Money(subtotal.Decimal().Mul(r.TaxRate).Mul(minorUnitScale).Round(0).IntPart())
	if tax < 0 {
		tax = 0
	}

	if discount < 0 {
		discount = 0
	}
	gross := subtotal + shipping + tax
	if discount > gross {
		discount = gross
	}

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    gross - discount,
	}
}

// NewOrderItem freezes a line item with its derived total.
func NewOrderItem(productID, name string, quantity int, unitPrice Money) OrderItem {
	return OrderItem{
		ProductID: productID,
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Total:     unitPrice.Times(quantity),
	}
}
