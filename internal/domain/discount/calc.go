package discount

import (
	"github.com/shopspring/decimal"

	"github.com/shopengine/discount/internal/domain/cart"
)

var hundred = decimal.NewFromInt(100)

// CartContribution computes the record's adjustment to the whole cart.
// The second return is false for item-level kinds, which never contribute at
// cart granularity. Absolute amounts are returned as configured, never
// clamped to the subtotal; negative-total protection is the pipeline's job.
func (r *Record) CartContribution(c *cart.Cart) (cart.PriceField, bool) {
	switch r.Kind {
	case KindPercentCart:
		amount := r.Amount.Div(hundred).Mul(c.SubtotalPrice()).Round(2)
		return cart.PriceField{Label: r.Title, Amount: amount}, true
	case KindAbsoluteCart:
		return cart.PriceField{Label: r.Title, Amount: r.Amount.Round(2)}, true
	}
	return cart.PriceField{}, false
}

// LineContribution computes the record's adjustment to one cart line.
// eligible is the product-eligibility verdict supplied by the caller. A false
// second return means "not applicable": the field must not appear in the
// itemized breakdown at all, which is distinct from a zero amount.
func (r *Record) LineContribution(item *cart.Item, eligible bool) (cart.PriceField, bool) {
	if !eligible {
		return cart.PriceField{}, false
	}
	switch r.Kind {
	case KindPercentItem:
		amount := r.Amount.Div(hundred).Mul(item.LineSubtotal).Round(2)
		return cart.PriceField{Label: r.Title, Amount: amount}, true
	case KindAbsoluteItem:
		return cart.PriceField{Label: r.Title, Amount: r.Amount.Round(2)}, true
	case KindBulkItem:
		if item.Quantity < r.MinQuantity {
			return cart.PriceField{}, false
		}
		amount := r.Amount.Div(hundred).Mul(item.LineSubtotal).Round(2)
		return cart.PriceField{Label: r.Title, Amount: amount}, true
	}
	return cart.PriceField{}, false
}
