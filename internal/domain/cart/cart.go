// Package cart holds the checkout-pipeline collaborator types the discount
// engine operates on. The engine never owns these: carts, line items and
// products are built by the surrounding pipeline and handed in per request.
package cart

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog item referenced by cart line items. Attributes carries
// arbitrary filterable key/value pairs used by product eligibility filters.
type Product struct {
	ID         string
	Name       string
	Category   string
	Price      decimal.Decimal
	Attributes map[string]string
}

// Attribute returns the named filterable attribute. The identity fields are
// addressable under their conventional keys so filters never need reflection.
func (p Product) Attribute(key string) string {
	switch key {
	case "id":
		return p.ID
	case "name":
		return p.Name
	case "category":
		return p.Category
	}
	return p.Attributes[key]
}

// PriceField is one itemized adjustment folded into a displayed total by the
// checkout pipeline.
type PriceField struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Item is a single cart line.
type Item struct {
	Product  Product
	Quantity int

	// LineSubtotal is computed by the pipeline (unit price * quantity,
	// before any adjustment).
	LineSubtotal decimal.Decimal

	// ExtraPriceFields collects per-line discount contributions.
	ExtraPriceFields []PriceField
}

// NewItem builds a line item with its subtotal derived from the product price.
func NewItem(p Product, quantity int) *Item {
	return &Item{
		Product:      p,
		Quantity:     quantity,
		LineSubtotal: p.Price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Cart is one shopper's cart as seen at checkout time.
type Cart struct {
	ID    string
	Items []*Item

	// ExtraPriceFields collects cart-level discount contributions.
	ExtraPriceFields []PriceField
}

// SubtotalPrice sums the line subtotals before any adjustment.
func (c *Cart) SubtotalPrice() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.LineSubtotal)
	}
	return sum
}

// DistinctProducts returns the unique products in the cart, first occurrence
// order preserved.
func (c *Cart) DistinctProducts() []Product {
	seen := make(map[string]struct{}, len(c.Items))
	out := make([]Product, 0, len(c.Items))
	for _, it := range c.Items {
		if _, ok := seen[it.Product.ID]; ok {
			continue
		}
		seen[it.Product.ID] = struct{}{}
		out = append(out, it.Product)
	}
	return out
}
