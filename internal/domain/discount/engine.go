package discount

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/shopengine/discount/internal/domain/cart"
)

// ProductSource lists the full product catalog. Eligibility starts from the
// whole catalog and narrows from there.
type ProductSource interface {
	All(ctx context.Context) ([]cart.Product, error)
}

// Engine applies discount records to carts: it resolves product eligibility
// through the filter registry and folds each record's contribution into the
// cart's or line's extra price fields.
type Engine struct {
	registry *Registry
	products ProductSource
}

// NewEngine creates an Engine over the given filter registry and catalog.
func NewEngine(registry *Registry, products ProductSource) *Engine {
	return &Engine{registry: registry, products: products}
}

// EligibleProducts returns the products the record may apply to: the filter
// chain for its kind intersected over the catalog, optionally narrowed to the
// candidate set. Results are cached on the record instance keyed by the
// candidate set's identity, for the lifetime of that instance.
func (e *Engine) EligibleProducts(ctx context.Context, rec *Record, candidates []cart.Product) ([]cart.Product, error) {
	key := candidateKey(candidates)
	if cached, ok := rec.eligible[key]; ok {
		return cached, nil
	}

	pool := candidates
	if pool == nil {
		all, err := e.products.All(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list products")
		}
		pool = all
	}

	chain := e.registry.chain(rec.Kind)
	eligible := make([]cart.Product, 0, len(pool))
	for _, p := range pool {
		if matchesAll(chain, p) {
			eligible = append(eligible, p)
		}
	}

	if rec.eligible == nil {
		rec.eligible = make(map[string][]cart.Product)
	}
	rec.eligible[key] = eligible
	return eligible, nil
}

// IsEligibleProduct reports whether the product should be discounted by the
// record within the given cart, judged against the cart's distinct products.
func (e *Engine) IsEligibleProduct(ctx context.Context, rec *Record, p cart.Product, c *cart.Cart) (bool, error) {
	eligible, err := e.EligibleProducts(ctx, rec, c.DistinctProducts())
	if err != nil {
		return false, err
	}
	for _, ep := range eligible {
		if ep.ID == p.ID {
			return true, nil
		}
	}
	return false, nil
}

// Apply folds the record's contribution into the cart: cart-level kinds
// append to the cart's extra price fields, item-level kinds to each eligible
// line's. Lines where the record does not apply stay untouched.
func (e *Engine) Apply(ctx context.Context, rec *Record, c *cart.Cart) error {
	if !rec.Kind.Valid() {
		return errors.Errorf("unsupported discount kind: %q", rec.Kind)
	}

	if rec.Kind.CartLevel() {
		if pf, ok := rec.CartContribution(c); ok {
			c.ExtraPriceFields = append(c.ExtraPriceFields, pf)
		}
		return nil
	}

	for _, item := range c.Items {
		eligible, err := e.IsEligibleProduct(ctx, rec, item.Product, c)
		if err != nil {
			return err
		}
		if pf, ok := rec.LineContribution(item, eligible); ok {
			item.ExtraPriceFields = append(item.ExtraPriceFields, pf)
		}
	}
	return nil
}

// ApplyAll applies every record in order. No precedence or stacking rule is
// enforced here: the caller gets the union of all contributions.
func (e *Engine) ApplyAll(ctx context.Context, recs []*Record, c *cart.Cart) error {
	for _, rec := range recs {
		if err := e.Apply(ctx, rec, c); err != nil {
			return errors.Wrapf(err, "apply discount %s", rec.ID)
		}
	}
	return nil
}

func matchesAll(chain []Filter, p cart.Product) bool {
	for _, f := range chain {
		if !f.Match(p) {
			return false
		}
	}
	return true
}
