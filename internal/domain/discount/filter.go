package discount

import (
	"sort"
	"strings"

	"github.com/shopengine/discount/internal/domain/cart"
)

// Filter restricts which products a discount kind may ever apply to.
// Filters registered for a kind compose by intersection: a product is
// eligible only when every filter in the chain matches it.
type Filter interface {
	Match(p cart.Product) bool
}

// FilterFunc adapts a plain predicate to the Filter interface.
type FilterFunc func(p cart.Product) bool

// Match implements Filter.
func (f FilterFunc) Match(p cart.Product) bool { return f(p) }

// FieldMatch returns a Filter matching products whose attributes carry every
// given key/value pair. Keys resolve through cart.Product.Attribute, so the
// identity fields ("id", "name", "category") work alongside free-form
// attributes.
func FieldMatch(fields map[string]string) Filter {
	return FilterFunc(func(p cart.Product) bool {
		for k, v := range fields {
			if p.Attribute(k) != v {
				return false
			}
		}
		return true
	})
}

// Registry is the process-wide product filter registry, keyed by discount
// kind. Feature modules populate it once at startup; afterwards it is
// read-only and safe for concurrent reads. It is passed explicitly to the
// Engine rather than reached through shared state.
type Registry struct {
	filters map[Kind][]Filter
}

// NewRegistry creates an empty filter registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[Kind][]Filter)}
}

// Register appends a filter to the kind's chain. Not safe for use after the
// registry went into service.
func (g *Registry) Register(kind Kind, f Filter) {
	g.filters[kind] = append(g.filters[kind], f)
}

// chain returns the kind's registered filters. An absent kind means an empty
// chain, i.e. every product is eligible.
func (g *Registry) chain(kind Kind) []Filter {
	return g.filters[kind]
}

// candidateKey derives the cache key identifying a candidate product set.
// A nil candidate set (meaning "the full catalog") maps to a sentinel.
func candidateKey(candidates []cart.Product) string {
	if candidates == nil {
		return "*"
	}
	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
