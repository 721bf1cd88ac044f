// Package discount implements the promotional discount engine: the record
// hierarchy, product eligibility filtering, the active-discount query, the
// per-cart and per-line calculators, and the usage accounting fired on order
// completion.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopengine/discount/internal/domain/cart"
)

// Kind tags the concrete discount variant. The set is closed: each kind maps
// to exactly one calculation strategy.
type Kind string

const (
	// KindPercentCart applies amount% to the whole cart subtotal.
	KindPercentCart Kind = "percent_cart"
	// KindAbsoluteCart applies a flat amount to the whole cart.
	KindAbsoluteCart Kind = "absolute_cart"
	// KindPercentItem applies amount% to each eligible line subtotal.
	KindPercentItem Kind = "percent_item"
	// KindAbsoluteItem applies a flat amount to each eligible line.
	KindAbsoluteItem Kind = "absolute_item"
	// KindBulkItem applies amount% to eligible lines with quantity >= MinQuantity.
	KindBulkItem Kind = "bulk_item"
)

// Valid reports whether k is one of the known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindPercentCart, KindAbsoluteCart, KindPercentItem, KindAbsoluteItem, KindBulkItem:
		return true
	}
	return false
}

// CartLevel reports whether the variant contributes to the cart total rather
// than to individual lines.
func (k Kind) CartLevel() bool {
	return k == KindPercentCart || k == KindAbsoluteCart
}

// Sentinel errors shared by the engine and its repositories.
var (
	// ErrNotFound is returned when no discount record matches a lookup.
	ErrNotFound = errors.New("discount not found")
	// ErrNoCodes is returned when a discount's unique-code ledger is empty.
	ErrNoCodes = errors.New("no unique codes issued")
	// ErrCodeNotFound is returned when a unique code is absent from the
	// ledger, including the case of an already-consumed code.
	ErrCodeNotFound = errors.New("unique code not found")
	// ErrNoCartCode is returned when a cart has no attached discount code.
	ErrNoCartCode = errors.New("no discount code attached to cart")
)

// Record is one discount rule's configuration. The zero MinQuantity is
// meaningful only for KindBulkItem.
type Record struct {
	ID    string
	Kind  Kind
	Title string

	// Code is the shared code required to activate the discount; empty
	// means no shared code is required. Always empty when UniqueCodes is
	// set (enforced by OnSave).
	Code string

	// UniqueCodes switches activation to consuming an entry from the
	// record's unique-code ledger instead of matching Code.
	UniqueCodes bool

	ValidFrom  time.Time
	ValidUntil *time.Time
	Active     bool
	NumUses    int

	// Amount is a percentage for the percent/bulk kinds and a flat
	// currency value for the absolute kinds. Percentages are stored
	// unvalidated, matching the admin contract.
	Amount decimal.Decimal

	// MinQuantity gates bulk discounts: a line qualifies only when its
	// quantity reaches this threshold.
	MinQuantity int

	// eligible caches computed eligible-product sets for the lifetime of
	// this instance, keyed by candidate-set identity.
	eligible map[string][]cart.Product
}

// HasUniqueCode reports whether activation requires a unique ledger code.
func (r *Record) HasUniqueCode() bool {
	return r.UniqueCodes
}

// OnSave normalizes the record before persisting. Unique-code mode wins over
// a shared code: the code is cleared rather than the save rejected. The
// returned flag tells the persistence layer to discard the record's issued
// unique codes, which happens whenever the record is saved in non-unique mode.
func (r *Record) OnSave() (purgeLedger bool) {
	if r.UniqueCodes {
		r.Code = ""
		return false
	}
	return true
}

// WithinWindow reports whether the record is switched on and its validity
// window contains at. A nil ValidUntil means open-ended.
func (r *Record) WithinWindow(at time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ValidFrom.After(at) {
		return false
	}
	return r.ValidUntil == nil || r.ValidUntil.After(at)
}

// UniqueCode is one entry of a discount's single-use code pool. CartID is set
// once the code has been bound to a cart; empty means unredeemed.
type UniqueCode struct {
	Code       string
	DiscountID string
	CartID     string
}

// Repository defines persistence operations for discount records.
type Repository interface {
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)

	// ListActive returns records that are switched on and whose validity
	// window contains at. Code matching happens in the Query on top.
	ListActive(ctx context.Context, at time.Time) ([]*Record, error)

	// FindByCode resolves a non-empty shared code to its record.
	// Returns ErrNotFound when no record carries the code.
	FindByCode(ctx context.Context, code string) (*Record, error)

	// Save persists the record after applying its OnSave normalization,
	// including the ledger purge it may demand.
	Save(ctx context.Context, rec *Record) error

	// IncrementUses bumps num_uses by one, atomically in place.
	IncrementUses(ctx context.Context, id string) error

	// IncrementBackgroundUses bumps num_uses by one for every record that
	// is active at the given time, has no shared code, and is not in
	// unique-code mode. A single in-place update, never read-then-write.
	IncrementBackgroundUses(ctx context.Context, at time.Time) error
}

// Ledger defines persistence operations for the unique-code pools.
type Ledger interface {
	Insert(ctx context.Context, discountID string, codes []string) error

	// First returns the ledger's first entry in issue order.
	// Returns ErrNoCodes for an empty ledger.
	First(ctx context.Context, discountID string) (string, error)

	Count(ctx context.Context, discountID string) (int, error)
	List(ctx context.Context, discountID string) ([]UniqueCode, error)

	// Bind associates an issued code with a cart.
	Bind(ctx context.Context, code, cartID string) error

	// Consume atomically removes the code and returns its owning discount
	// ID. Concurrent redemptions of the same code must not both succeed:
	// the loser gets ErrCodeNotFound.
	Consume(ctx context.Context, code string) (string, error)

	// Purge discards every code issued for the discount.
	Purge(ctx context.Context, discountID string) error
}

// CartCodes stores the raw code string a shopper attached to a cart before
// checkout completes.
type CartCodes interface {
	Attach(ctx context.Context, cartID, code string) error

	// First returns the cart's attached code. Carts hold at most one code;
	// should more exist, the earliest wins and the rest are ignored.
	// Returns ErrNoCartCode when nothing is attached.
	First(ctx context.Context, cartID string) (string, error)
}
