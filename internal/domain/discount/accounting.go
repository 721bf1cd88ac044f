package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// CompletionHandler is the callback the order pipeline invokes synchronously
// once per completed order, with the originating cart. Registration is
// explicit: the pipeline holds the handler, there is no hidden dispatch.
type CompletionHandler func(ctx context.Context, cartID string) error

// Accounting records discount usage when orders complete: it resolves the
// cart's redeemed code, retires consumed unique codes, and keeps the usage
// counters moving.
type Accounting struct {
	discounts Repository
	ledger    Ledger
	cartCodes CartCodes
	now       func() time.Time
	lg        *zap.Logger
}

// NewAccounting creates the usage accounting transition.
func NewAccounting(discounts Repository, ledger Ledger, cartCodes CartCodes, lg *zap.Logger) *Accounting {
	return &Accounting{
		discounts: discounts,
		ledger:    ledger,
		cartCodes: cartCodes,
		now:       time.Now,
		lg:        lg,
	}
}

// Handler returns the order-completion callback to register with the pipeline.
func (a *Accounting) Handler() CompletionHandler {
	return a.OnOrderCompleted
}

// OnOrderCompleted runs the usage-accounting transition for one completed
// order. The cart's attached code, if any, is resolved as a unique code
// first; a hit consumes the ledger entry irreversibly. Otherwise the code is
// matched against shared discount codes. Either way the resolved discount's
// counter is bumped. A code that resolves to nothing is skipped without
// failing the order.
//
// Independently, every discount active right now with no shared code and no
// unique-code mode gets its counter bumped once: those are unconditionally
// applicable background discounts, counted per completed order regardless of
// this order's applicable set.
func (a *Accounting) OnOrderCompleted(ctx context.Context, cartID string) error {
	code, err := a.cartCodes.First(ctx, cartID)
	switch {
	case errors.Is(err, ErrNoCartCode):
		// Nothing attached; only the background counters move.
	case err != nil:
		return errors.Wrapf(err, "cart code for cart %s", cartID)
	default:
		if err := a.settleCode(ctx, code); err != nil {
			return err
		}
	}

	if err := a.discounts.IncrementBackgroundUses(ctx, a.now()); err != nil {
		return errors.Wrap(err, "increment background discount uses")
	}
	return nil
}

// settleCode resolves the redeemed code to a discount and bumps its counter.
// Unique codes win over shared codes and are consumed in the same step, so a
// concurrent completion racing on the same code loses the consumption and
// falls through to the silent skip.
func (a *Accounting) settleCode(ctx context.Context, code string) error {
	discountID, err := a.ledger.Consume(ctx, code)
	if err == nil {
		if err := a.discounts.IncrementUses(ctx, discountID); err != nil {
			return errors.Wrapf(err, "increment uses for discount %s", discountID)
		}
		return nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return errors.Wrapf(err, "consume unique code %q", code)
	}

	rec, err := a.discounts.FindByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		a.lg.Debug("cart code resolved to no discount, skipping",
			zap.String("code", code),
		)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "find discount by code %q", code)
	}

	if err := a.discounts.IncrementUses(ctx, rec.ID); err != nil {
		return errors.Wrapf(err, "increment uses for discount %s", rec.ID)
	}
	return nil
}
