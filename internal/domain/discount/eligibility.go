package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Query answers "which discounts apply right now, given this code". It layers
// the code-matching semantics on top of the repository's window filtering.
type Query struct {
	discounts Repository
	ledger    Ledger
	now       func() time.Time
}

// NewQuery creates a Query backed by the given repositories.
func NewQuery(discounts Repository, ledger Ledger) *Query {
	return &Query{discounts: discounts, ledger: ledger, now: time.Now}
}

// Active returns the discounts applicable at the given time for the given
// shopper code. A zero at means "now". An empty code means the shopper
// offered none.
//
// With an empty code only the unconditional background discounts qualify:
// no shared code required and not in unique-code mode. With a code, records
// whose shared code matches exactly are included, plus every no-shared-code
// record — except unique-code records whose ledger does not vouch for the
// code. The result carries no ordering guarantee.
func (q *Query) Active(ctx context.Context, at time.Time, code string) ([]*Record, error) {
	if at.IsZero() {
		at = q.now()
	}

	recs, err := q.discounts.ListActive(ctx, at)
	if err != nil {
		return nil, errors.Wrap(err, "list active discounts")
	}

	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if code == "" {
			if rec.Code == "" && !rec.HasUniqueCode() {
				out = append(out, rec)
			}
			continue
		}

		switch {
		case rec.Code == code:
			out = append(out, rec)
		case rec.Code == "":
			if rec.HasUniqueCode() {
				ok, err := q.testUniqueCode(ctx, rec, code)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// testUniqueCode checks the shopper code against the ledger's first entry
// only, never the full pool. Historical contract: a multi-entry ledger is
// vouched for solely by whichever code was issued first.
func (q *Query) testUniqueCode(ctx context.Context, rec *Record, code string) (bool, error) {
	first, err := q.ledger.First(ctx, rec.ID)
	if errors.Is(err, ErrNoCodes) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "first unique code for discount %s", rec.ID)
	}
	return first == code, nil
}

// UniqueCodesCount returns the ledger size for a unique-code discount. The
// second return is false for records not in unique-code mode, for which the
// count is undefined rather than zero.
func (q *Query) UniqueCodesCount(ctx context.Context, rec *Record) (int, bool, error) {
	if !rec.HasUniqueCode() {
		return 0, false, nil
	}
	n, err := q.ledger.Count(ctx, rec.ID)
	if err != nil {
		return 0, false, errors.Wrapf(err, "count unique codes for discount %s", rec.ID)
	}
	return n, true, nil
}
