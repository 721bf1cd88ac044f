package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopengine/discount/internal/domain/discount"
)

const (
	discountColumns = `id, kind, title, code, unique_codes,
		valid_from, valid_until, is_active, num_uses, amount, min_quantity`

	getDiscountSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	listDiscountsSQL = `SELECT ` + discountColumns + ` FROM discounts ORDER BY created_at`

	listActiveDiscountsSQL = `SELECT ` + discountColumns + ` FROM discounts
		WHERE is_active
		  AND valid_from <= $1
		  AND (valid_until IS NULL OR valid_until > $1)`

	findDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discounts
		WHERE code = $1 AND code <> ''`

	upsertDiscountSQL = `INSERT INTO discounts
		(id, kind, title, code, unique_codes, valid_from, valid_until, is_active, num_uses, amount, min_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			code = EXCLUDED.code,
			unique_codes = EXCLUDED.unique_codes,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active,
			num_uses = EXCLUDED.num_uses,
			amount = EXCLUDED.amount,
			min_quantity = EXCLUDED.min_quantity,
			updated_at = now()`

	incrementUsesSQL = `UPDATE discounts SET num_uses = num_uses + 1 WHERE id = $1`

	// One in-place update covering every background discount active at the
	// given time. Concurrent completions must not lose increments, hence
	// num_uses + 1 in SQL rather than read-then-write.
	incrementBackgroundUsesSQL = `UPDATE discounts SET num_uses = num_uses + 1
		WHERE is_active
		  AND valid_from <= $1
		  AND (valid_until IS NULL OR valid_until > $1)
		  AND code = ''
		  AND unique_codes = FALSE`

	purgeLedgerSQL = `DELETE FROM unique_codes WHERE discount_id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// Get fetches one discount record by ID.
// Returns discount.ErrNotFound when the ID is unknown.
func (r *DiscountRepository) Get(ctx context.Context, id string) (*discount.Record, error) {
	rows, err := r.pool.Query(ctx, getDiscountSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}
	return &rec, nil
}

// List returns every discount record in creation order.
func (r *DiscountRepository) List(ctx context.Context) ([]*discount.Record, error) {
	rows, err := r.pool.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discounts: %w", err)
	}
	return collectDiscounts(rows)
}

// ListActive returns the records switched on and within their validity window
// at the given time.
func (r *DiscountRepository) ListActive(ctx context.Context, at time.Time) ([]*discount.Record, error) {
	rows, err := r.pool.Query(ctx, listActiveDiscountsSQL, at)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	return collectDiscounts(rows)
}

// FindByCode resolves a shared code to its record, exact match.
// Returns discount.ErrNotFound when no record carries the code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Record, error) {
	rows, err := r.pool.Query(ctx, findDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &rec, nil
}

// Save upserts the record after running its OnSave normalization. Saving a
// record in non-unique mode discards its issued unique codes in the same
// transaction.
func (r *DiscountRepository) Save(ctx context.Context, rec *discount.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	purgeLedger := rec.OnSave()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save discount tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, upsertDiscountSQL,
		rec.ID, string(rec.Kind), rec.Title, rec.Code, rec.UniqueCodes,
		rec.ValidFrom, rec.ValidUntil, rec.Active, rec.NumUses, rec.Amount, rec.MinQuantity,
	)
	if err != nil {
		return fmt.Errorf("saving discount %q: %w", rec.ID, err)
	}

	if purgeLedger {
		if _, err := tx.Exec(ctx, purgeLedgerSQL, rec.ID); err != nil {
			return fmt.Errorf("purging ledger for discount %q: %w", rec.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// IncrementUses atomically bumps the record's usage counter by one.
func (r *DiscountRepository) IncrementUses(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, incrementUsesSQL, id); err != nil {
		return fmt.Errorf("incrementing uses for discount %q: %w", id, err)
	}
	return nil
}

// IncrementBackgroundUses bumps the counter of every background discount
// active at the given time, in a single in-place update.
func (r *DiscountRepository) IncrementBackgroundUses(ctx context.Context, at time.Time) error {
	if _, err := r.pool.Exec(ctx, incrementBackgroundUsesSQL, at); err != nil {
		return fmt.Errorf("incrementing background discount uses: %w", err)
	}
	return nil
}

func collectDiscounts(rows pgx.Rows) ([]*discount.Record, error) {
	recs, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("scanning discounts: %w", err)
	}

	out := make([]*discount.Record, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Record, error) {
	var (
		rec  discount.Record
		kind string
	)
	err := row.Scan(
		&rec.ID, &kind, &rec.Title, &rec.Code, &rec.UniqueCodes,
		&rec.ValidFrom, &rec.ValidUntil, &rec.Active, &rec.NumUses,
		&rec.Amount, &rec.MinQuantity,
	)
	rec.Kind = discount.Kind(kind)
	return rec, err
}
