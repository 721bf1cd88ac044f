package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopengine/discount/internal/domain/discount"
)

const (
	firstUniqueCodeSQL = `SELECT code FROM unique_codes
		WHERE discount_id = $1 ORDER BY seq LIMIT 1`

	countUniqueCodesSQL = `SELECT COUNT(*) FROM unique_codes WHERE discount_id = $1`

	listUniqueCodesSQL = `SELECT code, discount_id, COALESCE(cart_id, '')
		FROM unique_codes WHERE discount_id = $1 ORDER BY seq`

	bindUniqueCodeSQL = `UPDATE unique_codes SET cart_id = $2 WHERE code = $1`

	// Lookup and deletion as one statement: of two racing redemptions only
	// one sees the returned row, the other gets no rows.
	consumeUniqueCodeSQL = `DELETE FROM unique_codes WHERE code = $1 RETURNING discount_id`

	purgeUniqueCodesSQL = `DELETE FROM unique_codes WHERE discount_id = $1`
)

var _ discount.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements discount.Ledger backed by PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Insert adds a batch of freshly generated codes to the discount's pool.
func (r *LedgerRepository) Insert(ctx context.Context, discountID string, codes []string) error {
	rows := make([][]any, len(codes))
	for i, code := range codes {
		rows[i] = []any{code, discountID}
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"unique_codes"},
		[]string{"code", "discount_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting %d codes for discount %q: %w", len(codes), discountID, err)
	}
	return nil
}

// First returns the earliest issued code of the discount's pool.
// Returns discount.ErrNoCodes for an empty pool.
func (r *LedgerRepository) First(ctx context.Context, discountID string) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, firstUniqueCodeSQL, discountID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", discount.ErrNoCodes
		}
		return "", fmt.Errorf("first code for discount %q: %w", discountID, err)
	}
	return code, nil
}

// Count returns the number of unconsumed codes in the discount's pool.
func (r *LedgerRepository) Count(ctx context.Context, discountID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUniqueCodesSQL, discountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting codes for discount %q: %w", discountID, err)
	}
	return n, nil
}

// List returns the discount's issued codes in issue order.
func (r *LedgerRepository) List(ctx context.Context, discountID string) ([]discount.UniqueCode, error) {
	rows, err := r.pool.Query(ctx, listUniqueCodesSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("listing codes for discount %q: %w", discountID, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.UniqueCode, error) {
		var uc discount.UniqueCode
		err := row.Scan(&uc.Code, &uc.DiscountID, &uc.CartID)
		return uc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning codes for discount %q: %w", discountID, err)
	}
	return out, nil
}

// Bind associates an issued code with a cart.
// Returns discount.ErrCodeNotFound when the code is absent.
func (r *LedgerRepository) Bind(ctx context.Context, code, cartID string) error {
	tag, err := r.pool.Exec(ctx, bindUniqueCodeSQL, code, cartID)
	if err != nil {
		return fmt.Errorf("binding code %q to cart %q: %w", code, cartID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrCodeNotFound
	}
	return nil
}

// Consume atomically removes the code and returns its owning discount ID.
// A code that is absent, including one already consumed by a concurrent
// completion, yields discount.ErrCodeNotFound.
func (r *LedgerRepository) Consume(ctx context.Context, code string) (string, error) {
	var discountID string
	err := r.pool.QueryRow(ctx, consumeUniqueCodeSQL, code).Scan(&discountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", discount.ErrCodeNotFound
		}
		return "", fmt.Errorf("consuming code %q: %w", code, err)
	}
	return discountID, nil
}

// Purge discards every code issued for the discount.
func (r *LedgerRepository) Purge(ctx context.Context, discountID string) error {
	if _, err := r.pool.Exec(ctx, purgeUniqueCodesSQL, discountID); err != nil {
		return fmt.Errorf("purging codes for discount %q: %w", discountID, err)
	}
	return nil
}
