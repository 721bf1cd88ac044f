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
	attachCartCodeSQL = `INSERT INTO cart_codes (cart_id, code) VALUES ($1, $2)`

	// Carts are supposed to hold one code; the earliest wins if the
	// pipeline ever attaches more.
	firstCartCodeSQL = `SELECT code FROM cart_codes WHERE cart_id = $1 ORDER BY seq LIMIT 1`
)

var _ discount.CartCodes = (*CartCodeRepository)(nil)

// CartCodeRepository implements discount.CartCodes backed by PostgreSQL.
type CartCodeRepository struct {
	pool *pgxpool.Pool
}

// NewCartCodeRepository returns a CartCodeRepository that uses the given pool.
func NewCartCodeRepository(pool *pgxpool.Pool) *CartCodeRepository {
	return &CartCodeRepository{pool: pool}
}

// Attach stores the shopper-entered code for the cart.
func (r *CartCodeRepository) Attach(ctx context.Context, cartID, code string) error {
	if _, err := r.pool.Exec(ctx, attachCartCodeSQL, cartID, code); err != nil {
		return fmt.Errorf("attaching code to cart %q: %w", cartID, err)
	}
	return nil
}

// First returns the cart's attached code.
// Returns discount.ErrNoCartCode when the cart has none.
func (r *CartCodeRepository) First(ctx context.Context, cartID string) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, firstCartCodeSQL, cartID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", discount.ErrNoCartCode
		}
		return "", fmt.Errorf("cart code for cart %q: %w", cartID, err)
	}
	return code, nil
}
