package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopengine/discount/internal/domain/cart"
	"github.com/shopengine/discount/internal/domain/discount"
)

const (
	listProductsSQL = `SELECT id, name, category, price, attributes FROM products ORDER BY id`

	getProductsByIDsSQL = `SELECT id, name, category, price, attributes
		FROM products WHERE id = ANY($1)`
)

var _ discount.ProductSource = (*ProductRepository)(nil)

// ProductRepository reads the product catalog the eligibility filters run
// against.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// All lists the full catalog.
func (r *ProductRepository) All(ctx context.Context) ([]cart.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return collectProducts(rows)
}

// GetByIDs fetches the given products in a single batch. Unknown IDs are
// simply absent from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]cart.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]cart.Product, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Product, error) {
		var (
			p     cart.Product
			attrs []byte
		)
		if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &attrs); err != nil {
			return p, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
				return p, fmt.Errorf("decoding attributes for product %q: %w", p.ID, err)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}
	return out, nil
}
