package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

const (
	productColumns = `id, store_id, name, price, stock, reserved_stock, collection_ids, tags`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, store_id, name, price, stock, reserved_stock, collection_ids, tags)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		store_id = EXCLUDED.store_id,
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		stock = EXCLUDED.stock,
		reserved_stock = EXCLUDED.reserved_stock,
		collection_ids = EXCLUDED.collection_ids,
		tags = EXCLUDED.tags,
		updated_at = now()`

	reserveStockSQL = `UPDATE products
	SET stock = stock - $2, reserved_stock = reserved_stock + $2, updated_at = now()
	WHERE id = $1 AND stock >= $2`

	commitReservationSQL = `UPDATE products
	SET reserved_stock = reserved_stock - $2, updated_at = now()
	WHERE id = $1 AND reserved_stock >= $2`

	releaseReservationSQL = `UPDATE products
	SET stock = stock + $2, reserved_stock = reserved_stock - $2, updated_at = now()
	WHERE id = $1 AND reserved_stock >= $2`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ product.Inventory  = (*Inventory)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db querier
}

// NewProductRepository returns a ProductRepository that uses the given pool
// or transaction.
func NewProductRepository(db querier) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product row.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.db.Exec(ctx, upsertProductSQL,
		p.ID, p.StoreID, p.Name, p.Price, p.Stock, p.ReservedStock,
		nonNil(p.CollectionIDs), nonNil(p.Tags),
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.ReservedStock,
		&p.CollectionIDs, &p.Tags,
	)
	return p, err
}

// Inventory adjusts stock counters with single conditional updates. A guard
// that matches no row is reported as the corresponding domain error.
type Inventory struct {
	db querier
}

// NewInventory returns an Inventory bound to the given pool or transaction.
func NewInventory(db querier) *Inventory {
	return &Inventory{db: db}
}

// Reserve moves qty units from stock into reserved_stock.
func (i *Inventory) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return product.ErrInvalidQuantity
	}
	if err := i.adjust(ctx, reserveStockSQL, productID, qty); err != nil {
		if errors.Is(err, errNoRowMatched) {
			return &product.InsufficientStockError{ProductID: productID, Requested: qty}
		}
		return fmt.Errorf("reserving %d of %q: %w", qty, productID, err)
	}
	return nil
}

// CommitReservation removes qty units from reserved_stock.
func (i *Inventory) CommitReservation(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return product.ErrInvalidQuantity
	}
	if err := i.adjust(ctx, commitReservationSQL, productID, qty); err != nil {
		if errors.Is(err, errNoRowMatched) {
			return product.ErrReservationUnderflow
		}
		return fmt.Errorf("committing %d of %q: %w", qty, productID, err)
	}
	return nil
}

// ReleaseReservation moves qty units from reserved_stock back to stock.
func (i *Inventory) ReleaseReservation(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return product.ErrInvalidQuantity
	}
	if err := i.adjust(ctx, releaseReservationSQL, productID, qty); err != nil {
		if errors.Is(err, errNoRowMatched) {
			return product.ErrReservationUnderflow
		}
		return fmt.Errorf("releasing %d of %q: %w", qty, productID, err)
	}
	return nil
}

var errNoRowMatched = errors.New("no row matched")

// adjust runs a guarded update. When the guard fails it distinguishes a
// missing product from a failed condition.
func (i *Inventory) adjust(ctx context.Context, sql, productID string, qty int) error {
	tag, err := i.db.Exec(ctx, sql, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := i.db.QueryRow(ctx, productExistsSQL, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return product.ErrNotFound
	}
	return errNoRowMatched
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
