package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned when a reservation asks for more units
	// than are physically available.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationUnderflow is returned when a commit or release would drive
	// the reserved counter below zero.
	ErrReservationUnderflow = errors.New("reserved stock underflow")
	// ErrInvalidQuantity is returned for non-positive adjustment quantities.
	ErrInvalidQuantity = errors.New("adjustment quantity must be positive")
)

// InsufficientStockError reports the product a reservation failed on.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Product is a catalog item with its inventory counters.
//
// Stock counts units physically available for new orders. ReservedStock
// counts units held against orders that have not settled payment yet.
type Product struct {
	ID            string
	StoreID       string
	Name          string
	Price         decimal.Decimal
	Stock         int
	ReservedStock int
	CollectionIDs []string
	Tags          []string
}

// Reserve moves qty units from available stock into the reservation.
func (p *Product) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if p.Stock < qty {
		return &InsufficientStockError{ProductID: p.ID, Requested: qty}
	}
	p.Stock -= qty
	p.ReservedStock += qty
	return nil
}

// CommitReservation converts qty reserved units into a sale.
func (p *Product) CommitReservation(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if p.ReservedStock < qty {
		return ErrReservationUnderflow
	}
	p.ReservedStock -= qty
	return nil
}

// ReleaseReservation returns qty reserved units to available stock.
func (p *Product) ReleaseReservation(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if p.ReservedStock < qty {
		return ErrReservationUnderflow
	}
	p.ReservedStock -= qty
	p.Stock += qty
	return nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Inventory adjusts stock counters. Implementations must apply each
// adjustment as a single atomic conditional update, never as a read followed
// by a write.
type Inventory interface {
	Reserve(ctx context.Context, productID string, qty int) error
	CommitReservation(ctx context.Context, productID string, qty int) error
	ReleaseReservation(ctx context.Context, productID string, qty int) error
}
