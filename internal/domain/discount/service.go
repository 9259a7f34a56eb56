package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

// ErrEmptyCart is returned when a quote is requested for no items.
var ErrEmptyCart = errors.New("items required")

// ProductNotFoundError indicates a requested product does not exist in the
// store being priced.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Line is a requested product and quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// Quote is a priced cart together with the product snapshots it used.
type Quote struct {
	*Result
	Products []product.Product
}

// Service resolves cart lines against the catalog and the store's offers and
// runs the engine over them.
type Service struct {
	offers   offer.Repository
	products product.Repository
	engine   *Engine
	now      func() time.Time
}

// NewService creates a pricing Service.
func NewService(offers offer.Repository, products product.Repository) *Service {
	return &Service{
		offers:   offers,
		products: products,
		engine:   NewEngine(),
		now:      time.Now,
	}
}

// Quote prices lines for storeID with the entered offer codes.
func (s *Service) Quote(ctx context.Context, storeID string, lines []Line, codes []string) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		ids[i] = l.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]CartItem, len(lines))
	products := make([]product.Product, len(lines))
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || p.StoreID != storeID {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		products[i] = p
		items[i] = CartItem{
			ProductID:     p.ID,
			Quantity:      l.Quantity,
			UnitPrice:     p.Price,
			CollectionIDs: p.CollectionIDs,
			Tags:          p.Tags,
		}
	}

	offers, err := s.offers.ListActive(ctx, storeID)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}

	res, err := s.engine.Compute(Input{
		StoreID: storeID,
		Items:   items,
		Codes:   codes,
		Offers:  offers,
		Now:     s.now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "compute discount")
	}
	return &Quote{Result: res, Products: products}, nil
}
