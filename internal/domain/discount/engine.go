// Package discount prices a cart against a store's stacked offers.
package discount

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
	epsilon = decimal.RequireFromString("0.01")
)

var (
	// ErrMalformedCart is returned for structurally invalid cart input.
	ErrMalformedCart = errors.New("malformed cart")
	// ErrInconsistentTotals is returned when per-item discounts do not add up
	// to the reported total.
	ErrInconsistentTotals = errors.New("discount totals are inconsistent")
)

// CartItem is one cart line with its price and membership snapshot.
type CartItem struct {
	ProductID     string
	Quantity      int
	UnitPrice     decimal.Decimal
	CollectionIDs []string
	Tags          []string
}

// FinalItem is the priced state of a cart line after all offers.
type FinalItem struct {
	ProductID        string
	UnitPrice        decimal.Decimal
	Quantity         int
	FinalUnitPrice   decimal.Decimal
	BillableQuantity int
	Discount         decimal.Decimal
}

// AppliedOffer records the amount a single offer contributed.
type AppliedOffer struct {
	OfferID string
	Name    string
	Type    offer.Type
	Amount  decimal.Decimal
}

// Result is the engine output.
type Result struct {
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	Total         decimal.Decimal
	FreeShipping  bool
	Applied       []AppliedOffer
	Items         []FinalItem
}

// Input bundles everything the engine needs. The engine performs no I/O.
type Input struct {
	StoreID string
	Items   []CartItem
	Codes   []string
	Offers  []offer.Offer
	Now     time.Time
}

// entry is the mutable projection of a cart line.
type entry struct {
	item     CartItem
	index    int
	price    decimal.Decimal
	qty      int
	discount decimal.Decimal
}

// Engine applies stacked offers in a fixed precedence.
type Engine struct{}

// NewEngine returns a discount Engine.
func NewEngine() *Engine { return &Engine{} }

// Compute prices the cart. Offers that do not apply or fail validation are
// skipped; only malformed input produces an error.
func (e *Engine) Compute(in Input) (*Result, error) {
	entries := make([]*entry, len(in.Items))
	for i, item := range in.Items {
		if err := validateItem(item); err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		entries[i] = &entry{
			item:     item,
			index:    i,
			price:    item.UnitPrice,
			qty:      item.Quantity,
			discount: zero,
		}
	}

	res := &Result{
		Subtotal:      originalSubtotal(entries).Round(2),
		TotalDiscount: zero,
	}

	for _, o := range candidates(in) {
		subset := applicable(&o, entries, in.Codes)
		if len(subset) == 0 || !conditionsMet(&o, subset) {
			continue
		}

		var amount decimal.Decimal
		switch o.Type {
		case offer.TypeBuyNGetKFree:
			amount = applyBuyNGetK(o.Discount, subset)
		case offer.TypePercentageOff:
			amount = applyPercentage(o.Discount, subset)
		case offer.TypeFixedAmountOff:
			amount = applyFixed(o.Discount, subset)
		case offer.TypeFreeShipping:
			res.FreeShipping = true
			amount = zero
		default:
			continue
		}
		amount = amount.Round(2)

		if !amount.IsPositive() && o.Type != offer.TypeFreeShipping {
			continue
		}
		res.TotalDiscount = res.TotalDiscount.Add(amount)
		res.Applied = append(res.Applied, AppliedOffer{
			OfferID: o.ID,
			Name:    o.Name,
			Type:    o.Type,
			Amount:  amount,
		})
	}
	res.TotalDiscount = res.TotalDiscount.Round(2)

	perItem := zero
	res.Items = make([]FinalItem, len(entries))
	for i, en := range entries {
		perItem = perItem.Add(en.discount)
		res.Items[i] = FinalItem{
			ProductID:        en.item.ProductID,
			UnitPrice:        en.item.UnitPrice,
			Quantity:         en.item.Quantity,
			FinalUnitPrice:   en.price,
			BillableQuantity: en.qty,
			Discount:         en.discount,
		}
	}
	if perItem.Sub(res.TotalDiscount).Abs().GreaterThan(epsilon) {
		return nil, errors.Wrapf(ErrInconsistentTotals, "items %s, total %s", perItem, res.TotalDiscount)
	}

	res.Total = floorAtZero(res.Subtotal.Sub(res.TotalDiscount)).Round(2)
	return res, nil
}

func validateItem(item CartItem) error {
	switch {
	case item.ProductID == "":
		return errors.Wrap(ErrMalformedCart, "empty product id")
	case item.Quantity < 0:
		return errors.Wrap(ErrMalformedCart, fmt.Sprintf("negative quantity %d for %s", item.Quantity, item.ProductID))
	case item.UnitPrice.IsNegative():
		return errors.Wrap(ErrMalformedCart, fmt.Sprintf("negative price for %s", item.ProductID))
	}
	return nil
}

// candidates returns the store's eligible, valid offers in stacking order: by
// type precedence, then by offer id.
func candidates(in Input) []offer.Offer {
	out := make([]offer.Offer, 0, len(in.Offers))
	for _, o := range in.Offers {
		if o.EligibleAt(in.StoreID, in.Now) && o.Validate() == nil {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b offer.Offer) int {
		if c := cmp.Compare(a.Type.Precedence(), b.Type.Precedence()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func applicable(o *offer.Offer, entries []*entry, codes []string) []*entry {
	if !o.Unlocked(codes) {
		return nil
	}
	var subset []*entry
	for _, en := range entries {
		if o.Scope.Matches(en.item.ProductID, en.item.CollectionIDs, en.item.Tags) {
			subset = append(subset, en)
		}
	}
	return subset
}

// conditionsMet evaluates thresholds against the pre-discount snapshot.
func conditionsMet(o *offer.Offer, subset []*entry) bool {
	c := o.Conditions
	if c.MinimumItems > 0 {
		qty := 0
		for _, en := range subset {
			qty += en.item.Quantity
		}
		if qty < c.MinimumItems {
			return false
		}
	}
	if c.MinimumPurchase.IsPositive() && originalSubtotal(subset).LessThan(c.MinimumPurchase) {
		return false
	}
	return true
}

func applyBuyNGetK(d offer.Discount, subset []*entry) decimal.Decimal {
	total := 0
	for _, en := range subset {
		total += en.qty
	}
	free := (total / (d.BuyN + d.GetK)) * d.GetK
	if free == 0 {
		return zero
	}

	// Cheapest current price first; cart order breaks ties.
	order := slices.Clone(subset)
	slices.SortStableFunc(order, func(a, b *entry) int {
		if c := a.price.Cmp(b.price); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	amount := zero
	for _, en := range order {
		if free == 0 {
			break
		}
		take := min(free, en.qty)
		if take == 0 {
			continue
		}
		d := en.price.Mul(decimal.NewFromInt(int64(take))).Round(2)
		en.qty -= take
		en.discount = en.discount.Add(d)
		amount = amount.Add(d)
		free -= take
	}
	return amount
}

func applyPercentage(d offer.Discount, subset []*entry) decimal.Decimal {
	amount := zero
	for _, en := range subset {
		if en.qty == 0 {
			continue
		}
		perUnit := en.price.Mul(d.Percentage).Div(hundred).Round(2)
		perUnit = decimal.Min(perUnit, en.price)
		amount = amount.Add(reducePrice(en, perUnit))
	}
	return amount
}

// applyFixed takes the fixed amount off every billable unit, capped at the
// unit's current price.
func applyFixed(d offer.Discount, subset []*entry) decimal.Decimal {
	amount := zero
	for _, en := range subset {
		if en.qty == 0 {
			continue
		}
		perUnit := decimal.Min(en.price, d.Amount).Round(2)
		amount = amount.Add(reducePrice(en, perUnit))
	}
	return amount
}

func reducePrice(en *entry, perUnit decimal.Decimal) decimal.Decimal {
	en.price = en.price.Sub(perUnit)
	d := perUnit.Mul(decimal.NewFromInt(int64(en.qty))).Round(2)
	en.discount = en.discount.Add(d)
	return d
}

func originalSubtotal(entries []*entry) decimal.Decimal {
	sum := zero
	for _, en := range entries {
		sum = sum.Add(en.item.UnitPrice.Mul(decimal.NewFromInt(int64(en.item.Quantity))))
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
