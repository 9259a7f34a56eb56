// Package offer models store-scoped, time-bounded promotional offers.
package offer

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type is the discount strategy of an offer.
type Type string

const (
	TypeBuyNGetKFree   Type = "buy_n_get_k_free"
	TypePercentageOff  Type = "percentage_off"
	TypeFixedAmountOff Type = "fixed_amount_off"
	TypeFreeShipping   Type = "free_shipping"
)

// Precedence returns the stacking rank of the type. Lower ranks apply first.
func (t Type) Precedence() int {
	switch t {
	case TypeBuyNGetKFree:
		return 0
	case TypePercentageOff:
		return 1
	case TypeFixedAmountOff:
		return 2
	default:
		return 3
	}
}

// Valid reports whether t is a known offer type.
func (t Type) Valid() bool {
	switch t {
	case TypeBuyNGetKFree, TypePercentageOff, TypeFixedAmountOff, TypeFreeShipping:
		return true
	}
	return false
}

// ScopeKind discriminates the Scope union.
type ScopeKind uint8

const (
	ScopeStoreWide ScopeKind = iota
	ScopeProducts
	ScopeCollections
	ScopeTags
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeStoreWide:
		return "storeWide"
	case ScopeProducts:
		return "productIds"
	case ScopeCollections:
		return "collectionIds"
	case ScopeTags:
		return "tags"
	}
	return "unknown"
}

// Scope selects the cart entries an offer applies to. It is one of StoreWide,
// ProductIDs, CollectionIDs or Tags.
type Scope struct {
	Kind ScopeKind
	set  map[string]struct{}
}

func StoreWide() Scope { return Scope{Kind: ScopeStoreWide} }

func ProductIDs(ids ...string) Scope { return newScope(ScopeProducts, ids) }

func CollectionIDs(ids ...string) Scope { return newScope(ScopeCollections, ids) }

func Tags(tags ...string) Scope { return newScope(ScopeTags, tags) }

func newScope(kind ScopeKind, members []string) Scope {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return Scope{Kind: kind, set: set}
}

// Members returns the scope's members in sorted order.
func (s Scope) Members() []string {
	out := make([]string, 0, len(s.set))
	for m := range s.set {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Matches reports whether a product with the given collection and tag
// membership falls inside the scope.
func (s Scope) Matches(productID string, collections, tags []string) bool {
	switch s.Kind {
	case ScopeStoreWide:
		return true
	case ScopeProducts:
		_, ok := s.set[productID]
		return ok
	case ScopeCollections:
		return s.intersects(collections)
	case ScopeTags:
		return s.intersects(tags)
	}
	return false
}

func (s Scope) intersects(values []string) bool {
	for _, v := range values {
		if _, ok := s.set[v]; ok {
			return true
		}
	}
	return false
}

// Discount holds the type-specific parameters. Only the fields matching the
// offer's Type are meaningful.
type Discount struct {
	Percentage decimal.Decimal
	Amount     decimal.Decimal
	BuyN       int
	GetK       int
}

// Conditions gate eligibility. Zero values mean no requirement.
type Conditions struct {
	MinimumPurchase decimal.Decimal
	MinimumItems    int
	Code            string
}

// Validity is the half-open window [From, Until). A zero Until is open-ended.
type Validity struct {
	From  time.Time
	Until time.Time
}

// Contains reports whether t falls inside the window.
func (v Validity) Contains(t time.Time) bool {
	if t.Before(v.From) {
		return false
	}
	return v.Until.IsZero() || t.Before(v.Until)
}

// Offer is a decoded, validated promotional offer.
type Offer struct {
	ID         string
	StoreID    string
	Name       string
	Type       Type
	Discount   Discount
	Scope      Scope
	Conditions Conditions
	Validity   Validity
	Active     bool
}

// EligibleAt reports whether the offer is active for storeID at now.
func (o *Offer) EligibleAt(storeID string, now time.Time) bool {
	return o.Active && o.StoreID == storeID && o.Validity.Contains(now)
}

// Unlocked reports whether the offer's code requirement, if any, is satisfied
// by the entered codes. Comparison ignores case and surrounding space.
func (o *Offer) Unlocked(codes []string) bool {
	want := NormalizeCode(o.Conditions.Code)
	if want == "" {
		return true
	}
	for _, c := range codes {
		if NormalizeCode(c) == want {
			return true
		}
	}
	return false
}

// NormalizeCode canonicalizes an entered offer code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate enforces the per-type parameter shape and a non-empty validity window.
func (o *Offer) Validate() error {
	if o.ID == "" {
		return errors.New("offer id is required")
	}
	if !o.Type.Valid() {
		return errors.Errorf("unknown offer type %q", o.Type)
	}
	d := o.Discount
	switch o.Type {
	case TypePercentageOff:
		if !d.Percentage.IsPositive() || d.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Errorf("percentage must be in (0, 100], got %s", d.Percentage)
		}
	case TypeFixedAmountOff:
		if !d.Amount.IsPositive() {
			return errors.Errorf("fixed amount must be positive, got %s", d.Amount)
		}
	case TypeBuyNGetKFree:
		if d.BuyN < 1 || d.GetK < 1 {
			return errors.Errorf("buyN and getK must be at least 1, got %d/%d", d.BuyN, d.GetK)
		}
	}
	if o.Scope.Kind != ScopeStoreWide && len(o.Scope.set) == 0 {
		return errors.Errorf("%s scope is empty", o.Scope.Kind)
	}
	if o.Conditions.MinimumPurchase.IsNegative() || o.Conditions.MinimumItems < 0 {
		return errors.New("conditions must not be negative")
	}
	if o.Validity.From.IsZero() {
		return errors.New("validity start is required")
	}
	if !o.Validity.Until.IsZero() && !o.Validity.Until.After(o.Validity.From) {
		return errors.New("validity window is empty")
	}
	return nil
}

// Repository provides read access to a store's active offers. Offers that fail
// to decode are skipped by implementations, not returned as errors.
type Repository interface {
	ListActive(ctx context.Context, storeID string) ([]Offer, error)
}
