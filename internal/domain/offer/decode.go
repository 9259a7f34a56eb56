package offer

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Record is the persisted shape of an offer: scalar columns plus the
// JSON-encoded discount, scope, conditions and validity blobs.
type Record struct {
	ID           string
	StoreID      string
	Name         string
	Type         string
	Discount     []byte
	ApplicableTo []byte
	Conditions   []byte
	Validity     []byte
	Active       bool
}

// Decode parses the JSON blobs of r into a typed Offer and validates it.
func Decode(r Record) (Offer, error) {
	o := Offer{
		ID:      r.ID,
		StoreID: r.StoreID,
		Name:    r.Name,
		Type:    Type(r.Type),
		Active:  r.Active,
	}
	if !o.Type.Valid() {
		return Offer{}, errors.Errorf("offer %s: unknown type %q", r.ID, r.Type)
	}

	var err error
	if o.Discount, err = decodeDiscount(o.Type, r.Discount); err != nil {
		return Offer{}, errors.Wrapf(err, "offer %s: discount", r.ID)
	}
	if o.Scope, err = decodeScope(r.ApplicableTo); err != nil {
		return Offer{}, errors.Wrapf(err, "offer %s: applicableTo", r.ID)
	}
	if o.Conditions, err = decodeConditions(r.Conditions); err != nil {
		return Offer{}, errors.Wrapf(err, "offer %s: conditions", r.ID)
	}
	if o.Validity, err = decodeValidity(r.Validity); err != nil {
		return Offer{}, errors.Wrapf(err, "offer %s: validity", r.ID)
	}
	if err := o.Validate(); err != nil {
		return Offer{}, errors.Wrapf(err, "offer %s", r.ID)
	}
	return o, nil
}

// DecodeRecord splits one exported offer document into a Record, keeping the
// nested blobs verbatim so they can be stored as-is.
func DecodeRecord(data []byte) (Record, error) {
	r := Record{Active: true}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			r.ID, err = d.Str()
		case "storeId":
			r.StoreID, err = d.Str()
		case "name":
			r.Name, err = d.Str()
		case "type":
			r.Type, err = d.Str()
		case "active":
			r.Active, err = d.Bool()
		case "discount":
			r.Discount, err = rawCopy(d)
		case "applicableTo":
			r.ApplicableTo, err = rawCopy(d)
		case "conditions":
			r.Conditions, err = rawCopy(d)
		case "validity":
			r.Validity, err = rawCopy(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "decode offer document")
	}
	if r.ID == "" || r.StoreID == "" {
		return Record{}, errors.New("offer document requires id and storeId")
	}
	if len(r.Conditions) == 0 {
		r.Conditions = []byte("{}")
	}
	if len(r.Discount) == 0 {
		r.Discount = []byte("{}")
	}
	return r, nil
}

func rawCopy(d *jx.Decoder) ([]byte, error) {
	raw, err := d.Raw()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

func decodeDiscount(t Type, data []byte) (Discount, error) {
	var (
		out  Discount
		seen = map[string]bool{}
	)
	err := decodeObject(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "percentage":
			out.Percentage, err = decodeDecimal(d)
		case "amount":
			out.Amount, err = decodeDecimal(d)
		case "buyN":
			out.BuyN, err = d.Int()
		case "getK":
			out.GetK, err = d.Int()
		default:
			return d.Skip()
		}
		seen[key] = true
		return err
	})
	if err != nil {
		return Discount{}, err
	}

	var allowed []string
	switch t {
	case TypePercentageOff:
		allowed = []string{"percentage"}
	case TypeFixedAmountOff:
		allowed = []string{"amount"}
	case TypeBuyNGetKFree:
		allowed = []string{"buyN", "getK"}
	}
	for key := range seen {
		ok := false
		for _, a := range allowed {
			ok = ok || a == key
		}
		if !ok {
			return Discount{}, errors.Errorf("parameter %q does not belong to %s", key, t)
		}
	}
	return out, nil
}

func decodeScope(data []byte) (Scope, error) {
	var (
		scope Scope
		kinds int
	)
	err := decodeObject(data, func(d *jx.Decoder, key string) error {
		switch key {
		case "storeWide":
			on, err := d.Bool()
			if err != nil {
				return err
			}
			if on {
				scope = StoreWide()
				kinds++
			}
			return nil
		case "productIds", "collectionIds", "tags":
			members, err := decodeStrings(d)
			if err != nil {
				return err
			}
			switch key {
			case "productIds":
				scope = ProductIDs(members...)
			case "collectionIds":
				scope = CollectionIDs(members...)
			default:
				scope = Tags(members...)
			}
			kinds++
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Scope{}, err
	}
	if kinds != 1 {
		return Scope{}, errors.Errorf("exactly one scope kind required, got %d", kinds)
	}
	return scope, nil
}

func decodeConditions(data []byte) (Conditions, error) {
	var c Conditions
	err := decodeObject(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "minimumPurchaseAmount":
			c.MinimumPurchase, err = decodeDecimal(d)
		case "minimumItems":
			c.MinimumItems, err = d.Int()
		case "code":
			c.Code, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	return c, err
}

func decodeValidity(data []byte) (Validity, error) {
	var v Validity
	err := decodeObject(data, func(d *jx.Decoder, key string) error {
		var target *time.Time
		switch key {
		case "from":
			target = &v.From
		case "until":
			target = &v.Until
		default:
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		*target = ts.UTC()
		return nil
	})
	return v, err
}

// decodeObject iterates the keys of a JSON object. Empty input and null are
// treated as an empty object.
func decodeObject(data []byte, f func(d *jx.Decoder, key string) error) error {
	if len(data) == 0 {
		return nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil
	}
	return d.Obj(f)
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		raw, err := d.Raw()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(raw))
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
}
