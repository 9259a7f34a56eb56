package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

const maxBodySize = 1 << 20

var errMalformedBody = errors.New("malformed request body")

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(errMalformedBody, err.Error())
	}
	return body, nil
}

// decodeObject reads the request body as one JSON object.
func decodeObject(w http.ResponseWriter, r *http.Request, f func(d *jx.Decoder, key string) error) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(body).Obj(f); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	return nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeLines(d *jx.Decoder) ([]discount.Line, error) {
	var lines []discount.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l discount.Line
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				l.ProductID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				return d.Skip()
			}
			return err
		})
		lines = append(lines, l)
		return err
	})
	return lines, err
}

type cartRequest struct {
	CustomerID string
	Items      []discount.Line
	OfferCodes []string
}

func decodeCart(w http.ResponseWriter, r *http.Request) (cartRequest, error) {
	var req cartRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.CustomerID, err = d.Str()
		case "items":
			req.Items, err = decodeLines(d)
		case "offerCodes":
			req.OfferCodes, err = decodeStrings(d)
		default:
			return d.Skip()
		}
		return err
	})
	return req, err
}

func writeJSON(w http.ResponseWriter, status int, f func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	f(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func strs(e *jx.Encoder, values []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range values {
			e.Str(v)
		}
	})
}

func encodeQuote(e *jx.Encoder, q *discount.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { money(e, q.Subtotal) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, q.TotalDiscount) })
		e.Field("total", func(e *jx.Encoder) { money(e, q.Total) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(q.FreeShipping) })
		e.Field("appliedOffers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range q.Applied {
					e.Obj(func(e *jx.Encoder) {
						e.Field("offerId", func(e *jx.Encoder) { e.Str(a.OfferID) })
						e.Field("offerName", func(e *jx.Encoder) { e.Str(a.Name) })
						e.Field("discountAmount", func(e *jx.Encoder) { money(e, a.Amount) })
					})
				}
			})
		})
		e.Field("finalItems", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range q.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("finalPrice", func(e *jx.Encoder) { money(e, it.FinalUnitPrice) })
						e.Field("finalQuantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("billableQuantity", func(e *jx.Encoder) { e.Int(it.BillableQuantity) })
						e.Field("discountApplied", func(e *jx.Encoder) { money(e, it.Discount) })
					})
				}
			})
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order, history []order.HistoryEntry) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(o.StoreID) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("statusUpdatedAt", func(e *jx.Encoder) { timestamp(e, o.StatusUpdatedAt) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		if o.PaymentRef != "" {
			e.Field("paymentRef", func(e *jx.Encoder) { e.Str(o.PaymentRef) })
		}
		e.Field("offerCodes", func(e *jx.Encoder) { strs(e, o.OfferCodes) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("finalPrice", func(e *jx.Encoder) { money(e, it.FinalUnitPrice) })
						e.Field("billableQuantity", func(e *jx.Encoder) { e.Int(it.BillableQuantity) })
						e.Field("discountApplied", func(e *jx.Encoder) { money(e, it.Discount) })
					})
				}
			})
		})
		e.Field("appliedOffers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range o.Offers {
					e.Obj(func(e *jx.Encoder) {
						e.Field("offerId", func(e *jx.Encoder) { e.Str(a.OfferID) })
						e.Field("offerName", func(e *jx.Encoder) { e.Str(a.Name) })
						e.Field("type", func(e *jx.Encoder) { e.Str(a.Type) })
						e.Field("discountAmount", func(e *jx.Encoder) { money(e, a.Amount) })
					})
				}
			})
		})
		if history == nil {
			return
		}
		e.Field("history", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, h := range history {
					e.Obj(func(e *jx.Encoder) {
						e.Field("status", func(e *jx.Encoder) { e.Str(string(h.Status)) })
						if h.Note != "" {
							e.Field("note", func(e *jx.Encoder) { e.Str(h.Note) })
						}
						e.Field("at", func(e *jx.Encoder) { timestamp(e, h.At) })
					})
				}
			})
		})
	})
}
