package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

// Price quotes a cart without reserving anything.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCart(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.pricer.Quote(r.Context(), r.PathValue("storeID"), req.Items, req.OfferCodes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// PlaceOrder prices the cart, reserves stock and creates the order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCart(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.checkout.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		StoreID:    r.PathValue("storeID"),
		CustomerID: req.CustomerID,
		Items:      req.Items,
		OfferCodes: req.OfferCodes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o, nil) })
}

// GetOrder returns an order with its status history.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, history, err := h.orders.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []order.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, history) })
}

// UpdateStatus applies a merchant-requested status change.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var rawStatus, note string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			rawStatus, err = d.Str()
		case "note":
			note, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := order.ParseStatus(rawStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.ApplyStatusUpdate(r.Context(), r.PathValue("id"), status, note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, nil) })
}

// BeginPayment binds the provider payment reference to the order.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	var ref string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "paymentRef" {
			return d.Skip()
		}
		var err error
		ref, err = d.Str()
		return err
	})
	if err == nil && ref == "" {
		err = errors.Wrap(errMalformedBody, "paymentRef is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.BeginPayment(r.Context(), r.PathValue("id"), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, nil) })
}
