package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

// statusFor maps domain errors to HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	var (
		transitionErr *order.TransitionError
		notFoundErr   *discount.ProductNotFoundError
		quantityErr   *discount.InvalidQuantityError
	)
	switch {
	case errors.Is(err, errMalformedBody), errors.Is(err, order.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transitionErr),
		errors.Is(err, order.ErrPaymentRefConflict),
		errors.Is(err, product.ErrInsufficientStock):
		return http.StatusConflict
	case errors.As(err, &notFoundErr),
		errors.As(err, &quantityErr),
		errors.Is(err, discount.ErrEmptyCart),
		errors.Is(err, discount.ErrMalformedCart):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
