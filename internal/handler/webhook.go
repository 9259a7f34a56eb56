package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

// PaymentWebhook verifies and acknowledges a provider delivery, then applies
// it in the background. Once acknowledged, the delivery is never rejected
// even if applying it fails.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.verifier.Acknowledge(body, r.Header.Get(SignatureHeader))
	if err != nil {
		zctx.From(r.Context()).Warn("Rejected webhook delivery", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("received") })
		})
	})
	h.events.Submit(r.Context(), ev)
}
