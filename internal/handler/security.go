package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
)

// APIKeyHeader is the header merchant clients put their API key in.
const APIKeyHeader = "api_key"

// APIKeyAuth authenticates merchant requests by the HMAC-SHA256 of their API
// key under pepper.
func APIKeyAuth(apikeys auth.Repository, pepper []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			hash := auth.HashKey(key, pepper)

			info, err := apikeys.FindByHash(r.Context(), hash)
			if err != nil {
				zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			// The stored row must hash to the same value; compare in constant
			// time in case the lookup matched loosely.
			stored, err := hex.DecodeString(info.KeyHash)
			computed, _ := hex.DecodeString(hash)
			if err != nil || subtle.ConstantTimeCompare(stored, computed) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
