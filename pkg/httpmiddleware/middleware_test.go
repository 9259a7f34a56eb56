package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapOrder(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	for _, tt := range []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"valid", "req-123", true},
		{"missing", "", false},
		{"too long", strings.Repeat("a", 129), false},
		{"control chars", "bad\nid", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.NotEqual(t, tt.incoming, seen)
			}
		})
	}
}

func TestRequestIDTagsLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handling")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(zctx.Base(req.Context(), zap.New(core)))
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-7", entries[0].ContextMap()["request_id"])
}

func TestLoggingChain(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handling")
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	find := MakeRouteFinder(mux)

	h := Wrap(mux,
		InjectLogger(zap.New(core)),
		RequestID(),
		LogRequests(find),
		Recovery(),
	)

	t.Run("request line", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/o1", nil)
		req.Header.Set("X-Request-ID", "req-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)

		entries := logs.TakeAll()
		require.Len(t, entries, 2)
		assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])

		line := entries[1].ContextMap()
		assert.Equal(t, "GET /api/orders/{id}", line["route"])
		assert.EqualValues(t, http.StatusNotFound, line["status"])
		assert.Equal(t, "req-1", line["request_id"])
	})

	t.Run("panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		entries := logs.TakeAll()
		require.Len(t, entries, 2)
		assert.Equal(t, "panic recovered", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	})
}
