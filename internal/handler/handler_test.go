package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

// --- fakes ---

type fakePricer struct {
	quote   *discount.Quote
	err     error
	storeID string
	lines   []discount.Line
	codes   []string
}

func (f *fakePricer) Quote(_ context.Context, storeID string, lines []discount.Line, codes []string) (*discount.Quote, error) {
	f.storeID, f.lines, f.codes = storeID, lines, codes
	return f.quote, f.err
}

type fakeCheckout struct {
	order *order.Order
	err   error
	req   order.PlaceOrderRequest
}

func (f *fakeCheckout) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	f.req = req
	return f.order, f.err
}

type fakeOrders struct {
	order   *order.Order
	history []order.HistoryEntry
	err     error

	gotID     string
	gotStatus order.Status
	gotNote   string
	gotRef    string
}

func (f *fakeOrders) Lookup(_ context.Context, id string) (*order.Order, []order.HistoryEntry, error) {
	f.gotID = id
	return f.order, f.history, f.err
}

func (f *fakeOrders) ApplyStatusUpdate(_ context.Context, id string, to order.Status, note string) (*order.Order, error) {
	f.gotID, f.gotStatus, f.gotNote = id, to, note
	return f.order, f.err
}

func (f *fakeOrders) BeginPayment(_ context.Context, id, ref string) (*order.Order, error) {
	f.gotID, f.gotRef = id, ref
	return f.order, f.err
}

type fakeVerifier struct {
	secret []byte
}

func (f fakeVerifier) Acknowledge(body []byte, sig string) (*payment.Event, error) {
	if err := payment.Verify(body, sig, f.secret); err != nil {
		return nil, err
	}
	return payment.ParseEvent(body)
}

type fakeSubmitter struct {
	mu     sync.Mutex
	events []*payment.Event
}

func (f *fakeSubmitter) Submit(_ context.Context, ev *payment.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeKeys struct {
	byHash map[string]*auth.APIKeyInfo
}

func (f fakeKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := f.byHash[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return info, nil
}

// --- fixture ---

var (
	testPepper = []byte("pepper")
	testSecret = []byte("whsec")
	testKey    = "sk_test_123"
)

type fixture struct {
	pricer   *fakePricer
	checkout *fakeCheckout
	orders   *fakeOrders
	events   *fakeSubmitter
	server   http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		pricer:   &fakePricer{},
		checkout: &fakeCheckout{},
		orders:   &fakeOrders{},
		events:   &fakeSubmitter{},
	}
	keys := fakeKeys{byHash: map[string]*auth.APIKeyInfo{
		auth.HashKey(testKey, testPepper): {ID: "key-1", KeyHash: auth.HashKey(testKey, testPepper), Name: "test"},
	}}
	mux := http.NewServeMux()
	New(f.pricer, f.checkout, f.orders, fakeVerifier{secret: testSecret}, f.events).
		Register(mux, APIKeyAuth(keys, testPepper))
	f.server = mux
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(APIKeyHeader, testKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func sampleOrder() *order.Order {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:              "o1",
		StoreID:         "s1",
		CustomerID:      "c1",
		Status:          order.StatusCreated,
		StatusUpdatedAt: at,
		Subtotal:        decimal.RequireFromString("150"),
		Discount:        decimal.RequireFromString("15"),
		Total:           decimal.RequireFromString("135"),
		OfferCodes:      []string{"SUMMER"},
		Items: []order.LineItem{{
			ProductID:        "p1",
			Quantity:         3,
			UnitPrice:        decimal.RequireFromString("50"),
			FinalUnitPrice:   decimal.RequireFromString("45"),
			BillableQuantity: 3,
			Discount:         decimal.RequireFromString("15"),
		}},
		Offers: []order.AppliedOffer{{
			OfferID: "off-1", Name: "10% off", Type: "percentage_off", Amount: decimal.RequireFromString("15"),
		}},
		CreatedAt: at,
	}
}

// --- tests ---

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture()
	f.orders.order = sampleOrder()

	for _, tt := range []struct {
		name string
		key  string
		want int
	}{
		{"valid", testKey, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "sk_other", http.StatusUnauthorized},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/o1", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			f.server.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("stored hash mismatch", func(t *testing.T) {
		keys := fakeKeys{byHash: map[string]*auth.APIKeyInfo{
			auth.HashKey(testKey, testPepper): {ID: "key-1", KeyHash: "00ff"},
		}}
		h := APIKeyAuth(keys, testPepper)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("handler reached")
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, testKey)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPrice(t *testing.T) {
	f := newFixture()
	f.pricer.quote = &discount.Quote{Result: &discount.Result{
		Subtotal:      decimal.RequireFromString("150"),
		TotalDiscount: decimal.RequireFromString("15"),
		Total:         decimal.RequireFromString("135"),
		Applied: []discount.AppliedOffer{{
			OfferID: "off-1", Name: "10% off", Type: offer.TypePercentageOff, Amount: decimal.RequireFromString("15"),
		}},
		Items: []discount.FinalItem{{
			ProductID:        "p1",
			UnitPrice:        decimal.RequireFromString("50"),
			Quantity:         3,
			FinalUnitPrice:   decimal.RequireFromString("45"),
			BillableQuantity: 3,
			Discount:         decimal.RequireFromString("15"),
		}},
	}}

	w := f.do(http.MethodPost, "/api/stores/s1/pricing",
		`{"items":[{"productId":"p1","quantity":3}],"offerCodes":["summer"],"extra":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"subtotal": 150.00,
		"totalDiscount": 15.00,
		"total": 135.00,
		"freeShipping": false,
		"appliedOffers": [{"offerId":"off-1","offerName":"10% off","discountAmount":15.00}],
		"finalItems": [{"productId":"p1","finalPrice":45.00,"finalQuantity":3,"billableQuantity":3,"discountApplied":15.00}]
	}`, w.Body.String())

	assert.Equal(t, "s1", f.pricer.storeID)
	assert.Equal(t, []discount.Line{{ProductID: "p1", Quantity: 3}}, f.pricer.lines)
	assert.Equal(t, []string{"summer"}, f.pricer.codes)
}

func TestPlaceOrder(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newFixture()
		f.checkout.order = sampleOrder()

		w := f.do(http.MethodPost, "/api/stores/s1/orders",
			`{"customerId":"c1","items":[{"productId":"p1","quantity":3}],"offerCodes":["SUMMER"]}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"id":"o1"`)
		assert.Contains(t, w.Body.String(), `"status":"created"`)
		assert.NotContains(t, w.Body.String(), `"history"`)

		assert.Equal(t, order.PlaceOrderRequest{
			StoreID:    "s1",
			CustomerID: "c1",
			Items:      []discount.Line{{ProductID: "p1", Quantity: 3}},
			OfferCodes: []string{"SUMMER"},
		}, f.checkout.req)
	})

	for _, tt := range []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed json", `{"items":`, nil, http.StatusBadRequest},
		{"wrong type", `{"items":"p1"}`, nil, http.StatusBadRequest},
		{"invalid request", `{}`, errors.Wrap(order.ErrInvalidRequest, "customer required"), http.StatusBadRequest},
		{"empty cart", `{"customerId":"c1"}`, errors.Wrap(discount.ErrEmptyCart, "price cart"), http.StatusUnprocessableEntity},
		{"unknown product", `{"customerId":"c1"}`, &discount.ProductNotFoundError{ProductID: "px"}, http.StatusUnprocessableEntity},
		{"out of stock", `{"customerId":"c1"}`, &product.InsufficientStockError{ProductID: "p1", Requested: 3}, http.StatusConflict},
		{"database down", `{"customerId":"c1"}`, errors.New("conn refused"), http.StatusInternalServerError},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.checkout.err = tt.err
			w := f.do(http.MethodPost, "/api/stores/s1/orders", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "conn refused")
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	t.Run("with history", func(t *testing.T) {
		f := newFixture()
		f.orders.order = sampleOrder()
		f.orders.history = []order.HistoryEntry{
			{OrderID: "o1", Status: order.StatusCreated, At: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
		}

		w := f.do(http.MethodGet, "/api/orders/o1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "o1", f.orders.gotID)
		assert.JSONEq(t, `{
			"id": "o1",
			"storeId": "s1",
			"customerId": "c1",
			"status": "created",
			"statusUpdatedAt": "2026-06-01T12:00:00Z",
			"subtotal": 150.00,
			"totalDiscount": 15.00,
			"total": 135.00,
			"offerCodes": ["SUMMER"],
			"items": [{"productId":"p1","quantity":3,"unitPrice":50.00,"finalPrice":45.00,"billableQuantity":3,"discountApplied":15.00}],
			"appliedOffers": [{"offerId":"off-1","offerName":"10% off","type":"percentage_off","discountAmount":15.00}],
			"history": [{"status":"created","at":"2026-06-01T12:00:00Z"}]
		}`, w.Body.String())
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture()
		f.orders.err = order.ErrNotFound
		w := f.do(http.MethodGet, "/api/orders/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateStatus(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		err  error
		want int
	}{
		{"applied", `{"status":"shipped","note":"tracking 42"}`, nil, http.StatusOK},
		{"unknown status", `{"status":"teleported"}`, nil, http.StatusBadRequest},
		{"forbidden edge", `{"status":"shipped"}`, &order.TransitionError{OrderID: "o1", From: order.StatusCreated, To: order.StatusShipped}, http.StatusConflict},
		{"unknown order", `{"status":"shipped"}`, order.ErrNotFound, http.StatusNotFound},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.order = sampleOrder()
			f.orders.err = tt.err

			w := f.do(http.MethodPost, "/api/orders/o1/status", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusOK {
				assert.Equal(t, order.StatusShipped, f.orders.gotStatus)
				assert.Equal(t, "tracking 42", f.orders.gotNote)
			}
		})
	}
}

func TestBeginPayment(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bound", `{"paymentRef":"order_ABC"}`, nil, http.StatusOK},
		{"missing ref", `{}`, nil, http.StatusBadRequest},
		{"conflict", `{"paymentRef":"order_ABC"}`, errors.Wrap(order.ErrPaymentRefConflict, "pending on order_XYZ"), http.StatusConflict},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.order = sampleOrder()
			f.orders.err = tt.err

			w := f.do(http.MethodPost, "/api/orders/o1/payment", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusOK {
				assert.Equal(t, "order_ABC", f.orders.gotRef)
			}
		})
	}
}

func TestPaymentWebhook(t *testing.T) {
	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_ABC","status":"captured","amount":13500,"currency":"INR"}}}}`

	t.Run("acknowledged and submitted", func(t *testing.T) {
		f := newFixture()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		req.Header.Set(SignatureHeader, payment.Sign([]byte(body), testSecret))
		w := httptest.NewRecorder()
		f.server.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"received"}`, w.Body.String())
		require.Len(t, f.events.events, 1)
		assert.Equal(t, payment.EventPaymentCaptured, f.events.events[0].Type)
		assert.Equal(t, "order_ABC", f.events.events[0].Payment.OrderID)
	})

	for _, tt := range []struct {
		name string
		body string
		sig  string
	}{
		{"missing signature", body, ""},
		{"wrong signature", body, payment.Sign([]byte(body), []byte("other"))},
		{"malformed payload", `{"event":`, payment.Sign([]byte(`{"event":`), testSecret)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(tt.body))
			if tt.sig != "" {
				req.Header.Set(SignatureHeader, tt.sig)
			}
			w := httptest.NewRecorder()
			f.server.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, f.events.events)
		})
	}
}
