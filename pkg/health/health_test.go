package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string
	Checks map[string]string
}

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := probeBody{Checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			body.Status = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				reason, err := d.Str()
				body.Checks[name] = reason
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return body
}

func probe(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runTimes(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveness(t *testing.T) {
	for _, tt := range []struct {
		name     string
		runs     int
		wantCode int
		wantErr  string
	}{
		{"healthy until first run", 0, http.StatusOK, ""},
		{"below failure threshold", failureThreshold - 1, http.StatusOK, ""},
		{"at failure threshold", failureThreshold, http.StatusServiceUnavailable, "connection refused"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("ok", time.Second, passing)
			h.AddLivenessCheck("db", time.Second, failing("connection refused"))
			runTimes(h.liveness[1], tt.runs)

			w := probe(h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			body := decodeProbe(t, w)
			if tt.wantErr == "" {
				assert.Equal(t, "ok", body.Status)
				assert.Empty(t, body.Checks)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, map[string]string{"db": tt.wantErr}, body.Checks)
		})
	}
}

func TestReadiness(t *testing.T) {
	t.Run("not ready until marked", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)

		w := probe(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "service is not ready", decodeProbe(t, w).Checks["_readiness"])
		assert.False(t, h.IsReady())

		h.SetReady(true)
		assert.Equal(t, http.StatusOK, probe(h.ReadyEndpoint).Code)
		assert.True(t, h.IsReady())
	})

	t.Run("draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)
		assert.Equal(t, http.StatusServiceUnavailable, probe(h.ReadyEndpoint).Code)
	})

	t.Run("one failing dependency", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.AddReadinessCheck("redis", time.Second, failing("dial tcp: refused"))
		h.SetReady(true)
		runTimes(h.readiness[1], failureThreshold)

		w := probe(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeProbe(t, w)
		assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, body.Checks)
		assert.False(t, h.IsReady())
	})
}

func TestCheckRecovers(t *testing.T) {
	var (
		mu  sync.Mutex
		err = errors.New("down")
	)
	c := newCheck("db", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return err
	})

	runTimes(c, failureThreshold)
	reason, failed := c.failure()
	require.True(t, failed)
	assert.Equal(t, "down", reason)

	mu.Lock()
	err = nil
	mu.Unlock()
	runTimes(c, successThreshold)
	_, failed = c.failure()
	assert.False(t, failed)
}

func TestCheckTimeout(t *testing.T) {
	c := newCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runTimes(c, failureThreshold)
	reason, failed := c.failure()
	require.True(t, failed)
	assert.Contains(t, reason, "deadline")
}

func TestStartAndStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})
	h.Start(context.Background(), 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	stopped := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, stopped, calls)
}

func TestConcurrentProbes(t *testing.T) {
	h := New()
	h.AddLivenessCheck("a", time.Second, passing)
	h.AddReadinessCheck("b", time.Second, failing("flaky"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			probe(h.LiveEndpoint)
		}()
		go func() {
			defer wg.Done()
			probe(h.ReadyEndpoint)
			h.IsReady()
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pinger{})(ctx))
	assert.EqualError(t, PingCheck(pinger{err: errors.New("refused")})(ctx), "refused")

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
