package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(handler http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		runs     int
		wantCode int
		wantBody string
	}{
		{name: "starts healthy", runs: 0, wantCode: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "below threshold", runs: 2, wantCode: http.StatusOK, wantBody: `{"status":"ok"}`},
		{
			name:     "at threshold",
			runs:     3,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failing("connection refused"))
			for range tt.runs {
				h.checks[Liveness][0].run(context.Background())
			}

			w := serve(h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)
	h.Add(Readiness, "redis", CheckOptions{FailureThreshold: 1}, failing("dial tcp: refused"))

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	h.checks[Readiness][1].run(context.Background())
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(false)
	w = serve(h.ReadyEndpoint)
	assert.JSONEq(t,
		`{"status":"unhealthy","checks":{"_readiness":"service is not ready","redis":"dial tcp: refused"}}`,
		w.Body.String())
}

func TestCheck_Recovers(t *testing.T) {
	down := true
	h := New()
	h.Add(Liveness, "flaky", CheckOptions{SuccessThreshold: 2}, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	c := h.checks[Liveness][0]
	ctx := context.Background()

	for range 3 {
		c.run(ctx)
	}
	msg, failed := c.failure()
	require.True(t, failed)
	assert.Equal(t, "down", msg)

	down = false
	c.run(ctx)
	_, failed = c.failure()
	assert.True(t, failed, "one success is below the success threshold")

	c.run(ctx)
	_, failed = c.failure()
	assert.False(t, failed)
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.Add(Liveness, "slow", CheckOptions{Timeout: 10 * time.Millisecond, FailureThreshold: 1}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.checks[Liveness][0].run(context.Background())

	msg, failed := h.checks[Liveness][0].failure()
	require.True(t, failed)
	assert.Contains(t, msg, "deadline exceeded")
}

func TestStartStop_Concurrent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1_000_000))
	h.AddReadinessCheck("flaky", time.Second, failing("err"))
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	h.Stop()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, PingCheck(pingerFunc(passing))(ctx))
	assert.Error(t, PingCheck(pingerFunc(failing("no route")))(ctx))

	dir := t.TempDir()
	require.NoError(t, DirWritableCheck(dir)(ctx))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is removed")
	assert.Error(t, DirWritableCheck(filepath.Join(dir, "missing"))(ctx))
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
