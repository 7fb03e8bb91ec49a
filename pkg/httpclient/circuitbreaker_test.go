package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCBConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func newTestBreaker(name string) *CircuitBreakerClient {
	return NewCircuitBreakerClient(New(SingleAttemptConfig(5*time.Second)), testCBConfig(name), testLogger())
}

func get(ctx context.Context, t *testing.T, cb *CircuitBreakerClient, url string) (*http.Response, error) {
	t.Helper()
	req, err := NewJSONRequest(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	return cb.Do(ctx, req)
}

func failingServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	cb := newTestBreaker("test-closed")
	resp, err := get(context.Background(), t, cb, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAndRejectsUnsent(t *testing.T) {
	var hits atomic.Int32
	server := failingServer(t, http.StatusInternalServerError, &hits)

	cb := newTestBreaker("test-trip")
	for i := 0; i < 3; i++ {
		_, err := get(context.Background(), t, cb, server.URL)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	before := hits.Load()
	for i := 0; i < 5; i++ {
		_, err := get(context.Background(), t, cb, server.URL)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before, hits.Load())
}

func TestCircuitBreaker_HalfOpenToClosedRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testCBConfig("test-recovery")
	cfg.Timeout = 100 * time.Millisecond
	cb := NewCircuitBreakerClient(New(SingleAttemptConfig(5*time.Second)), cfg, testLogger())

	for i := 0; i < 3; i++ {
		_, _ = get(context.Background(), t, cb, server.URL)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(150 * time.Millisecond)
	failing.Store(false)

	resp, err := get(context.Background(), t, cb, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_4xxNotCountedAsFailure(t *testing.T) {
	server := failingServer(t, http.StatusNotFound, nil)

	cb := newTestBreaker("test-4xx")
	for i := 0; i < 5; i++ {
		resp, err := get(context.Background(), t, cb, server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_5xxIsServerError(t *testing.T) {
	server := failingServer(t, http.StatusBadGateway, nil)

	resp, err := get(context.Background(), t, newTestBreaker("test-5xx"), server.URL)
	assert.Nil(t, resp)

	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "upstream down", se.Body)
	assert.Equal(t, "server error 502: upstream down", err.Error())
}

func TestCircuitBreaker_CallerCancellationDoesNotTrip(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cb := newTestBreaker("test-cancel")
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := get(ctx, t, cb, server.URL)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_DeadlineCountsAsFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cb := newTestBreaker("test-deadline")
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := get(ctx, t, cb, server.URL)
		cancel()
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("cart-authority")
	assert.Equal(t, "cart-authority", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_ForwardsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var doer Doer = newTestBreaker("test-do")

	req, err := NewJSONRequest(context.Background(), http.MethodPatch, server.URL, map[string]int{"quantity": 2})
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")

	resp, err := doer.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
