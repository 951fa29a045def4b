package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store, err := NewRedis(client, "1-M")
	require.NoError(t, err)

	limited := Handler{Limiter: store, Key: func(*http.Request) string { return "static" }}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/create-payment", nil)
	rr1 := httptest.NewRecorder()
	limited.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	limited.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr2.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr2.Header().Get("Retry-After"))
	assert.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestMemoryLimiterKeysByClientIP(t *testing.T) {
	store, err := NewMemory("1-H")
	require.NoError(t, err)
	limited := Handler{Limiter: store}.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/create-payment", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, first)
	require.Equal(t, http.StatusOK, rr.Code)

	other := httptest.NewRequest(http.MethodPost, "/create-payment", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, other)
	require.Equal(t, http.StatusOK, rr.Code, "a different client has its own bucket")

	again := httptest.NewRequest(http.MethodPost, "/create-payment", nil)
	again.RemoteAddr = "10.0.0.1:6000"
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, again)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	limited := Handler{
		Limiter: failingLimiter{},
		OnError: func(error) { called = true },
	}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/create-payment", nil))
	require.Equal(t, http.StatusOK, rr.Code, "limiter failures must not block payments")
	require.True(t, called)
}

func TestInvalidRate(t *testing.T) {
	_, err := NewMemory("lots")
	require.Error(t, err)
}
