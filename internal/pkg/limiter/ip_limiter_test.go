package limiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestMiddlewareRejectsOverBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lim := NewIPRateLimiter(ctx, rate.Limit(0.001), 2)
	handler := lim.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestLimitsArePerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lim := NewIPRateLimiter(ctx, rate.Limit(0.001), 1)

	assert.True(t, lim.Allow("10.0.0.1"))
	assert.False(t, lim.Allow("10.0.0.1"))
	assert.True(t, lim.Allow("10.0.0.2"))
}

func TestSweepForgetsRefilledBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lim := NewIPRateLimiter(ctx, rate.Limit(10), 1)
	lim.Allow("10.0.0.1")
	lim.GetLimiter("10.0.0.2")

	removed := lim.sweep(time.Now().Add(time.Second))

	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, lim.Len())
}
