package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         5,
	}, logrus.New())
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("caller-1"), "request %d should be within burst", i)
	}
	assert.False(t, limiter.Allow("caller-1"), "burst exhausted")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         1,
	}, logrus.New())
	defer limiter.Stop()

	assert.True(t, limiter.Allow("caller-1"))
	assert.False(t, limiter.Allow("caller-1"))
	assert.True(t, limiter.Allow("caller-2"), "a different caller has its own bucket")
}

func TestRateLimiter_Refills(t *testing.T) {
	// 6000/minute = 100/second, so one token returns within tens of
	// milliseconds.
	limiter := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 6000,
		BurstSize:         1,
	}, logrus.New())
	defer limiter.Stop()

	assert.True(t, limiter.Allow("caller-1"))
	assert.False(t, limiter.Allow("caller-1"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, limiter.Allow("caller-1"), "bucket should refill")
}

func TestRateLimiter_DefaultBurst(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 10,
	}, logrus.New())
	defer limiter.Stop()

	assert.Equal(t, 10, limiter.config.BurstSize)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         2,
	}, logrus.New())
	defer limiter.Stop()

	handler := RateLimitMiddleware(limiter, DefaultKeyExtractor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	makeRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/route", nil)
		req.Header.Set("X-API-Key", "caller-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, makeRequest().Code)
	assert.Equal(t, http.StatusOK, makeRequest().Code)

	rec := makeRequest()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestDefaultKeyExtractor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", DefaultKeyExtractor(req))

	req.Header.Set("X-API-Key", "some-key")
	assert.Equal(t, "some-key", DefaultKeyExtractor(req))

	req.Header.Set("Authorization", "Bearer jwt-token")
	assert.Equal(t, "jwt-token", DefaultKeyExtractor(req))
}
