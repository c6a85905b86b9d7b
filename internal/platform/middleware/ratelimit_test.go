package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/platform/auth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newLimiter(rps float64, burst int) (*rateLimiterStore, *fakeClock, echo.HandlerFunc) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst, IdleTTL: time.Minute})
	store.now = clock.now
	h := rateLimit(store)(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return store, clock, h
}

func hit(h echo.HandlerFunc, user string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != "" {
		req = req.WithContext(auth.WithUser(req.Context(), user, nil))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenDenied(t *testing.T) {
	_, _, h := newLimiter(1, 2)

	for i := 0; i < 2; i++ {
		rec, err := hit(h, "")
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("request %d: %v %d", i+1, err, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec, err := hit(h, "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestRateLimit_Refills(t *testing.T) {
	_, clock, h := newLimiter(1, 1)
	if _, err := hit(h, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := hit(h, ""); err == nil {
		t.Fatal("expected denial")
	}
	clock.t = clock.t.Add(time.Second)
	if _, err := hit(h, ""); err != nil {
		t.Fatalf("expected refill, got %v", err)
	}
}

func TestRateLimit_KeyedByUser(t *testing.T) {
	_, _, h := newLimiter(1, 1)
	if _, err := hit(h, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := hit(h, "bob"); err != nil {
		t.Fatalf("bob has his own bucket: %v", err)
	}
	if _, err := hit(h, "alice"); err == nil {
		t.Fatal("alice should be limited")
	}
}

func TestRateLimit_EvictsIdleBuckets(t *testing.T) {
	store, clock, h := newLimiter(1, 1)
	_, _ = hit(h, "alice")
	_, _ = hit(h, "bob")
	if store.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", store.size())
	}
	clock.t = clock.t.Add(2 * time.Minute)
	_, _ = hit(h, "carol")
	if store.size() != 1 {
		t.Fatalf("idle buckets should be evicted, got %d", store.size())
	}
}
