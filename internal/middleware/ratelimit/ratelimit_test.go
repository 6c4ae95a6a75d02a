package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLimiter(requests int) (*Limiter, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(Config{Requests: requests, Window: time.Minute}).WithClock(c.now), c
}

func TestLimiterAllow(t *testing.T) {
	l, c := newLimiter(3)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("a"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("4th request should be denied")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("other keys have their own window")
	}

	c.t = c.t.Add(time.Minute)
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("request should be allowed after the window ends")
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	if l.limit != 120 || l.length != time.Minute {
		t.Fatalf("unexpected defaults: %d per %s", l.limit, l.length)
	}
}

func TestLimiterCleanExpired(t *testing.T) {
	l, c := newLimiter(5)
	l.Allow("old")
	c.t = c.t.Add(30 * time.Second)
	l.Allow("new")
	c.t = c.t.Add(31 * time.Second)

	if n := l.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired window, got %d", n)
	}
	if n := l.ActiveClients(); n != 1 {
		t.Fatalf("expected 1 active client, got %d", n)
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(1)
	var limited bool
	h := l.Middleware(
		func(r *http.Request) string { return r.RemoteAddr },
		func(w http.ResponseWriter, r *http.Request) {
			limited = true
			w.WriteHeader(http.StatusTooManyRequests)
		},
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests || !limited {
		t.Fatalf("second request: status %d, limited %v", rec.Code, limited)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}
