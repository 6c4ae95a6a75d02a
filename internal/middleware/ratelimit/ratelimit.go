// Package ratelimit throttles API clients with a fixed window per key.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config holds rate limiter configuration
type Config struct {
	// Requests allowed per key and window (default: 120)
	Requests int

	// Window length (default: 1m)
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{Requests: 120, Window: time.Minute}
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key. Expired windows are dropped by
// CleanExpired, so a Limiter can be registered with a cache.Manager.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	length  time.Duration
	now     func() time.Time
}

func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.Requests <= 0 {
		config.Requests = def.Requests
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	return &Limiter{
		windows: make(map[string]*window),
		limit:   config.Requests,
		length:  config.Window,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records a request for key and reports whether it is within the limit.
// The second result is when the current window ends.
func (l *Limiter) Allow(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.length)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, w.resetAt
}

// CleanExpired removes windows that have ended and returns how many.
func (l *Limiter) CleanExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// ActiveClients returns the number of keys with an open window.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Middleware rejects requests over the limit. onLimit writes the rejection;
// when nil a plain 429 is sent. Retry-After is set before onLimit runs.
func (l *Limiter) Middleware(key func(*http.Request) string, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, resetAt := l.Allow(key(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			secs := int(resetAt.Sub(l.now()).Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}
