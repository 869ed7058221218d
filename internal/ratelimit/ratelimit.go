// Package ratelimit throttles requests per remote address ahead of the
// access boundary, protecting the lease/ingestion path from thundering-herd
// submission retries. Grounded on the teacher's
// infrastructure/ratelimit/ratelimit.go (golang.org/x/time/rate) and
// infrastructure/middleware/ratelimit.go's per-key limiter map.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the per-key token bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the teacher's default: 100 req/s, burst 200.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 100, Burst: 200}
}

// Limiter maintains one token bucket per remote address.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a Limiter from cfg, defaulting any zero field.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
	}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a request keyed by key may proceed.
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// Cleanup drops every tracked limiter once the map grows unreasonably
// large, bounding memory use against an unbounded set of remote addresses.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup runs Cleanup on a fixed interval until the returned stop
// function is called.
func (l *Limiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// clientIP returns the X-Forwarded-For header verbatim when it is present;
// otherwise it extracts the remote address without its port, falling back
// to the raw value if it cannot be split.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	addr := r.RemoteAddr
	if idx := lastColon(addr); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// Middleware rejects a request with 429 once its remote address's bucket
// is exhausted.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if key == "" {
			key = "unknown"
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"response":"ERROR","text":"Too many requests."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
