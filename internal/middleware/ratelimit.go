package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/diewo77/go-contracts/httpx"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// clientLimiter stores the limiter of a single client.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client address. It guards the endpoints
// that start billing runs.
type RateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute, burst int, log zerolog.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 6
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     30 * time.Minute,
		log:     log,
		now:     time.Now,
	}
}

// clientKey identifies the caller by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// Cleanup drops clients not seen within the idle window and returns how many
// were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	cutoff := rl.now().Add(-rl.ttl)
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	if removed > 0 {
		rl.log.Debug().Int("removed", removed).Msg("rate limiter cleanup")
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

// Limit wraps next, answering 429 once a client's budget is spent.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.get(key).Allow() {
			rl.log.Warn().Str("client", key).Str("path", r.URL.Path).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			httpx.JSONError(w, http.StatusTooManyRequests, "rate_limited", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
