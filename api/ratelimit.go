package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intelforge/intelforge/internal/log"
)

// staleAfter is how long an idle client keeps its token bucket before
// it is dropped; sweeps run at most every sweepEvery.
const (
	staleAfter = 10 * time.Minute
	sweepEvery = 5 * time.Minute
)

// rateLimiter hands out one token bucket per client IP. Buckets for
// idle clients are swept inline on the next request, so no background
// goroutine is needed.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweep(now)

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = now
	return b.limiter.Allow()
}

// sweep drops buckets that have been idle longer than staleAfter.
// Caller holds the mutex.
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepEvery {
		return
	}
	for ip, b := range rl.buckets {
		if now.Sub(b.seen) > staleAfter {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects requests from clients that exhausted
// their token bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method))
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the key a request is rate limited under. Proxy
// headers (X-Real-IP, then the first X-Forwarded-For entry) are only
// honored when trustProxy is set, and only when they parse as real IPs;
// otherwise RemoteAddr wins.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		candidates := []string{r.Header.Get("X-Real-IP")}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			candidates = append(candidates, first)
		}
		for _, candidate := range candidates {
			if ip := net.ParseIP(strings.TrimSpace(candidate)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
