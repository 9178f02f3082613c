package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/juju/ratelimit"
)

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*ratelimit.Bucket
	rate    float64
	burst   int64
	// cost reports how many tokens a request takes. Zero is free.
	cost func(*http.Request) int64
}

func NewRateLimiter(rate float64, burst int64) *RateLimiter {
	if rate <= 0 {
		rate = 3
	}
	if burst <= 0 {
		burst = 60
	}
	return &RateLimiter{
		clients: make(map[string]*ratelimit.Bucket),
		rate:    rate,
		burst:   burst,
		cost:    RequestCost,
	}
}

// RequestCost charges the calls that reach the model more than plain reads.
func RequestCost(r *http.Request) int64 {
	p := r.URL.Path
	switch {
	case p == "/healthz" || p == "/metrics" || r.Method == http.MethodOptions:
		return 0
	case r.Method == http.MethodGet:
		return 1
	case p == "/api/runs" || strings.HasSuffix(p, "/confirm-product") || p == "/api/images/edit":
		return 10
	default:
		return 2
	}
}

func (rl *RateLimiter) bucket(client string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.clients[client]
	rl.mu.RUnlock()
	if ok {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.clients[client]; !ok {
		b = ratelimit.NewBucketWithRate(rl.rate, rl.burst)
		rl.clients[client] = b
	}
	return b
}

// Sweep drops buckets that have refilled completely and returns how many remain.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.clients {
		if b.Available() == b.Capacity() {
			delete(rl.clients, ip)
		}
	}
	return len(rl.clients)
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := rl.cost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}
		b := rl.bucket(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.burst, 10))
		if b.TakeAvailable(cost) < cost {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
