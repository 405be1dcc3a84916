package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// IPRateLimit throttles polling endpoints per client address. Idle entries
// are dropped lazily while new clients arrive.
type IPRateLimit struct {
	rps   rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	pruned   time.Time
}

func NewIPRateLimit(rps float64, burst int) *IPRateLimit {
	return &IPRateLimit{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     30 * time.Minute,
		limiters: map[string]*ipLimiter{},
		pruned:   time.Now(),
	}
}

func (l *IPRateLimit) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.pruned) > 5*time.Minute {
		for k, v := range l.limiters {
			if now.Sub(v.last) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.pruned = now
	}
	il, ok := l.limiters[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = il
	}
	il.last = now
	return il.limiter.AllowN(now, 1)
}

func (l *IPRateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteIP(r), time.Now()) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
