package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool хранит token-bucket на ключ (IP или user_id). Давно не использованные ключи вычищаются.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*poolEntry
	rps   float64
	burst int
	idle  time.Duration
	now   func() time.Time
}

type poolEntry struct {
	l    *rate.Limiter
	seen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 30
	}
	return &limiterPool{m: make(map[string]*poolEntry), rps: rps, burst: burst, idle: 10 * time.Minute, now: time.Now}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.m[key]; ok {
		e.seen = now
		return e.l
	}
	if len(p.m) > 10000 {
		for k, e := range p.m {
			if now.Sub(e.seen) > p.idle {
				delete(p.m, k)
			}
		}
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &poolEntry{l: l, seen: now}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if i := strings.Index(x, ","); i > 0 {
			return strings.TrimSpace(x[:i])
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitAPI ограничивает запросы к /api/* по IP и по user_id (если есть в контексте). 429 при превышении.
// Лимит на IP в 4 раза выше пользовательского.
func RateLimitAPI(rps float64, burst int) func(http.Handler) http.Handler {
	byUser := newLimiterPool(rps, burst)
	byIP := newLimiterPool(rps*4, burst*4)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.Allow(clientIP(r)) {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !byUser.Allow("u:" + userID) {
					writeJSONError(w, http.StatusTooManyRequests, "too many requests")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
