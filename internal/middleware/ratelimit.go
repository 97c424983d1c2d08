package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chatcore/internal/metrics"
	"golang.org/x/time/rate"
)

// idleLimiter: лимитер, не использовавшийся дольше, удаляется при очередной чистке.
const idleLimiter = 10 * time.Minute

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool хранит token bucket на ключ (IP или пользователь).
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{m: make(map[string]*limiterEntry), rps: rate.Limit(rps), burst: burst}
}

func (p *limiterPool) allow(key string, now time.Time) bool {
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	if now.Sub(p.lastSweep) > idleLimiter {
		for k, v := range p.m {
			if now.Sub(v.lastSeen) > idleLimiter {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

// RateLimitAPI ограничивает запросы к API по IP и по user_id (если он уже в контексте). 429 при превышении.
// Пользовательский бакет вдвое меньше IP-шного: за одним NAT сидит много пользователей.
func RateLimitAPI(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	byIP := newLimiterPool(rps*2, burst*2)
	byUser := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ok := byIP.allow(ClientIP(r), now)
			if ok {
				if userID := GetUserID(r.Context()); userID != "" {
					ok = byUser.allow("u:"+userID, now)
				}
			}
			if !ok {
				metrics.RateLimited.Inc()
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
