package httpserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter keeps one token bucket per key. Idle buckets are dropped
// once they have refilled completely.
type callerLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*callerBucket
	lastScan time.Time
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(perSecond float64, burst int) *callerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &callerLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*callerBucket),
	}
}

// allow takes one token from every key's bucket. When any bucket is empty
// the tokens already taken are returned and the request is denied.
func (l *callerLimiter) allow(keys []string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastScan) > time.Minute {
		for key, bucket := range l.limiters {
			if now.Sub(bucket.lastSeen) > time.Minute {
				delete(l.limiters, key)
			}
		}
		l.lastScan = now
	}

	reservations := make([]*rate.Reservation, 0, len(keys))
	for _, key := range keys {
		bucket, ok := l.limiters[key]
		if !ok {
			bucket = &callerBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
			l.limiters[key] = bucket
		}
		bucket.lastSeen = now
		reservation := bucket.limiter.ReserveN(now, 1)
		if !reservation.OK() || reservation.DelayFrom(now) > 0 {
			reservation.CancelAt(now)
			for _, taken := range reservations {
				taken.CancelAt(now)
			}
			return false
		}
		reservations = append(reservations, reservation)
	}
	return true
}

// limitKeys returns the buckets a request draws from. The client address is
// always charged so rotating X-User-Id values does not reset the budget.
func limitKeys(r *http.Request) []string {
	keys := []string{"ip:" + resolveClientIP(r)}
	if caller := strings.TrimSpace(r.Header.Get("X-User-Id")); caller != "" {
		keys = append(keys, "user:"+caller)
	}
	return keys
}

// limited rejects a mutating request with 429 once its caller's bucket or its
// client address bucket is empty.
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}
		keys := limitKeys(r)
		if !s.limiter.allow(keys, time.Now()) {
			s.logger.Warn("request rate limited",
				"event", "http_rate_limited",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"keys", keys,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", true)
			return
		}
		next(w, r)
	})
}
