package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket defines rate limit parameters.
type Bucket struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBuckets are the limits applied per client IP.
var DefaultBuckets = map[string]Bucket{
	"scan":    {MaxRequests: 10, Window: time.Minute},
	"metrics": {MaxRequests: 60, Window: time.Minute},
	"auth":    {MaxRequests: 10, Window: time.Minute},
	"explain": {MaxRequests: 5, Window: time.Minute},
	"api":     {MaxRequests: 120, Window: time.Minute},
}

// idleTTL is how long an unused key's limiter is kept.
const idleTTL = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter is an in-memory token-bucket rate limiter per key. A bucket allows
// MaxRequests in a burst and refills at MaxRequests per Window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]Bucket
	keys    map[string]*entry
	now     func() time.Time
}

// New creates a limiter with DefaultBuckets, overridden by overrides.
func New(overrides map[string]Bucket) *Limiter {
	b := make(map[string]Bucket, len(DefaultBuckets)+len(overrides))
	for k, v := range DefaultBuckets {
		b[k] = v
	}
	for k, v := range overrides {
		if v.MaxRequests > 0 && v.Window > 0 {
			b[k] = v
		}
	}
	return &Limiter{buckets: b, keys: make(map[string]*entry), now: time.Now}
}

func (l *Limiter) bucket(name string) Bucket {
	if b, ok := l.buckets[name]; ok {
		return b
	}
	return Bucket{MaxRequests: 60, Window: time.Minute}
}

// Allow checks if a request identified by key is within the rate limit for
// the named bucket. Returns true if allowed.
func (l *Limiter) Allow(bucketName, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := bucketName + ":" + key
	e, ok := l.keys[k]
	if !ok {
		b := l.bucket(bucketName)
		e = &entry{lim: rate.NewLimiter(rate.Every(b.Window/time.Duration(b.MaxRequests)), b.MaxRequests)}
		l.keys[k] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Sweep drops limiters that have been idle longer than idleTTL.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleTTL)
	n := 0
	for k, e := range l.keys {
		if e.seen.Before(cutoff) {
			delete(l.keys, k)
			n++
		}
	}
	return n
}

// Check writes a 429 response if the client IP is rate limited for the given
// bucket name. Returns true if the request was rejected.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	if l.Allow(bucketName, clientIP(r)) {
		return false
	}
	retry := strconv.Itoa(int(l.bucket(bucketName).Window.Seconds()))
	w.Header().Set("Retry-After", retry)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limited","retry_after_seconds":` + retry + `}`))
	return true
}

// Middleware applies bucketName to every request of a route group.
func (l *Limiter) Middleware(bucketName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Check(w, r, bucketName) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Real-IP"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
