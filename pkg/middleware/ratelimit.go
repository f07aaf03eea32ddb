package middleware

import (
	"container/list"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rate_limited_total",
	Help: "Requests rejected by a rate limiter",
}, []string{"limiter"})

// KeyFunc picks the bucket a request is charged to
type KeyFunc func(r *http.Request) string

// ClientIP buckets by remote address without the port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type bucket struct {
	key     string
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per key, least recently used first out
// once maxSize keys are held. Keys are client IPs for HTTP middleware and
// user IDs for payment window opens.
type RateLimiter struct {
	name    string
	rate    rate.Limit
	burst   int
	keyFunc KeyFunc
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*list.Element
	lru      *list.List // front is most recent
	maxSize  int
	idle     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows perSecond sustained events per key with burst.
// Buckets idle for five minutes are dropped.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		name:     "http",
		rate:     rate.Limit(perSecond),
		burst:    burst,
		keyFunc:  ClientIP,
		now:      time.Now,
		limiters: make(map[string]*list.Element),
		lru:      list.New(),
		maxSize:  10000,
		idle:     5 * time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// WithKeyFunc changes how HTTP requests are bucketed
func (rl *RateLimiter) WithKeyFunc(fn KeyFunc) *RateLimiter {
	rl.keyFunc = fn
	return rl
}

// WithName labels rejections in rate_limited_total
func (rl *RateLimiter) WithName(name string) *RateLimiter {
	rl.name = name
	return rl
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops buckets idle longer than rl.idle and returns how many went
func (rl *RateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for e := rl.lru.Back(); e != nil; {
		b := e.Value.(*bucket)
		if !b.seen.Before(cutoff) {
			break
		}
		prev := e.Prev()
		rl.lru.Remove(e)
		delete(rl.limiters, b.key)
		removed++
		e = prev
	}
	return removed
}

// Shutdown stops the idle sweep
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow reports whether one more event for key fits the rate
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	if rl.bucket(key, now).AllowN(now, 1) {
		return true
	}
	rateLimited.WithLabelValues(rl.name).Inc()
	return false
}

func (rl *RateLimiter) bucket(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if e, ok := rl.limiters[key]; ok {
		e.Value.(*bucket).seen = now
		rl.lru.MoveToFront(e)
		return e.Value.(*bucket).limiter
	}

	if rl.lru.Len() >= rl.maxSize {
		if oldest := rl.lru.Back(); oldest != nil {
			rl.lru.Remove(oldest)
			delete(rl.limiters, oldest.Value.(*bucket).key)
		}
	}
	b := &bucket{key: key, limiter: rate.NewLimiter(rl.rate, rl.burst), seen: now}
	rl.limiters[key] = rl.lru.PushFront(b)
	return b.limiter
}

// retryAfter is the whole seconds until one token refills
func (rl *RateLimiter) retryAfter() string {
	if rl.rate <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(rl.rate)))))
}

// Middleware rejects requests over the rate with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.keyFunc(r)) {
			w.Header().Set("Retry-After", rl.retryAfter())
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
