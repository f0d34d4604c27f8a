package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/logger"
)

// RateLimiter implements a keyed token-bucket limiter. Keys are client
// IPs for the API-wide limiter and org IDs for the scan trigger limiter.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	log      *logger.Logger
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter and starts its cleanup
// goroutine.
func NewRateLimiter(cfg *config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RequestsPerSec),
		burst:    cfg.Burst,
		cleanup:  cfg.CleanupInterval,
		log:      log,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go rl.cleanupVisitors()

	return rl
}

// Stop stops the cleanup goroutine and waits for it to exit. Safe to
// call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
	<-rl.stopped
}

// getVisitor retrieves or creates the limiter for a key.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[key] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors drops entries idle for more than three minutes.
func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	defer close(rl.stopped)

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// allow applies the limit for a key, sets the X-RateLimit-* headers and
// writes the 429 response when the bucket is empty.
func (rl *RateLimiter) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	limiter := rl.getVisitor(key)

	// Read the bucket before Allow() consumes a token so the Remaining
	// header reflects the state after this request.
	tokens := limiter.Tokens()
	remaining := int(math.Max(0, math.Floor(tokens)-1))

	tokensToRefill := float64(rl.burst) - tokens
	var resetTime time.Time
	if tokensToRefill > 0 && rl.rate > 0 {
		secondsToRefill := tokensToRefill / float64(rl.rate)
		resetTime = time.Now().Add(time.Duration(secondsToRefill * float64(time.Second)))
	} else {
		resetTime = time.Now()
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

	if !limiter.Allow() {
		rl.log.Warn("rate limit exceeded",
			"key", key,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
		)

		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "1")
		apierror.TooManyRequests("").WriteJSON(w)
		return false
	}

	return true
}

// Middleware returns the per-IP rate limiting middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(w, r, getClientIP(r)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithStop creates a rate limiting middleware and returns a stop
// function for graceful shutdown.
func RateLimitWithStop(cfg *config.RateLimitConfig, log *logger.Logger) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}, func() {}
	}

	rl := NewRateLimiter(cfg, log)
	return rl.Middleware(), rl.Stop
}

// RateLimit creates a rate limiting middleware from config. For proper
// cleanup, use RateLimitWithStop instead.
func RateLimit(cfg *config.RateLimitConfig, log *logger.Logger) func(http.Handler) http.Handler {
	mw, _ := RateLimitWithStop(cfg, log)
	return mw
}

// getClientIP extracts the real client IP. Behind a trusted proxy,
// X-Real-IP or the first X-Forwarded-For entry wins; otherwise
// RemoteAddr without the port.
func getClientIP(r *http.Request) string {
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		return ip[:idx]
	}
	return ip
}

// ScanTriggerRateLimiter limits scan enqueue requests per organization.
// Scan execution is expensive; a runaway client must not be able to fill
// the queue for everyone else.
type ScanTriggerRateLimiter struct {
	limiter *RateLimiter
	log     *logger.Logger
}

// ScanTriggerConfig configures the scan trigger limiter.
type ScanTriggerConfig struct {
	// TriggersPerMin is the max scan enqueues per minute per org.
	// Default: 20.
	TriggersPerMin int
	// CleanupInterval for idle org entries. Default: 1 minute.
	CleanupInterval time.Duration
}

// NewScanTriggerRateLimiter creates a per-org limiter for scan enqueue
// endpoints.
func NewScanTriggerRateLimiter(cfg ScanTriggerConfig, log *logger.Logger) *ScanTriggerRateLimiter {
	if cfg.TriggersPerMin == 0 {
		cfg.TriggersPerMin = 20
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	return &ScanTriggerRateLimiter{
		limiter: NewRateLimiter(&config.RateLimitConfig{
			Enabled:         true,
			RequestsPerSec:  float64(cfg.TriggersPerMin) / 60.0,
			Burst:           cfg.TriggersPerMin,
			CleanupInterval: cfg.CleanupInterval,
		}, log),
		log: log,
	}
}

// Middleware returns the trigger limiting middleware, keyed by org ID
// with an IP fallback for requests without one.
func (t *ScanTriggerRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetOrgID(r.Context())
			if key == "" {
				key = "ip:" + getClientIP(r)
			} else {
				key = "org:" + key
			}

			if !t.limiter.allow(w, r, key) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Stop shuts the underlying limiter down.
func (t *ScanTriggerRateLimiter) Stop() {
	t.limiter.Stop()
}
