package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy combines a sliding window with a token bucket so a client cannot spend
// the whole window in one burst.
type RateLimitPolicy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type localLimiterState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

type LocalLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	store   map[string]*localLimiterState
	cleanup time.Time
}

func NewLocalLimiter(now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{
		now:     now,
		store:   make(map[string]*localLimiterState),
		cleanup: now().Add(time.Minute),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, v := range l.store {
			if now.Sub(v.lastRefill) > 2*policy.SustainedWindow {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(policy.SustainedWindow)
	}

	state, ok := l.store[key]
	if !ok {
		state = &localLimiterState{tokens: float64(policy.BurstCapacity), lastRefill: now}
		l.store[key] = state
	}
	if now.After(state.lastRefill) {
		elapsed := now.Sub(state.lastRefill).Seconds()
		state.tokens = min(float64(policy.BurstCapacity), state.tokens+elapsed*policy.BurstRefillPerSec)
		state.lastRefill = now
	}

	cutoff := now.Add(-policy.SustainedWindow)
	kept := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	state.hits = kept

	var bucketRetry, windowRetry time.Duration
	if state.tokens < 1 {
		bucketRetry = time.Duration(math.Ceil((1 - state.tokens) / policy.BurstRefillPerSec * float64(time.Second)))
	}
	if len(state.hits) >= policy.SustainedLimit {
		windowRetry = max(state.hits[0].Add(policy.SustainedWindow).Sub(now), 0)
	}

	allowed := bucketRetry <= 0 && len(state.hits) < policy.SustainedLimit
	if allowed {
		state.tokens = max(state.tokens-1, 0)
		state.hits = append(state.hits, now)
	}

	remaining := max(min(int(math.Floor(state.tokens)), policy.SustainedLimit-len(state.hits)), 0)
	retryAfter := max(bucketRetry, windowRetry)
	if !allowed && retryAfter <= 0 {
		retryAfter = time.Second
	}
	resetAt := now.Add(policy.SustainedWindow)
	if len(state.hits) > 0 {
		resetAt = state.hits[0].Add(policy.SustainedWindow)
	}
	if !allowed {
		resetAt = now.Add(retryAfter)
	}
	return Decision{Allowed: allowed, RetryAfter: retryAfter, Remaining: remaining, ResetAt: resetAt}, nil
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	scope   string
	keyFunc func(r *http.Request) string
}

// NewRateLimiter limits each client IP to limit requests per window. A non-positive
// limit disables limiting.
func NewRateLimiter(limiter Limiter, scope string, limit int, window time.Duration) *RateLimiter {
	if limiter == nil {
		limiter = NewLocalLimiter(nil)
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  newRateLimitPolicy(limit, window),
		scope:   scope,
		keyFunc: clientIPKey,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.policy.SustainedLimit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+rl.keyFunc(r), rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.SustainedWindow))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.policy.SustainedLimit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				h.Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func newRateLimitPolicy(limit int, window time.Duration) RateLimitPolicy {
	if limit <= 0 {
		return RateLimitPolicy{}
	}
	if window <= 0 {
		window = time.Minute
	}
	return RateLimitPolicy{
		SustainedLimit:    limit,
		SustainedWindow:   window,
		BurstCapacity:     limit,
		BurstRefillPerSec: float64(limit) / window.Seconds(),
	}
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.SustainedLimit <= 0 {
		policy.SustainedLimit = 1
	}
	if policy.SustainedWindow <= 0 {
		policy.SustainedWindow = time.Minute
	}
	if policy.BurstCapacity < policy.SustainedLimit {
		policy.BurstCapacity = policy.SustainedLimit
	}
	if policy.BurstRefillPerSec <= 0 {
		policy.BurstRefillPerSec = float64(policy.SustainedLimit) / policy.SustainedWindow.Seconds()
	}
	return policy
}
