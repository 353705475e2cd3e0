package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter to prevent excessive API calls
type RateLimiter struct {
	mu          sync.Mutex
	tokens      int           // Current number of tokens available
	maxTokens   int           // Maximum number of tokens
	refillRate  time.Duration // Time between token refills
	lastRefill  time.Time     // Last time tokens were refilled
	minInterval time.Duration // Minimum time between requests
	lastRequest time.Time     // Last request time
}

// New creates a new rate limiter
// maxRequests: maximum number of requests allowed
// perDuration: time window for maxRequests (e.g., 60 requests per minute)
// minInterval: minimum time between requests for Wait; zero disables it
func New(maxRequests int, perDuration time.Duration, minInterval time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 60 // Default: 60 requests
	}
	if perDuration <= 0 {
		perDuration = time.Minute // Default: per minute
	}
	if minInterval < 0 {
		minInterval = 0
	}

	refillRate := perDuration / time.Duration(maxRequests)
	if refillRate <= 0 {
		refillRate = time.Nanosecond
	}

	return &RateLimiter{
		tokens:      maxRequests,
		maxTokens:   maxRequests,
		refillRate:  refillRate,
		lastRefill:  time.Now(),
		minInterval: minInterval,
	}
}

// refill adds the tokens earned since the last refill. Callers hold mu.
func (rl *RateLimiter) refill(now time.Time) {
	if rl.refillRate <= 0 {
		return
	}
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	tokensToAdd := int(elapsed / rl.refillRate)
	if tokensToAdd > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+tokensToAdd)
		rl.lastRefill = rl.lastRefill.Add(time.Duration(tokensToAdd) * rl.refillRate)
	}
}

// Allow takes a token if one is available and reports whether it did.
// It never blocks and ignores minInterval.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.refill(now)
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	rl.lastRequest = now
	return true
}

// Wait blocks until a token is available, respecting rate limits
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.refill(now)

	// Check minimum interval between requests
	if !rl.lastRequest.IsZero() && rl.minInterval > 0 {
		timeSinceLastRequest := now.Sub(rl.lastRequest)
		if timeSinceLastRequest < rl.minInterval {
			waitTime := rl.minInterval - timeSinceLastRequest
			rl.mu.Unlock()
			select {
			case <-ctx.Done():
				rl.mu.Lock()
				return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
			case <-time.After(waitTime):
			}
			rl.mu.Lock()
			now = time.Now()
		}
	}

	// Wait for token availability
	for rl.tokens <= 0 {
		// A limiter that can never refill only ends through ctx.
		waitTime := rl.refillRate
		if waitTime > 0 {
			waitTime = rl.lastRefill.Add(rl.refillRate).Sub(now)
			if waitTime <= 0 {
				waitTime = rl.refillRate
			}
		} else {
			waitTime = time.Second
		}

		rl.mu.Unlock()
		select {
		case <-ctx.Done():
			rl.mu.Lock()
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-time.After(waitTime):
		}
		rl.mu.Lock()

		now = time.Now()
		rl.refill(now)
	}

	// Consume a token
	rl.tokens--
	rl.lastRequest = now

	return nil
}

// Registry hands out one limiter per key, typically a user id.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*entry
	requests int
	window   time.Duration
	maxKeys  int
}

type entry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewRegistry allows requests per window for every key.
func NewRegistry(requests int, window time.Duration) *Registry {
	return &Registry{
		limiters: make(map[string]*entry),
		requests: requests,
		window:   window,
		maxKeys:  10000,
	}
}

// Allow reports whether key may make another request now.
func (r *Registry) Allow(key string) bool {
	now := time.Now()

	r.mu.Lock()
	e, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= r.maxKeys {
			r.prune(now)
		}
		e = &entry{limiter: New(r.requests, r.window, 0)}
		r.limiters[key] = e
	}
	e.lastSeen = now
	r.mu.Unlock()

	return e.limiter.Allow()
}

// prune drops limiters idle for a full window; by then their bucket is full
// again so forgetting them changes nothing. If every key is still active the
// least recently seen one goes, so the map never exceeds maxKeys.
// Callers hold mu.
func (r *Registry) prune(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, e := range r.limiters {
		if now.Sub(e.lastSeen) > r.window {
			delete(r.limiters, key)
			continue
		}
		if oldestKey == "" || e.lastSeen.Before(oldest) {
			oldestKey, oldest = key, e.lastSeen
		}
	}
	if len(r.limiters) >= r.maxKeys && oldestKey != "" {
		delete(r.limiters, oldestKey)
	}
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
