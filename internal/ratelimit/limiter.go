// Package ratelimit provides per-key token bucket rate limiting for the
// poseidon MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limiter throttles MCP tool calls. ToolLimiters gives every tool its own
// Limiter, so a client looping on poseidon_simulate drains only that tool's
// bucket and can still list runs or read series. Buckets start full and refill continuously
// at rate tokens per second up to burst. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   int              // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow checks if a request for the given key should be allowed.
// Returns true if allowed, false if rate limited.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	b, ok := l.buckets[key]
	if !ok {
		// First request for this key: start with full burst
		b = &bucket{
			tokens:    float64(l.burst),
			lastCheck: now,
		}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}

	// Check if we have at least 1 token
	if b.tokens < 1.0 {
		return false
	}

	b.tokens--
	return true
}

// ErrRateLimited is returned by Check when a tool's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Spec is the rate (tokens per second) and burst of one tool's bucket.
type Spec struct {
	Rate  float64
	Burst int
}

// DefaultToolSpecs returns the limits of the poseidon MCP tools.
func DefaultToolSpecs() map[string]Spec {
	return map[string]Spec{
		"poseidon_simulate": {Rate: 10.0 / 60.0, Burst: 2}, // 10/minute, burst 2
		"poseidon_runs":     {Rate: 1.0, Burst: 10},        // 60/minute, burst 10
		"poseidon_series":   {Rate: 1.0, Burst: 10},        // 60/minute, burst 10
		"poseidon_export":   {Rate: 1.0 / 60.0, Burst: 3},  // 1/minute, burst 3
	}
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates one limiter per tool in specs, or the defaults
// when specs is nil.
func NewToolLimiters(specs map[string]Spec) ToolLimiters {
	if specs == nil {
		specs = DefaultToolSpecs()
	}
	limiters := make(ToolLimiters, len(specs))
	for tool, spec := range specs {
		limiters[tool] = NewLimiter(spec.Rate, spec.Burst)
	}
	return limiters
}

// Check returns nil if toolName may run now, or an error wrapping
// ErrRateLimited. Tools without a configured limiter are always allowed.
func (tl ToolLimiters) Check(toolName string) error {
	limiter, ok := tl[toolName]
	if !ok {
		return nil // No limiter configured = no limit
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, toolName)
	}
	return nil
}
