// Package ratelimit provides the injected rate-limiter abstraction used
// at the HTTP boundary. The limiter is deliberately an interface so the
// core stays free of process-global mutable state; the in-memory
// implementation is per-instance and does not coordinate across
// horizontally scaled replicas.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter decides whether a keyed caller may proceed.
type Limiter interface {
	Allow(key string) bool
}

// PerKey is a token-bucket limiter keyed by caller identity.
type PerKey struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPerKey creates a per-key token bucket limiter allowing rps requests
// per second with the given burst.
func NewPerKey(rps float64, burst int) *PerKey {
	return &PerKey{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the caller identified by key may proceed now.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

// Unlimited allows everything. Used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(string) bool { return true }
