package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-client request shedding using token buckets.
// It protects the store from request floods; the purchase policy
// itself lives in the admission decider, not here.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64 // Requests per second
	burst    int     // Burst capacity
}

// NewLimiter creates a new rate limiter with the specified RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// getLimiter returns or creates a rate limiter for the specified client
func (l *Limiter) getLimiter(clientID string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[clientID]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	// Create new limiter with write lock
	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[clientID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[clientID] = limiter
	return limiter
}

// Allow returns true if a request for the specified client is allowed
func (l *Limiter) Allow(clientID string) bool {
	limiter := l.getLimiter(clientID)
	return limiter.Allow()
}

// RetryIn returns how long the specified client would have to wait for
// the next token, without consuming one.
func (l *Limiter) RetryIn(clientID string) time.Duration {
	limiter := l.getLimiter(clientID)
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// SetRPS updates the requests per second for all limiters
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(rate.Limit(rps))
	}
}

// Reset clears all client limiters
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

// Size returns the number of tracked clients
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}
