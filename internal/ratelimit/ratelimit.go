// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Pool hands out a limiter per key (user id or connection id).
type Pool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// New returns a pool; non-positive settings fall back to 5 rps / burst 10.
func New(rps float64, burst int) *Pool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Pool{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *Pool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow reports whether key may proceed now.
func (p *Pool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Forget drops the limiter for key, e.g. when a connection closes.
func (p *Pool) Forget(key string) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}
