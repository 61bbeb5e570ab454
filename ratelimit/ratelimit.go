// Package ratelimit provides a per-key token bucket limiter for the HTTP
// gateway, keyed by organization or client address. Buckets are created on
// first use and dropped after a period of inactivity.
//
// State is in-process: each instance enforces its own quota.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options configures the limiter.
type Options struct {
	// Rate is the sustained allowance in events per second. Default: 10.
	Rate float64
	// Burst is the bucket capacity. Default: 20.
	Burst int
	// IdleTTL is how long an unused bucket survives before garbage
	// collection. Default: 10m.
	IdleTTL time.Duration
}

func (o *Options) defaults() {
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 10 * time.Minute
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per key.
type Limiter struct {
	opts    Options
	mu      sync.Mutex
	buckets map[string]*bucket
	lastGC  time.Time
}

// New creates a Limiter.
func New(opts Options) *Limiter {
	opts.defaults()
	return &Limiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		lastGC:  time.Now(),
	}
}

// Allow reports whether the key may proceed now, consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.opts.Rate), l.opts.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.gcLocked(now)
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// gcLocked drops buckets idle longer than IdleTTL. Runs at most once per
// TTL window so hot paths don't scan the map constantly.
func (l *Limiter) gcLocked(now time.Time) {
	if now.Sub(l.lastGC) < l.opts.IdleTTL {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.opts.IdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastGC = now
}
