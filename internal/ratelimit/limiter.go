// Package ratelimit implements an in-memory sliding-window request limiter.
// It performs no I/O: each decision is a few slice operations under a
// mutex.  Counts are per process and reset on restart.
package ratelimit

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultGCProbability is the chance that a call to Allow also sweeps
// every key.
const DefaultGCProbability = 0.01

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1 when
// the request was rejected.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts requests per key over a trailing window.
type Limiter struct {
	window time.Duration
	max    int

	mu     sync.Mutex
	store  Store
	now    func() time.Time
	random func() float64
	gcProb float64
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithStore replaces the default MemoryStore.
func WithStore(s Store) Option { return func(l *Limiter) { l.store = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithGC sets the sweep probability and the random source deciding it.
// A nil source keeps math/rand.
func WithGC(probability float64, random func() float64) Option {
	return func(l *Limiter) {
		l.gcProb = probability
		if random != nil {
			l.random = random
		}
	}
}

// New returns a limiter admitting at most max requests per key in any
// window-long interval.
func New(window time.Duration, max int, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if max < 1 {
		max = 1
	}
	l := &Limiter{
		window: window,
		max:    max,
		store:  NewMemoryStore(),
		now:    time.Now,
		random: rand.Float64,
		gcProb: DefaultGCProbability,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration { return l.window }

// Max returns the configured request budget.
func (l *Limiter) Max() int { return l.max }

// Allow records a request for key unless the key has used its budget.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	hits, _ := l.store.Get(key)
	hits = prune(hits, cutoff)

	if len(hits) >= l.max {
		l.store.Set(key, hits)
		l.maybeSweep(cutoff)
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			RetryAfter: hits[0].Add(l.window).Sub(now),
		}
	}

	hits = append(hits, now)
	l.store.Set(key, hits)
	l.maybeSweep(cutoff)
	return Decision{Allowed: true, Limit: l.max, Remaining: l.max - len(hits)}
}

// Sweep prunes every key and evicts the ones left empty.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.now().Add(-l.window))
}

// Keys reports how many keys are currently tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Len()
}

func (l *Limiter) maybeSweep(cutoff time.Time) {
	if l.gcProb > 0 && l.random() < l.gcProb {
		l.sweep(cutoff)
	}
}

func (l *Limiter) sweep(cutoff time.Time) {
	for _, k := range l.store.Keys() {
		hits, ok := l.store.Get(k)
		if !ok {
			continue
		}
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			l.store.Delete(k)
			continue
		}
		l.store.Set(k, hits)
	}
}

// prune drops timestamps at or before cutoff.  hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	out := make([]time.Time, len(hits)-i)
	copy(out, hits[i:])
	return out
}
