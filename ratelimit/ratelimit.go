// Package ratelimit provides an adaptive, optionally cluster-coordinated
// rate limiter keyed by a job's rateKey, shared across jobs that declare the
// same key. It starts from a tokens-per-minute budget and backs off on
// provider rate-limit signals, probing back up on sustained success.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"forge.design/mediaforge/engineerr"
)

// Limiter is an AIMD token bucket: it halves its budget on a provider
// rate-limit signal and grows it by a fixed step on every other outcome
// (success or a non-transient error), bounded by [minRate, maxRate].
type Limiter struct {
	mu sync.Mutex

	bucket *rate.Limiter

	currentRate float64
	minRate     float64
	maxRate     float64
	step        float64

	onBackoff func(newRate float64)
	onProbe   func(newRate float64)
}

// clusterMap is the subset of rmap.Map a cluster-coordinated Limiter needs.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct{ m *rmap.Map }

func (c *rmapClusterMap) Get(key string) (string, bool) { return c.m.Get(key) }
func (c *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return c.m.SetIfNotExists(ctx, key, value)
}
func (c *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return c.m.TestAndSet(ctx, key, test, value)
}
func (c *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return c.m.Subscribe() }

// New returns a process-local adaptive limiter with the given
// requests-per-minute budget and ceiling.
func New(initialPerMinute, maxPerMinute float64) *Limiter {
	return newClusterLimiter(context.Background(), nil, "", initialPerMinute, maxPerMinute)
}

// NewClustered returns a Limiter whose budget is coordinated across
// processes through a Pulse replicated map entry named key. When m is nil
// it behaves exactly like New.
func NewClustered(ctx context.Context, m *rmap.Map, key string, initialPerMinute, maxPerMinute float64) *Limiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterLimiter(ctx, cm, key, initialPerMinute, maxPerMinute)
}

func newClusterLimiter(ctx context.Context, m clusterMap, key string, initialPerMinute, maxPerMinute float64) *Limiter {
	if initialPerMinute <= 0 {
		initialPerMinute = 240 // 4/s, a conservative default matching the runner's prior static rate.
	}
	if maxPerMinute <= 0 || maxPerMinute < initialPerMinute {
		maxPerMinute = initialPerMinute
	}
	minRate := initialPerMinute * 0.1
	if minRate < 1 {
		minRate = 1
	}
	step := initialPerMinute * 0.05
	if step < 1 {
		step = 1
	}

	effective := initialPerMinute
	if m != nil && key != "" {
		if cur, ok := m.Get(key); ok {
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				effective = v
			}
		} else if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialPerMinute))); err != nil {
			m = nil // seeding failed; fall back to a process-local limiter.
		}
	}

	l := &Limiter{
		bucket:      rate.NewLimiter(rate.Limit(effective/60.0), int(effective)),
		currentRate: effective,
		minRate:     minRate,
		maxRate:     maxPerMinute,
		step:        step,
	}

	if m == nil || key == "" {
		return l
	}

	l.onBackoff = func(newRate float64) {
		go propagate(context.Background(), m, key, func(cur float64) float64 { return maxFloat(newRate, minRate) })
	}
	l.onProbe = func(newRate float64) {
		go propagate(context.Background(), m, key, func(cur float64) float64 { return minFloat(cur+step, maxPerMinute) })
	}

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.replace(v)
			}
		}
	}()

	return l
}

// Wait blocks until the bucket has capacity for one request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Observe adjusts the budget based on the outcome of the request the
// preceding Wait admitted: a ProviderTransient error (the engine's proxy for
// "provider asked us to slow down") halves the budget; any other outcome,
// including success, nudges it back up by one recovery step.
func (l *Limiter) Observe(err error) {
	if engineerr.Is(err, engineerr.ProviderTransient) {
		l.backoff()
		return
	}
	l.probe()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	next := l.currentRate * 0.5
	if next < l.minRate {
		next = l.minRate
	}
	changed := next != l.currentRate
	if changed {
		l.apply(next)
	}
	cb := l.onBackoff
	l.mu.Unlock()
	if changed && cb != nil {
		cb(next)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	next := l.currentRate + l.step
	if next > l.maxRate {
		next = l.maxRate
	}
	changed := next != l.currentRate
	if changed {
		l.apply(next)
	}
	cb := l.onProbe
	l.mu.Unlock()
	if changed && cb != nil {
		cb(next)
	}
}

func (l *Limiter) replace(newRate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newRate < l.minRate {
		newRate = l.minRate
	}
	if newRate > l.maxRate {
		newRate = l.maxRate
	}
	if newRate == l.currentRate {
		return
	}
	l.apply(newRate)
}

// apply must be called with l.mu held.
func (l *Limiter) apply(newRate float64) {
	l.currentRate = newRate
	l.bucket.SetLimit(rate.Limit(newRate / 60.0))
	l.bucket.SetBurst(int(newRate))
}

func propagate(ctx context.Context, m clusterMap, key string, next func(current float64) float64) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := strconv.Itoa(int(next(cur)))
		prev, err := m.TestAndSet(ctx, key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Set lazily creates and caches one Limiter per rateKey.
type Set struct {
	mu       sync.Mutex
	limiters map[string]*Limiter

	cluster          *rmap.Map
	initial, ceiling float64
}

// NewSet returns a Set whose limiters start at initialPerMinute requests per
// minute and grow no higher than maxPerMinute. When cluster is non-nil, each
// rateKey gets its own coordinated entry in the map.
func NewSet(cluster *rmap.Map, initialPerMinute, maxPerMinute float64) *Set {
	return &Set{limiters: make(map[string]*Limiter), cluster: cluster, initial: initialPerMinute, ceiling: maxPerMinute}
}

// For returns the Limiter for rateKey, creating it on first use. An empty
// rateKey returns nil: callers should treat that as "no limiting".
func (s *Set) For(rateKey string) *Limiter {
	if rateKey == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[rateKey]; ok {
		return l
	}
	l := NewClustered(context.Background(), s.cluster, "ratelimit:"+rateKey, s.initial, s.ceiling)
	s.limiters[rateKey] = l
	return l
}
