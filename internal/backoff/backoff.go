// Package backoff implements the decorrelated-jitter retry policy used by
// the Transport when a batch post fails (spec §4.4).
package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultMinInterval = 100 * time.Millisecond
	DefaultMaxInterval = 10 * time.Second
	DefaultMultiplier  = 1.5
	DefaultMaxRetries  = 10
)

// Policy tracks decorrelated-jitter backoff state across retry attempts of a
// single logical send. It is not safe for concurrent use; callers own one
// Policy per in-flight retry loop.
type Policy struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int

	prev    time.Duration
	retries int
	rand    func() float64
}

// New returns a Policy with spec-default parameters.
func New() *Policy {
	return &Policy{
		Min:        DefaultMinInterval,
		Max:        DefaultMaxInterval,
		Multiplier: DefaultMultiplier,
		MaxRetries: DefaultMaxRetries,
		rand:       rand.Float64,
	}
}

// NextInterval computes the next decorrelated-jitter interval:
// random(min, prev*multiplier), clamped to [min, max]. The first call uses
// min as prev's seed.
func (p *Policy) NextInterval() time.Duration {
	if p.rand == nil {
		p.rand = rand.Float64
	}

	prev := p.prev
	if prev == 0 {
		prev = p.Min
	}

	upper := time.Duration(float64(prev) * p.Multiplier)
	if upper < p.Min {
		upper = p.Min
	}
	if upper > p.Max {
		upper = p.Max
	}

	span := upper - p.Min
	var interval time.Duration
	if span <= 0 {
		interval = p.Min
	} else {
		interval = p.Min + time.Duration(p.rand()*float64(span))
	}

	p.prev = interval
	p.retries++
	return interval
}

// ShouldRetry reports whether another attempt is permitted under MaxRetries.
func (p *Policy) ShouldRetry() bool {
	return p.retries < p.MaxRetries
}

// Retries returns the number of intervals handed out so far.
func (p *Policy) Retries() int {
	return p.retries
}

// Reset clears retry state so the Policy can be reused for a new send.
func (p *Policy) Reset() {
	p.prev = 0
	p.retries = 0
}
