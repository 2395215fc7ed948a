// Package throttle rate-limits manual feature-flag reload requests so a
// host that calls ReloadFeatureFlags in a tight loop cannot hammer the
// local-evaluation endpoint.
package throttle

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultMaxPerMinute bounds manual reloads to a modest cadence; the
// background Poller's own interval is unaffected by this throttle.
const DefaultMaxPerMinute = 10

// Throttle wraps a token-bucket limiter sized for a single caller (the
// Client's manual reload path), not per-remote-IP tracking.
type Throttle struct {
	limiter *rate.Limiter
}

// New returns a Throttle allowing maxPerMinute calls per minute, bursting up
// to that same count. maxPerMinute <= 0 uses DefaultMaxPerMinute.
func New(maxPerMinute int) *Throttle {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxPerMinute
	}
	r := rate.Limit(float64(maxPerMinute) / 60.0)
	return &Throttle{limiter: rate.NewLimiter(r, maxPerMinute)}
}

// Allow reports whether a manual reload may proceed now, consuming a token
// if so.
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
