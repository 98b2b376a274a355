// Package pace spaces browser interactions within one scenario run.
package pace

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config defines interaction pacing.
//
// Interval is measured between the starts of interactions, so time spent
// inside an interaction counts toward the next gap. Delay is a fixed pause
// taken before every interaction regardless of how long the previous one ran.
type Config struct {
	Interval time.Duration // Minimum gap between element interactions; zero disables it
	Burst    int           // Interactions allowed back to back before Interval applies
	Delay    time.Duration // Fixed pause before each interaction; zero disables it
}

// DefaultConfig disables pacing.
var DefaultConfig = Config{
	Interval: 0,
	Burst:    1,
}

// Pacer gates interactions of a single run. It is not shared between runs.
type Pacer struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// New creates a pacer for one run.
func New(cfg Config) *Pacer {
	delay := max(cfg.Delay, 0)
	if cfg.Interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 0), delay: delay}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(cfg.Interval), burst), delay: delay}
}

// Wait blocks until the next interaction may proceed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Enabled reports whether the pacer ever delays.
func (p *Pacer) Enabled() bool {
	return p.limiter.Limit() != rate.Inf || p.delay > 0
}
