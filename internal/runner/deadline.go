package runner

import (
	"context"
	"time"

	"github.com/kuitang/crmscenarios/internal/obs"
)

// withDeadline runs fn with a context that expires after timeout. A driver
// that ignores its context cannot hold the caller past timeout+grace; the
// grace period lets a driver that does honor the deadline report its own
// error (a missing element, say) instead of a bare timeout.
func withDeadline(ctx context.Context, timeout, grace time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}
}

// BestEffort runs fn bounded by timeout and logs instead of failing when fn
// errors or overruns. It reports whether fn succeeded. Overruns get
// DefaultConfig.Grace; runners use their configured grace.
func BestEffort(ctx context.Context, timeout time.Duration, what string, fn func(context.Context) error) bool {
	return bestEffort(ctx, timeout, DefaultConfig.Grace, what, fn)
}

func (r *Runner) bestEffort(ctx context.Context, timeout time.Duration, what string, fn func(context.Context) error) bool {
	return bestEffort(ctx, timeout, r.cfg.Grace, what, fn)
}

func bestEffort(ctx context.Context, timeout, grace time.Duration, what string, fn func(context.Context) error) bool {
	start := time.Now()
	err := withDeadline(ctx, timeout, grace, fn)
	if err != nil {
		obs.From(ctx).Debug("best-effort wait did not complete",
			"what", what,
			"timeout_ms", timeout.Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return false
	}
	return true
}
