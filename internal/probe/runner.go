package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 20 * time.Second
)

var (
	// ErrTimeout is returned by Poll once the readiness budget is spent.
	ErrTimeout = errors.New("readiness timeout")
	// ErrAborted is returned by Poll when the abort channel fires first.
	ErrAborted = errors.New("readiness aborted")
)

// Attempt describes a single probe execution observed by Poll.
type Attempt struct {
	N       int
	Latency time.Duration
	Err     error
}

// Options configures Poll.
type Options struct {
	// Interval between attempt starts. Defaults to DefaultInterval.
	Interval time.Duration
	// Timeout is the overall readiness budget. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Abort short-circuits polling, e.g. when the probed process exits.
	Abort <-chan struct{}
	// Observe is invoked after every attempt.
	Observe func(Attempt)
}

// Poll runs prober at a fixed interval until it succeeds, the timeout elapses,
// Abort fires or ctx is cancelled. It returns nil on success, ErrTimeout,
// ErrAborted or the context error. No attempt starts after a success, and the
// call returns within Timeout plus one Interval.
func Poll(ctx context.Context, prober Prober, opts Options) error {
	if prober == nil {
		return errors.New("probe: nil prober")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.Now().Add(timeout)
	var lastErr error

	for n := 1; ; n++ {
		if aborted(opts.Abort) {
			return ErrAborted
		}

		attemptTimeout := interval
		if remaining := time.Until(deadline); remaining > 0 && remaining < attemptTimeout {
			attemptTimeout = remaining
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		began := time.Now()
		err := prober.Probe(attemptCtx)
		cancel()

		if opts.Observe != nil {
			opts.Observe(Attempt{N: n, Latency: time.Since(began), Err: err})
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		left := time.Until(deadline)
		if left <= 0 {
			return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, lastErr)
		}
		wait := interval - time.Since(began)
		if wait > left {
			wait = left
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-opts.Abort:
			timer.Stop()
			return ErrAborted
		case <-timer.C:
		}
	}
}

func aborted(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
