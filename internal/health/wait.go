package health

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultInterval is the polling interval used when a health check does
// not declare one.
const DefaultInterval = 1 * time.Second

// TimeoutError reports that a probe never succeeded within the allotted
// window. LastErr carries the most recent probe failure so callers can
// show why the resource stayed unready.
type TimeoutError struct {
	Probe   string
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return "health: " + e.Probe + " not healthy after " + e.Timeout.String() + ": " + e.LastErr.Error()
	}
	return "health: " + e.Probe + " not healthy after " + e.Timeout.String()
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// WaitHealthy polls probe at a constant interval until it succeeds, the
// timeout elapses, or ctx is cancelled. Intermediate failures are
// swallowed and retried; only expiry is surfaced, as a TimeoutError. The
// first attempt runs immediately, so a probe that is already healthy
// returns without sleeping.
func WaitHealthy(ctx context.Context, probe Probe, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	op := func() error {
		attempt, attemptCancel := context.WithTimeout(deadline, attemptTimeout)
		defer attemptCancel()
		if err := probe.Check(attempt); err != nil {
			lastErr = err
			return err
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), deadline))
	if err == nil {
		return nil
	}
	// Cancellation by the caller is not a health verdict.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TimeoutError{Probe: probe.Name(), Timeout: timeout, LastErr: lastErr}
}

// WaitAllHealthy runs WaitHealthy for each probe in turn. The timeout
// applies to the whole set, matching how readiness is declared: a
// resource is healthy only when every one of its checks passes.
func WaitAllHealthy(ctx context.Context, probes []Probe, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for _, p := range probes {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Probe: p.Name(), Timeout: timeout}
		}
		if err := WaitHealthy(ctx, p, interval, remaining); err != nil {
			if te, ok := err.(*TimeoutError); ok {
				// Report the whole window, not the leftover slice.
				te.Timeout = timeout
			}
			return err
		}
	}
	return nil
}
