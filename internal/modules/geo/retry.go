// README: Bounded retry with exponential backoff around an Estimator.
package geo

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/types"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Backoff returns the wait before attempt+1: BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retrying retries transient failures of the wrapped estimator. Permanent
// failures and context cancellation return immediately.
type Retrying struct {
	next   Estimator
	policy RetryPolicy
	// OnRetry, when set, observes each retried failure (metrics).
	OnRetry func(attempt int, err error)
}

func NewRetrying(next Estimator, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) EstimateTravel(ctx context.Context, origin, destination types.Point) (Travel, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		t, err := r.next.EstimateTravel(ctx, origin, destination)
		if err == nil {
			return t, nil
		}
		if IsPermanent(err) {
			return Travel{}, err
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		if err := sleep(ctx, r.policy.Backoff(attempt)); err != nil {
			return Travel{}, &TransientError{Reason: "cancelled during backoff", Err: err}
		}
	}
	if !errors.Is(lastErr, ErrTransient) {
		lastErr = &TransientError{Reason: "unclassified", Err: lastErr}
	}
	return Travel{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
