package llmclient

import (
	"context"
	"errors"
	"time"
)

// retryPolicy bounds attempts with exponential backoff, retrying only
// transient failure kinds (network, timeout). Non-retryable kinds surface
// on first occurrence.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	factor      float64
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration, factor float64) *retryPolicy {
	return &retryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		factor:      factor,
		maxDelay:    10 * time.Second,
		sleep:       ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes fn up to maxAttempts times. It stops retrying as soon as fn
// succeeds or returns a non-transient *Error. The backoff between
// attempts starts at baseDelay and is multiplied by factor after each
// wait, capped at maxDelay.
func (r *retryPolicy) Do(ctx context.Context, fn func(attempt int) (Result, error)) (Result, error) {
	var lastErr error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, err := fn(attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var lcErr *Error
		if !errors.As(err, &lcErr) || !lcErr.Kind.Transient() {
			return Result{}, err
		}
		if attempt == r.maxAttempts {
			break
		}
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return Result{}, sleepErr
		}
		delay = time.Duration(float64(delay) * r.factor)
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
	return Result{}, lastErr
}
