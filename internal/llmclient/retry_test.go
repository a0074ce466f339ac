package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	rp := newRetryPolicy(3, time.Second, 2.0)
	rp.sleep = noSleep

	attempts := 0
	res, err := rp.Do(context.Background(), func(attempt int) (Result, error) {
		attempts++
		if attempt < 3 {
			return Result{}, newError(KindNetwork, errors.New("boom"))
		}
		return Result{Content: "ok"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_StopsOnNonTransientKind(t *testing.T) {
	rp := newRetryPolicy(3, time.Second, 2.0)
	rp.sleep = noSleep

	attempts := 0
	_, err := rp.Do(context.Background(), func(attempt int) (Result, error) {
		attempts++
		return Result{}, newError(KindBadRequest, errors.New("bad"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable kinds must surface on first occurrence")
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	rp := newRetryPolicy(3, time.Second, 2.0)
	rp.sleep = noSleep

	attempts := 0
	_, err := rp.Do(context.Background(), func(attempt int) (Result, error) {
		attempts++
		return Result{}, newError(KindTimeout, errors.New("still timing out"))
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}
