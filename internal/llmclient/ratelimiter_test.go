package llmclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(3, 60)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "fourth request within the window must be refused")
}

func TestRateLimiter_TokenAgesOut(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(1, 60)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow(), "a token older than the window must be pruned before the check")
}
