package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffStartsAtMin(t *testing.T) {
	now := time.Now()
	rp := ExponentialBackoff{Min: 100 * time.Millisecond, Max: time.Hour}
	assert.Equal(t, 100*time.Millisecond, rp.NextRetry(now, 0, nil).Sub(now))
}

func TestBackoffIncreases(t *testing.T) {
	now := time.Now()
	rp := ExponentialBackoff{Min: 100 * time.Millisecond, Max: time.Hour}
	var last time.Time
	for retries := 0; retries <= 5; retries++ {
		n := rp.NextRetry(now, retries, nil)
		assert.True(t, n.After(last))
		last = n
	}
}

func TestBackoffIsCapped(t *testing.T) {
	now := time.Now()
	rp := ExponentialBackoff{Min: 100 * time.Millisecond, Max: time.Hour}
	assert.Equal(t, time.Hour, rp.NextRetry(now, math.MaxUint32, nil).Sub(now))
}

func TestBackoffJitter(t *testing.T) {
	now := time.Now()
	rp := ExponentialBackoff{Min: 100 * time.Millisecond, Max: time.Hour, Jitter: 0.1}
	first := rp.NextRetry(now, 0, nil)
	assert.WithinDuration(t, now.Add(105*time.Millisecond), first, 6*time.Millisecond)
	for i := 0; i < 100; i++ {
		if !rp.NextRetry(now, 0, nil).Equal(first) {
			return
		}
	}
	t.Fatal("100 iterations returned results with no jitter")
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, ExponentialBackoff{Min: time.Hour, Max: time.Hour}, 0, errors.New("boom"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepImmediately(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), Immediately, 3))
}
