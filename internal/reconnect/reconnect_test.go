package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtspsource/internal/config"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		name         string
		initialDelay time.Duration
		maxDelay     time.Duration
		multiplier   float64
		maxRetries   int
		wantDelays   []time.Duration // approximate expected delays
	}{
		{
			name:         "basic exponential backoff",
			initialDelay: 100 * time.Millisecond,
			maxDelay:     2 * time.Second,
			multiplier:   2.0,
			maxRetries:   5,
			wantDelays: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				400 * time.Millisecond,
				800 * time.Millisecond,
				1600 * time.Millisecond,
			},
		},
		{
			name:         "backoff with max delay cap",
			initialDelay: 500 * time.Millisecond,
			maxDelay:     1 * time.Second,
			multiplier:   3.0,
			maxRetries:   4,
			wantDelays: []time.Duration{
				500 * time.Millisecond,
				1 * time.Second, // capped
				1 * time.Second, // capped
				1 * time.Second, // capped
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backoff := NewExponentialBackoff(tt.initialDelay, tt.maxDelay, tt.multiplier, tt.maxRetries)

			for i, expectedDelay := range tt.wantDelays {
				delay, shouldRetry := backoff.NextDelay()
				assert.True(t, shouldRetry, "Retry %d should continue", i+1)

				// jitter is ±20%
				minDelay := time.Duration(float64(expectedDelay) * 0.79)
				maxDelay := time.Duration(float64(expectedDelay) * 1.21)
				assert.True(t, delay >= minDelay && delay <= maxDelay,
					"Delay %v should be between %v and %v", delay, minDelay, maxDelay)
			}

			_, shouldRetry := backoff.NextDelay()
			assert.False(t, shouldRetry, "Should stop after max retries")

			backoff.Reset()
			_, shouldRetry = backoff.NextDelay()
			assert.True(t, shouldRetry, "Should retry after reset")
		})
	}
}

func TestFixedIntervalUnlimited(t *testing.T) {
	f := NewFixedInterval(3*time.Second, 0)
	for i := 0; i < 1000; i++ {
		d, ok := f.NextDelay()
		require.True(t, ok)
		require.Equal(t, 3*time.Second, d)
	}
}

func TestFixedIntervalCeiling(t *testing.T) {
	f := NewFixedInterval(time.Second, 2)

	_, ok := f.NextDelay()
	assert.True(t, ok)
	_, ok = f.NextDelay()
	assert.True(t, ok)
	_, ok = f.NextDelay()
	assert.False(t, ok)

	f.Reset()
	_, ok = f.NextDelay()
	assert.True(t, ok)
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(0, config.ReconnectConfig{Strategy: "exponential"})
	require.NoError(t, err)
	_, ok := s.NextDelay()
	assert.False(t, ok, "zero interval disables reconnection")

	s, err = FromConfig(time.Second, config.ReconnectConfig{Strategy: "fixed"})
	require.NoError(t, err)
	assert.IsType(t, &FixedInterval{}, s)

	s, err = FromConfig(time.Second, config.ReconnectConfig{Strategy: "exponential", MaxDelay: time.Minute, Multiplier: 2})
	require.NoError(t, err)
	assert.IsType(t, &ExponentialBackoff{}, s)

	_, err = FromConfig(time.Second, config.ReconnectConfig{Strategy: "linear"})
	assert.Error(t, err)
}
