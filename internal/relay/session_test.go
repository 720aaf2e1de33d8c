package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewLimiter(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		interval time.Duration
		want     rate.Limit
	}{
		{name: "per second", burst: 20, interval: time.Second, want: 20},
		{name: "slow refill", burst: 2, interval: time.Hour, want: rate.Limit(2.0 / 3600)},
		{name: "burst above interval nanoseconds", burst: 1000, interval: 100 * time.Nanosecond, want: 1e10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLimiter(tt.burst, tt.interval)
			require.NotNil(t, l)
			assert.NotEqual(t, rate.Inf, l.Limit())
			assert.InEpsilon(t, float64(tt.want), float64(l.Limit()), 1e-9)
			assert.Equal(t, tt.burst, l.Burst())
		})
	}
}

func TestNewLimiter_DisabledWithoutBurst(t *testing.T) {
	assert.Nil(t, newLimiter(0, time.Second))
	assert.Nil(t, newLimiter(-1, time.Second))
}

func TestNewLimiter_TinyIntervalStillLimits(t *testing.T) {
	l := newLimiter(3, time.Nanosecond)
	require.NotNil(t, l)

	now := time.Now()
	for range 3 {
		assert.True(t, l.AllowN(now, 1))
	}
	assert.False(t, l.AllowN(now, 1))
}
