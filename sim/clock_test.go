package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Deadline_ScalesByFactor(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		factor float64
		offset time.Duration
		want   time.Duration
	}{
		{"real time", 1, 90 * time.Second, 90 * time.Second},
		{"one hour in a minute", 60, time.Hour, time.Minute},
		{"fractional factor", 0.5, 10 * time.Second, 20 * time.Second},
		{"zero offset", 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClock(t0, tt.factor)
			require.NoError(t, err)
			assert.Equal(t, t0.Add(tt.want), c.Deadline(tt.offset))
		})
	}
}

func TestClock_OffsetAt_InvertsDeadline(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	c, err := NewClock(t0, 60)
	require.NoError(t, err)
	off := 37 * time.Minute
	assert.Equal(t, off, c.OffsetAt(c.Deadline(off)))
	assert.Equal(t, 2*time.Hour, c.Simulated(2*time.Minute))
}

func TestClock_RejectsInvalidFactor(t *testing.T) {
	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := NewClock(time.Now(), f)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "factor %v", f)
		assert.Equal(t, "time_compression_factor", cfgErr.Field)
	}
}
