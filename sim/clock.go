package sim

import (
	"fmt"
	"math"
	"time"
)

// Clock maps simulated contest offsets to wall-clock deadlines under a
// compression factor. Immutable after construction.
type Clock struct {
	t0     time.Time
	factor float64
}

// NewClock creates a Clock anchored at t0. factor is the number of simulated
// seconds per wall second and must be a finite positive number.
func NewClock(t0 time.Time, factor float64) (*Clock, error) {
	if err := ValidateCompression(factor); err != nil {
		return nil, err
	}
	return &Clock{t0: t0, factor: factor}, nil
}

// ValidateCompression checks a time compression factor.
func ValidateCompression(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return &ConfigError{
			Field:  "time_compression_factor",
			Reason: fmt.Sprintf("must be a finite number > 0, got %v", factor),
		}
	}
	return nil
}

// T0 returns the wall instant that corresponds to contest offset zero.
func (c *Clock) T0() time.Time {
	return c.t0
}

// Deadline returns t0 + offset/factor.
func (c *Clock) Deadline(offset time.Duration) time.Time {
	return c.t0.Add(time.Duration(float64(offset) / c.factor))
}

// Simulated converts a wall-clock delta into simulated contest time.
func (c *Clock) Simulated(delta time.Duration) time.Duration {
	return time.Duration(float64(delta) * c.factor)
}

// OffsetAt returns the simulated contest offset reached at wall instant t.
func (c *Clock) OffsetAt(t time.Time) time.Duration {
	return c.Simulated(t.Sub(c.t0))
}
