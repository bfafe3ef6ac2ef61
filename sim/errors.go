package sim

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned by Scheduler.Run when the run was stopped before
// the contest window elapsed. Remaining events have been marked skipped.
var ErrCancelled = errors.New("simulation cancelled")

// ConfigError reports an invalid run configuration. Always fatal, raised
// before planning starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// PlanningError reports that no valid plan can be built from the inputs.
// Seed is included so the failure can be reproduced.
type PlanningError struct {
	ProblemID string
	Seed      int64
	Reason    string
}

func (e *PlanningError) Error() string {
	if e.ProblemID == "" {
		return fmt.Sprintf("planning (seed=%d): %s", e.Seed, e.Reason)
	}
	return fmt.Sprintf("planning (seed=%d): problem %q: %s", e.Seed, e.ProblemID, e.Reason)
}

// LivenessTimeoutError reports that the contest was never observed live.
type LivenessTimeoutError struct {
	ContestID string
	Waited    time.Duration
	LastErr   error
}

func (e *LivenessTimeoutError) Error() string {
	msg := fmt.Sprintf("contest %q not live after %v", e.ContestID, e.Waited)
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last poll error: %v)", e.LastErr)
	}
	return msg
}

func (e *LivenessTimeoutError) Unwrap() error {
	return e.LastErr
}

// DispatchError reports a failed submit for one event after all attempts.
type DispatchError struct {
	EventID   string
	TeamID    string
	ProblemID string
	Attempts  int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s (team=%s problem=%s) failed after %d attempt(s): %v",
		e.EventID, e.TeamID, e.ProblemID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Retryable is implemented by transport errors that know whether a retry can
// succeed. Errors that do not implement it are treated as retryable.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err should be retried by the dispatcher.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
