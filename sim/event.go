// Defines SubmissionEvent, the unit of work of the simulation: one team
// submitting one artifact at one simulated contest offset.

package sim

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a SubmissionEvent.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"    // planned, not yet due
	StatusDispatched EventStatus = "dispatched" // handed to the submission API
	StatusConfirmed  EventStatus = "confirmed"  // backend accepted the submission
	StatusFailed     EventStatus = "failed"     // every dispatch attempt failed
	StatusSkipped    EventStatus = "skipped"    // never dispatched (cancelled or past the window)
)

// IsTerminal reports whether no further transition is possible.
func (s EventStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusSkipped
}

// SubmissionEvent is a planned submission. All fields are fixed at planning
// time; only the status changes, and only through the Scheduler.
type SubmissionEvent struct {
	ID        string        // Stable identifier, derived from seed and Seq
	Seq       uint64        // Draw order, tie-breaker for equal offsets
	TeamID    string        // Submitting team
	ProblemID string        // Target problem
	Offset    time.Duration // Simulated time since contest start, in [0, duration)
	Kind      OutcomeKind   // Expected verdict
	Artifact  *SolutionArtifact

	status EventStatus
}

// NewSubmissionEvent creates a pending event.
func NewSubmissionEvent(id string, seq uint64, teamID string, offset time.Duration, artifact *SolutionArtifact) *SubmissionEvent {
	return &SubmissionEvent{
		ID:        id,
		Seq:       seq,
		TeamID:    teamID,
		ProblemID: artifact.ProblemID,
		Offset:    offset,
		Kind:      artifact.Kind,
		Artifact:  artifact,
		status:    StatusPending,
	}
}

// Status returns the event's current status. Callers outside the scheduler
// should use Scheduler.StatusOf while a run is active.
func (e *SubmissionEvent) Status() EventStatus {
	return e.status
}

// LanguageID returns the backend language of the bound artifact.
func (e *SubmissionEvent) LanguageID() string {
	if e.Artifact == nil {
		return ""
	}
	return e.Artifact.LanguageID
}

// Before reports whether e is ordered before o: earlier offset first, then
// lower sequence number.
func (e *SubmissionEvent) Before(o *SubmissionEvent) bool {
	if e.Offset != o.Offset {
		return e.Offset < o.Offset
	}
	return e.Seq < o.Seq
}

func (e *SubmissionEvent) String() string {
	return fmt.Sprintf("SubmissionEvent{#%d %s team=%s problem=%s offset=%v kind=%s status=%s}",
		e.Seq, e.ID, e.TeamID, e.ProblemID, e.Offset, e.Kind, e.status)
}
