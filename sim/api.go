package sim

import (
	"context"
	"time"
)

// SubmitRequest is one submission as sent to the backend.
type SubmitRequest struct {
	TeamID     string
	ProblemID  string
	LanguageID string
	FileName   string
	Content    []byte
}

// SubmitResult is the backend's acknowledgement of a submission.
type SubmitResult struct {
	SubmissionID string
	ServerTime   time.Time
}

// SubmissionAPI submits solutions on behalf of teams. Implementations must
// honour ctx cancellation; the scheduler bounds every call with a timeout.
// Submissions are not idempotent: a retried call may create a duplicate.
type SubmissionAPI interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

// ContestStatus is the backend's view of the contest window.
type ContestStatus struct {
	StartTime      *time.Time // nil until the contest has been started
	Duration       time.Duration
	FreezeDuration time.Duration
}

// ContestStatusAPI reports the contest's current status.
type ContestStatusAPI interface {
	GetContest(ctx context.Context) (ContestStatus, error)
}
