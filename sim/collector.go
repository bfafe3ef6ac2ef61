package sim

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Outcome is the record surfaced when an event reaches a terminal status.
type Outcome struct {
	EventID          string
	Seq              uint64
	TeamID           string
	ProblemID        string
	LanguageID       string
	ScheduledOffset  time.Duration // simulated offset the event was planned for
	Deadline         time.Time     // wall instant the offset maps to (zero if never reached)
	DispatchWallTime time.Time     // wall instant of the first dispatch attempt (zero if skipped)
	Lag              time.Duration // DispatchWallTime - Deadline
	OutcomeKind      OutcomeKind
	Verdict          string // backend judgement, attached after the run by the report package
	Status           EventStatus
	SubmissionID     string // backend-assigned id for confirmed events
	ServerTime       time.Time
	Attempts         int
	Error            string
}

// ResultCollector receives per-event outcomes. Record is called exactly once
// per event, when it becomes confirmed, failed or skipped; the pending to
// dispatched step is only visible through Scheduler.StatusOf and the
// in-flight gauge. Record is called from the scheduler loop and from
// concurrently completing dispatches, so implementations must be
// goroutine-safe.
type ResultCollector interface {
	Record(o Outcome)
}

// Recorder is a goroutine-safe ResultCollector that keeps outcomes in
// arrival order.
type Recorder struct {
	mu      sync.Mutex
	records deque.Deque[Outcome]
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one outcome.
func (r *Recorder) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records.PushBack(o)
}

// Len returns the number of recorded outcomes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Len()
}

// Outcomes returns a copy of all recorded outcomes.
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, r.records.Len())
	for i := range out {
		out[i] = r.records.At(i)
	}
	return out
}

// MultiCollector fans one outcome out to several collectors.
type MultiCollector []ResultCollector

// Record forwards o to every collector in order.
func (m MultiCollector) Record(o Outcome) {
	for _, c := range m {
		c.Record(o)
	}
}
