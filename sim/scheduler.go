// Implements the Scheduler, the discrete-event loop that replays a plan of
// SubmissionEvents against the backend under time compression.
//
// Lifecycle: WAITING_FOR_START → RUNNING → FROZEN → ENDED, with CANCELLED
// reachable from any state.

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SchedulerState is the scheduler's position in its lifecycle.
type SchedulerState string

const (
	StateWaitingForStart SchedulerState = "waiting_for_start"
	StateRunning         SchedulerState = "running"
	StateFrozen          SchedulerState = "frozen"
	StateEnded           SchedulerState = "ended"
	StateCancelled       SchedulerState = "cancelled"
)

// stateCode is the value exported through the scheduler_state gauge.
var stateCode = map[SchedulerState]float64{
	StateWaitingForStart: 0,
	StateRunning:         1,
	StateFrozen:          2,
	StateEnded:           3,
	StateCancelled:       4,
}

// StateTransition records one lifecycle change.
type StateTransition struct {
	From   SchedulerState
	To     SchedulerState
	At     time.Time     // wall instant of the transition
	Offset time.Duration // simulated contest offset at that instant (0 before RUNNING)
}

// SchedulerConfig holds the scheduler's tunables. Zero values are replaced
// by the defaults from DefaultSchedulerConfig.
type SchedulerConfig struct {
	CompressionFactor   float64       // simulated seconds per wall second
	PollInterval        time.Duration // liveness polling interval
	LivenessTimeout     time.Duration // give up if the contest is not live by then
	RunTimeout          time.Duration // overall bound once RUNNING; 0 = compressed window + RunGrace
	RunGrace            time.Duration // slack added to the derived run timeout
	MaxInFlight         int           // concurrent submit calls
	MaxRetries          int           // retries after the first attempt; negative means none
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	DispatchTimeout     time.Duration // per submit call
	Seed                int64         // carried into errors for reproducibility
}

// DefaultSchedulerConfig returns the defaults used for unset fields.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CompressionFactor:   1,
		PollInterval:        2 * time.Second,
		LivenessTimeout:     time.Minute,
		RunGrace:            time.Minute,
		MaxInFlight:         8,
		MaxRetries:          2,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     5 * time.Second,
		DispatchTimeout:     30 * time.Second,
	}
}

func (c *SchedulerConfig) applyDefaults() {
	d := DefaultSchedulerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.RunGrace <= 0 {
		c.RunGrace = d.RunGrace
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = d.RetryInitialBackoff
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		c.RetryMaxBackoff = c.RetryInitialBackoff
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
}

// Scheduler replays a plan against the submission API.
type Scheduler struct {
	cfg       SchedulerConfig
	status    ContestStatusAPI
	submitter SubmissionAPI
	collector ResultCollector
	metrics   *Metrics

	contest Contest
	queue   *EventQueue        // owned by the Run goroutine
	events  []*SubmissionEvent // the full plan, in the order it was loaded

	mu          sync.Mutex // guards state, transitions, clock and every event's status
	state       SchedulerState
	transitions []StateTransition
	clock       *Clock
	ran         bool
}

// NewScheduler validates cfg and wires the scheduler to its collaborators.
// collector and metrics may be nil.
func NewScheduler(cfg SchedulerConfig, status ContestStatusAPI, submitter SubmissionAPI, collector ResultCollector, metrics *Metrics) (*Scheduler, error) {
	if err := ValidateCompression(cfg.CompressionFactor); err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("contest status API must not be nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submission API must not be nil")
	}
	cfg.applyDefaults()
	if collector == nil {
		collector = MultiCollector(nil)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		cfg:       cfg,
		status:    status,
		submitter: submitter,
		collector: collector,
		metrics:   metrics,
	}, nil
}

// Initialize loads the plan into the event queue and resets the state to
// WAITING_FOR_START.
func (s *Scheduler) Initialize(contest Contest, plan []*SubmissionEvent) error {
	if contest.Duration <= 0 {
		return &ConfigError{Field: "contest.duration", Reason: fmt.Sprintf("must be positive, got %v", contest.Duration)}
	}
	if contest.FreezeDuration < 0 || contest.FreezeDuration > contest.Duration {
		return &ConfigError{Field: "contest.freeze_duration", Reason: fmt.Sprintf("must be in [0, %v], got %v", contest.Duration, contest.FreezeDuration)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return fmt.Errorf("scheduler already ran; create a new one per run")
	}
	s.contest = contest
	s.events = plan
	s.queue = NewEventQueue(plan)
	s.state = StateWaitingForStart
	s.transitions = nil
	s.metrics.State.Set(stateCode[StateWaitingForStart])
	logrus.Infof("Scheduler initialized: contest=%s events=%d duration=%v freeze=%v compression=%gx",
		contest.ID, len(plan), contest.Duration, contest.FreezeDuration, s.cfg.CompressionFactor)
	return nil
}

// Run waits for the contest to go live, replays the plan and returns once the
// compressed contest window has elapsed and every in-flight dispatch has
// completed.
//
// Returns a *LivenessTimeoutError if the contest never starts, and an error
// wrapping ErrCancelled if ctx is cancelled or the run timeout expires.
// Individual dispatch failures never abort the run.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not initialized")
	}
	if s.ran {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already ran; create a new one per run")
	}
	s.ran = true
	s.mu.Unlock()

	t0, err := s.waitForLive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.cancel(context.Cause(ctx))
			return fmt.Errorf("%w while waiting for contest start: %v", ErrCancelled, context.Cause(ctx))
		}
		return err
	}

	clock, err := NewClock(t0, s.cfg.CompressionFactor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
	s.setState(StateRunning)

	runTimeout := s.cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = time.Until(clock.Deadline(s.contest.Duration)) + s.cfg.RunGrace
	}
	runCtx, cancel := context.WithTimeoutCause(ctx, runTimeout, fmt.Errorf("run timeout of %v exceeded", runTimeout))
	defer cancel()

	d := newDispatcher(s, s.cfg.MaxInFlight)
	loopErr := s.loop(runCtx, d)
	d.wait()

	if loopErr != nil {
		cause := context.Cause(runCtx)
		if cause == nil {
			cause = loopErr
		}
		s.cancel(cause)
		return fmt.Errorf("%w: %v", ErrCancelled, cause)
	}
	logrus.Infof("Simulated contest window has passed (%v simulated, %v wall)",
		s.contest.Duration, time.Since(t0).Round(time.Millisecond))
	return nil
}

// waitForLive polls the contest status until a start time is observed.
// t0 is the later of the observed start time and the observation instant:
// offsets are never mapped to wall instants before the contest opens.
func (s *Scheduler) waitForLive(ctx context.Context) (time.Time, error) {
	logrus.Infof("Polling contest %s for start (every %v, up to %v)...",
		s.contest.ID, s.cfg.PollInterval, s.cfg.LivenessTimeout)
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LivenessTimeout)
	defer cancel()

	started := time.Now()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		st, err := s.status.GetContest(waitCtx)
		switch {
		case err != nil:
			lastErr = err
			logrus.Warnf("Contest status poll failed: %v", err)
		case st.StartTime != nil:
			now := time.Now()
			t0 := now
			if st.StartTime.After(now) {
				t0 = *st.StartTime
			}
			start := *st.StartTime
			s.mu.Lock()
			s.contest.StartTime = &start
			s.mu.Unlock()
			logrus.Infof("Contest %s is live (start_time=%s, t0=%s)",
				s.contest.ID, start.Format(time.RFC3339), t0.Format(time.RFC3339Nano))
			return t0, nil
		default:
			logrus.Debugf("Contest %s has no start time yet", s.contest.ID)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			return time.Time{}, &LivenessTimeoutError{
				ContestID: s.contest.ID,
				Waited:    time.Since(started).Round(time.Millisecond),
				LastErr:   lastErr,
			}
		case <-ticker.C:
		}
	}
}

// loop is the event loop proper. Returns a non-nil error only when ctx ends
// before the contest window has elapsed.
func (s *Scheduler) loop(ctx context.Context, d *dispatcher) error {
	clock := s.Clock()
	hasFreeze := s.contest.HasFreeze()
	var freezeAt time.Time
	if hasFreeze {
		freezeAt = clock.Deadline(s.contest.FreezeStart())
	}

	for s.queue.Len() > 0 {
		next := s.queue.Peek()
		if next.Offset < 0 {
			s.skip(s.queue.Pop(), time.Time{}, "offset before contest start")
			continue
		}
		if next.Offset >= s.contest.Duration {
			// Ordered queue: everything left is outside the window too.
			break
		}

		deadline := clock.Deadline(next.Offset)
		if hasFreeze && s.State() == StateRunning && !deadline.Before(freezeAt) {
			if err := sleepUntil(ctx, freezeAt); err != nil {
				return err
			}
			s.freeze()
			continue
		}

		if err := sleepUntil(ctx, deadline); err != nil {
			return err
		}
		ev := s.queue.Pop()
		if err := d.dispatch(ctx, ev, deadline); err != nil {
			// Not dispatched: put it back so cancellation marks it skipped.
			s.queue.Push(ev)
			return err
		}
	}

	for _, ev := range s.queue.Drain() {
		s.skip(ev, time.Time{}, "offset outside contest window")
	}

	if hasFreeze && s.State() == StateRunning {
		if err := sleepUntil(ctx, freezeAt); err != nil {
			return err
		}
		s.freeze()
	}
	s.setState(StateEnded)

	end := clock.Deadline(s.contest.Duration)
	if wait := time.Until(end); wait > 0 {
		logrus.Infof("Event queue empty; waiting %v for the simulated contest end", wait.Round(time.Millisecond))
	}
	return sleepUntil(ctx, end)
}

// sleepUntil blocks until t or until ctx is done, whichever is first.
// A deadline already in the past returns immediately (with ctx.Err()).
func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// freeze performs the RUNNING → FROZEN transition. The freeze only changes
// what the backend shows on its scoreboard; scheduling is unaffected.
func (s *Scheduler) freeze() {
	if s.setStateFrom(StateRunning, StateFrozen) {
		logrus.Info("--- SCOREBOARD IS NOW FROZEN ---")
	}
}

// cancel marks every queued event skipped and moves to CANCELLED.
func (s *Scheduler) cancel(cause error) {
	reason := "cancelled"
	if cause != nil {
		reason = fmt.Sprintf("cancelled: %v", cause)
	}
	skipped := 0
	if s.queue != nil {
		for _, ev := range s.queue.Drain() {
			s.skip(ev, time.Time{}, reason)
			skipped++
		}
	}
	s.setState(StateCancelled)
	logrus.Warnf("Simulation cancelled (%v); %d queued event(s) skipped", cause, skipped)
}

func (s *Scheduler) setState(to SchedulerState) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(from, to)
	s.mu.Unlock()
	logrus.Infof("Scheduler state %s -> %s", from, to)
}

// setStateFrom transitions only if the current state is from.
func (s *Scheduler) setStateFrom(from, to SchedulerState) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.transitionLocked(from, to)
	s.mu.Unlock()
	logrus.Infof("Scheduler state %s -> %s", from, to)
	return true
}

func (s *Scheduler) transitionLocked(from, to SchedulerState) {
	now := time.Now()
	var offset time.Duration
	if s.clock != nil {
		offset = s.clock.OffsetAt(now)
	}
	s.state = to
	s.transitions = append(s.transitions, StateTransition{From: from, To: to, At: now, Offset: offset})
	s.metrics.State.Set(stateCode[to])
}

// setStatus updates an event's status under the scheduler lock.
func (s *Scheduler) setStatus(ev *SubmissionEvent, st EventStatus) {
	s.mu.Lock()
	ev.status = st
	s.mu.Unlock()
}

func (s *Scheduler) skip(ev *SubmissionEvent, deadline time.Time, reason string) {
	s.setStatus(ev, StatusSkipped)
	s.metrics.Skipped.Inc()
	o := outcomeFor(ev, StatusSkipped)
	o.Deadline = deadline
	o.Error = reason
	s.collector.Record(o)
	logrus.Debugf("Skipped %s: %s", ev.ID, reason)
}

// outcomeFor builds the outcome skeleton shared by every terminal status.
func outcomeFor(ev *SubmissionEvent, st EventStatus) Outcome {
	return Outcome{
		EventID:         ev.ID,
		Seq:             ev.Seq,
		TeamID:          ev.TeamID,
		ProblemID:       ev.ProblemID,
		LanguageID:      ev.LanguageID(),
		ScheduledOffset: ev.Offset,
		OutcomeKind:     ev.Kind,
		Status:          st,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns a copy of the lifecycle history.
func (s *Scheduler) Transitions() []StateTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StateTransition(nil), s.transitions...)
}

// Clock returns the run's clock, or nil before the contest went live.
func (s *Scheduler) Clock() *Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Contest returns the contest, including the start time once observed.
func (s *Scheduler) Contest() Contest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contest
}

// StatusOf returns the status of the event with the given id.
func (s *Scheduler) StatusOf(id string) (EventStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev.status, true
		}
	}
	return "", false
}

// Counts returns the number of events per status.
func (s *Scheduler) Counts() map[EventStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[EventStatus]int)
	for _, ev := range s.events {
		counts[ev.status]++
	}
	return counts
}

// Unfinished returns the number of events not yet in a terminal status.
func (s *Scheduler) Unfinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if !ev.status.IsTerminal() {
			n++
		}
	}
	return n
}

// IsCancelled reports whether err came from a cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
