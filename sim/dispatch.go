package sim

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// dispatcher runs submit calls concurrently, bounded by a semaphore, so a
// slow backend never stalls the event loop for longer than it takes to free
// one slot.
type dispatcher struct {
	s   *Scheduler
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newDispatcher(s *Scheduler, maxInFlight int) *dispatcher {
	return &dispatcher{s: s, sem: semaphore.NewWeighted(int64(maxInFlight))}
}

// dispatch hands ev to a worker goroutine. It blocks only while all slots
// are taken and fails only if ctx ends first, in which case ev was not
// dispatched.
func (d *dispatcher) dispatch(ctx context.Context, ev *SubmissionEvent, deadline time.Time) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	sent := time.Now()
	d.s.setStatus(ev, StatusDispatched)
	d.s.metrics.Dispatched.Inc()
	d.s.metrics.Lag.Observe(sent.Sub(deadline).Seconds())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.s.submit(ctx, ev, deadline, sent)
	}()
	return nil
}

// wait blocks until every dispatched call has completed.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// retryPolicy is exponential without jitter, capped at MaxRetries retries
// and stopped early when ctx ends.
func (s *Scheduler) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialBackoff
	b.MaxInterval = s.cfg.RetryMaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxRetries)), ctx)
}

// submit performs one event's submit call with retries and records the
// terminal outcome. Each call runs on a context detached from ctx so that
// cancellation lets in-flight calls finish; ctx still stops further retries.
func (s *Scheduler) submit(ctx context.Context, ev *SubmissionEvent, deadline, sent time.Time) {
	req := SubmitRequest{
		TeamID:     ev.TeamID,
		ProblemID:  ev.ProblemID,
		LanguageID: ev.LanguageID(),
	}
	if ev.Artifact != nil {
		req.FileName = ev.Artifact.FileName
		req.Content = ev.Artifact.Content
	}
	log := logrus.WithFields(logrus.Fields{
		"event":   ev.ID,
		"team":    ev.TeamID,
		"problem": ev.ProblemID,
		"kind":    ev.Kind,
	})

	attempts := 0
	var result SubmitResult
	op := func() error {
		attempts++
		s.metrics.Attempts.Inc()
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
		defer cancel()
		res, err := s.submitter.Submit(callCtx, req)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			log.Warnf("Submit attempt %d failed: %v", attempts, err)
			return err
		}
		result = res
		return nil
	}
	err := backoff.Retry(op, s.retryPolicy(ctx))

	o := outcomeFor(ev, StatusConfirmed)
	o.Deadline = deadline
	o.DispatchWallTime = sent
	o.Lag = sent.Sub(deadline)
	o.Attempts = attempts

	if err != nil {
		derr := &DispatchError{
			EventID:   ev.ID,
			TeamID:    ev.TeamID,
			ProblemID: ev.ProblemID,
			Attempts:  attempts,
			Err:       err,
		}
		s.setStatus(ev, StatusFailed)
		s.metrics.Failed.Inc()
		o.Status = StatusFailed
		o.Error = derr.Error()
		s.collector.Record(o)
		log.Errorf("%v", derr)
		return
	}

	s.setStatus(ev, StatusConfirmed)
	s.metrics.Confirmed.Inc()
	o.SubmissionID = result.SubmissionID
	o.ServerTime = result.ServerTime
	s.collector.Record(o)
	log.Infof("Submitted %s at offset %v (submission %s, lag %v)",
		ev.Kind, ev.Offset, result.SubmissionID, o.Lag.Round(time.Millisecond))
}
