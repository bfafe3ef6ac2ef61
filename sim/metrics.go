// Tracks run-wide counters for the scheduler and exposes them through a
// Prometheus registry.

package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "domjudge_sim"

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	Dispatched prometheus.Counter   // events handed to the submission API
	Confirmed  prometheus.Counter   // events accepted by the backend
	Failed     prometheus.Counter   // events that exhausted their retries
	Skipped    prometheus.Counter   // events never dispatched
	Attempts   prometheus.Counter   // individual submit calls, including retries
	InFlight   prometheus.Gauge     // submit calls currently running
	State      prometheus.Gauge     // numeric SchedulerState, see stateCode
	Lag        prometheus.Histogram // seconds between deadline and dispatch
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "events_dispatched_total",
			Help: "Submission events handed to the submission API.",
		}),
		Confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "events_confirmed_total",
			Help: "Submission events accepted by the backend.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "events_failed_total",
			Help: "Submission events that failed after all retries.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "events_skipped_total",
			Help: "Submission events that were never dispatched.",
		}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "submit_attempts_total",
			Help: "Submit calls issued, including retries.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "submits_in_flight",
			Help: "Submit calls currently in flight.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "scheduler_state",
			Help: "Scheduler state: 0 waiting, 1 running, 2 frozen, 3 ended, 4 cancelled.",
		}),
		Lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "dispatch_lag_seconds",
			Help:    "Wall-clock delay between an event's deadline and its dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Dispatched, m.Confirmed, m.Failed, m.Skipped,
			m.Attempts, m.InFlight, m.State, m.Lag)
	}
	return m
}
