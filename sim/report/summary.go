package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/joeMo942/domjudge-simulator/sim"
)

// expectedVerdict is the judgement type each outcome kind should receive.
var expectedVerdict = map[sim.OutcomeKind]string{
	sim.OutcomeCorrect:      "AC",
	sim.OutcomeWrongAnswer:  "WA",
	sim.OutcomeTimeLimit:    "TLE",
	sim.OutcomeCompileError: "CE",
}

// SummaryMeta is run metadata copied into the summary as-is.
type SummaryMeta struct {
	ContestID   string              `yaml:"contest_id"`
	Seed        int64               `yaml:"seed"`
	Compression float64             `yaml:"time_compression_factor"`
	Duration    string              `yaml:"contest_duration"`
	Cancelled   bool                `yaml:"cancelled"`
	Transitions []TransitionSummary `yaml:"transitions,omitempty"`
}

// TransitionSummary is one scheduler state change.
type TransitionSummary struct {
	To     string `yaml:"to"`
	At     string `yaml:"at"`
	Offset string `yaml:"offset"`
}

// Transitions converts scheduler transitions for the summary.
func Transitions(trs []sim.StateTransition) []TransitionSummary {
	out := make([]TransitionSummary, len(trs))
	for i, tr := range trs {
		out[i] = TransitionSummary{
			To:     string(tr.To),
			At:     tr.At.UTC().Format(time.RFC3339Nano),
			Offset: tr.Offset.Round(time.Second).String(),
		}
	}
	return out
}

// Distribution summarizes a sample.
type Distribution struct {
	Count  int     `yaml:"count"`
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`
	P50    float64 `yaml:"p50"`
	P95    float64 `yaml:"p95"`
	P99    float64 `yaml:"p99"`
	Max    float64 `yaml:"max"`
}

// Summary is the content of summary.yaml.
type Summary struct {
	SummaryMeta `yaml:",inline"`

	Events         int            `yaml:"events"`
	ByStatus       map[string]int `yaml:"by_status"`
	ByOutcomeKind  map[string]int `yaml:"by_outcome_kind"`
	ByVerdict      map[string]int `yaml:"by_verdict,omitempty"`
	VerdictMatches int            `yaml:"verdict_matches"`
	VerdictChecked int            `yaml:"verdict_checked"`
	VerdictRate    float64        `yaml:"verdict_match_rate"`

	SubmissionsPerTeam Distribution `yaml:"submissions_per_team"`
	DispatchLagMs      Distribution `yaml:"dispatch_lag_ms"`
	Attempts           Distribution `yaml:"attempts"`
}

// Summarize computes run statistics over outcomes.
func Summarize(outcomes []sim.Outcome, meta SummaryMeta) Summary {
	s := Summary{
		SummaryMeta:   meta,
		Events:        len(outcomes),
		ByStatus:      map[string]int{},
		ByOutcomeKind: map[string]int{},
		ByVerdict:     map[string]int{},
	}

	perTeam := map[string]float64{}
	var lags, attempts []float64
	for _, o := range outcomes {
		s.ByStatus[string(o.Status)]++
		s.ByOutcomeKind[string(o.OutcomeKind)]++
		perTeam[o.TeamID]++
		if o.Verdict != "" {
			s.ByVerdict[o.Verdict]++
			if o.Verdict != "pending" {
				s.VerdictChecked++
				if expectedVerdict[o.OutcomeKind] == o.Verdict {
					s.VerdictMatches++
				}
			}
		}
		if !o.DispatchWallTime.IsZero() {
			lags = append(lags, float64(o.Lag)/float64(time.Millisecond))
			attempts = append(attempts, float64(o.Attempts))
		}
	}
	if s.VerdictChecked > 0 {
		s.VerdictRate = float64(s.VerdictMatches) / float64(s.VerdictChecked)
	}

	teams := make([]float64, 0, len(perTeam))
	for _, n := range perTeam {
		teams = append(teams, n)
	}
	s.SubmissionsPerTeam = Distribute(teams)
	s.DispatchLagMs = Distribute(lags)
	s.Attempts = Distribute(attempts)
	return s
}

// Distribute computes summary statistics; the input is not modified.
func Distribute(xs []float64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	d := Distribution{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	return d
}

// WriteSummary encodes s as YAML.
func WriteSummary(w io.Writer, s Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return enc.Close()
}
