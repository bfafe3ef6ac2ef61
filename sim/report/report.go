// Package report turns the outcomes of a run and the backend's final state
// into files: events.csv, submissions.csv, scoreboard.json and summary.yaml.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
)

// File names inside the output directory.
const (
	EventsFile      = "events.csv"
	SubmissionsFile = "submissions.csv"
	ScoreboardFile  = "scoreboard.json"
	SummaryFile     = "summary.yaml"
)

// FinalVerdicts maps submission id to the verdict of its latest judgement.
// Later judgements (rejudgings) override earlier ones; invalid judgements
// are ignored.
func FinalVerdicts(judgements []domjudge.Judgement) map[string]string {
	out := make(map[string]string, len(judgements))
	for _, j := range judgements {
		if j.Valid != nil && !*j.Valid {
			continue
		}
		out[j.SubmissionID] = j.Verdict()
	}
	return out
}

// AttachVerdicts fills Verdict on confirmed outcomes. Outcomes without a
// judgement get "pending"; unconfirmed outcomes are left alone.
func AttachVerdicts(outcomes []sim.Outcome, verdicts map[string]string) []sim.Outcome {
	out := make([]sim.Outcome, len(outcomes))
	copy(out, outcomes)
	for i := range out {
		if out[i].Status != sim.StatusConfirmed || out[i].SubmissionID == "" {
			continue
		}
		if v, ok := verdicts[out[i].SubmissionID]; ok {
			out[i].Verdict = v
		} else {
			out[i].Verdict = "pending"
		}
	}
	return out
}

var eventColumns = []string{
	"seq", "event_id", "team_id", "problem_id", "language_id", "outcome_kind",
	"offset_ms", "deadline", "dispatched_at", "lag_ms", "status", "attempts",
	"submission_id", "verdict", "error",
}

// WriteEvents writes one row per outcome, ordered as given.
func WriteEvents(w io.Writer, outcomes []sim.Outcome) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(eventColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, o := range outcomes {
		row := []string{
			strconv.FormatUint(o.Seq, 10),
			o.EventID,
			o.TeamID,
			o.ProblemID,
			o.LanguageID,
			string(o.OutcomeKind),
			strconv.FormatInt(o.ScheduledOffset.Milliseconds(), 10),
			formatTime(o.Deadline),
			formatTime(o.DispatchWallTime),
			lagMillis(o),
			string(o.Status),
			strconv.Itoa(o.Attempts),
			o.SubmissionID,
			o.Verdict,
			o.Error,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", o.Seq, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func lagMillis(o sim.Outcome) string {
	if o.DispatchWallTime.IsZero() {
		return ""
	}
	return strconv.FormatFloat(float64(o.Lag)/float64(time.Millisecond), 'f', 3, 64)
}

var submissionColumns = []string{"id", "team_id", "problem_id", "language_id", "contest_time", "verdict"}

// WriteSubmissions writes the backend's submissions joined with verdicts.
func WriteSubmissions(w io.Writer, subs []domjudge.Submission, verdicts map[string]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(submissionColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, s := range subs {
		verdict, ok := verdicts[s.ID]
		if !ok {
			verdict = "pending"
		}
		if err := writer.Write([]string{s.ID, s.TeamID, s.ProblemID, s.LanguageID, s.ContestTime, verdict}); err != nil {
			return fmt.Errorf("writing submission %s: %w", s.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteScoreboard writes the raw scoreboard document, indented.
func WriteScoreboard(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting scoreboard: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// writeFile creates path and hands it to fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	logrus.Infof("Saved %s", path)
	return nil
}

// Inputs is everything a full report is built from. Backend fields may be
// nil when they could not be fetched; the matching files are then skipped.
type Inputs struct {
	Outcomes    []sim.Outcome
	Scoreboard  *domjudge.Scoreboard
	Submissions []domjudge.Submission
	Judgements  []domjudge.Judgement
	Summary     SummaryMeta
}

// Write produces every report file in dir, creating it if needed. Returns
// the outcomes with verdicts attached.
func Write(dir string, in Inputs) ([]sim.Outcome, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	verdicts := FinalVerdicts(in.Judgements)
	outcomes := AttachVerdicts(in.Outcomes, verdicts)

	if in.Scoreboard != nil && len(in.Scoreboard.Raw) > 0 {
		if err := writeFile(filepath.Join(dir, ScoreboardFile), func(w io.Writer) error {
			return WriteScoreboard(w, in.Scoreboard.Raw)
		}); err != nil {
			return nil, err
		}
	}
	if in.Submissions != nil {
		if err := writeFile(filepath.Join(dir, SubmissionsFile), func(w io.Writer) error {
			return WriteSubmissions(w, in.Submissions, verdicts)
		}); err != nil {
			return nil, err
		}
	}
	if err := writeFile(filepath.Join(dir, EventsFile), func(w io.Writer) error {
		return WriteEvents(w, outcomes)
	}); err != nil {
		return nil, err
	}
	summary := Summarize(outcomes, in.Summary)
	if err := writeFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
		return WriteSummary(w, summary)
	}); err != nil {
		return nil, err
	}
	return outcomes, nil
}
