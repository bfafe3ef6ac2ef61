package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func sampleOutcomes() []sim.Outcome {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []sim.Outcome{
		{Seq: 0, EventID: "e0", TeamID: "team001", ProblemID: "A", OutcomeKind: sim.OutcomeCorrect,
			Status: sim.StatusConfirmed, SubmissionID: "10", Attempts: 1,
			Deadline: t0, DispatchWallTime: t0.Add(2 * time.Millisecond), Lag: 2 * time.Millisecond},
		{Seq: 1, EventID: "e1", TeamID: "team001", ProblemID: "B", OutcomeKind: sim.OutcomeWrongAnswer,
			Status: sim.StatusConfirmed, SubmissionID: "11", Attempts: 2,
			Deadline: t0.Add(time.Second), DispatchWallTime: t0.Add(time.Second + 4*time.Millisecond), Lag: 4 * time.Millisecond},
		{Seq: 2, EventID: "e2", TeamID: "team002", ProblemID: "A", OutcomeKind: sim.OutcomeTimeLimit,
			Status: sim.StatusConfirmed, SubmissionID: "12", Attempts: 1,
			Deadline: t0.Add(2 * time.Second), DispatchWallTime: t0.Add(2 * time.Second), Lag: 0},
		{Seq: 3, EventID: "e3", TeamID: "team002", ProblemID: "B", OutcomeKind: sim.OutcomeCompileError,
			Status: sim.StatusSkipped, Error: "cancelled"},
	}
}

func sampleJudgements() []domjudge.Judgement {
	return []domjudge.Judgement{
		{ID: "1", SubmissionID: "10", JudgementTypeID: strPtr("AC")},
		{ID: "2", SubmissionID: "11", JudgementTypeID: strPtr("AC")},
		{ID: "3", SubmissionID: "11", JudgementTypeID: strPtr("WA")},
		{ID: "4", SubmissionID: "12", JudgementTypeID: strPtr("RTE"), Valid: boolPtr(false)},
	}
}

func TestFinalVerdicts_LatestValidWins(t *testing.T) {
	v := FinalVerdicts(sampleJudgements())
	assert.Equal(t, map[string]string{"10": "AC", "11": "WA"}, v)
}

func TestAttachVerdicts(t *testing.T) {
	out := AttachVerdicts(sampleOutcomes(), FinalVerdicts(sampleJudgements()))

	assert.Equal(t, "AC", out[0].Verdict)
	assert.Equal(t, "WA", out[1].Verdict)
	assert.Equal(t, "pending", out[2].Verdict)
	assert.Empty(t, out[3].Verdict, "skipped events have no verdict")
	assert.Empty(t, sampleOutcomes()[0].Verdict)
}

func TestWriteEvents_Columns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvents(&buf, sampleOutcomes()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, eventColumns, rows[0])
	assert.Equal(t, "e1", rows[2][1])
	assert.Equal(t, "4.000", rows[2][9])
	assert.Equal(t, "skipped", rows[4][10])
	assert.Empty(t, rows[4][8], "skipped events have no dispatch time")
}

func TestWriteSubmissions_JoinsVerdicts(t *testing.T) {
	subs := []domjudge.Submission{
		{ID: "10", TeamID: "3", ProblemID: "A", LanguageID: "cpp", ContestTime: "0:01:00.000"},
		{ID: "99", TeamID: "4", ProblemID: "B", LanguageID: "python3", ContestTime: "0:02:00.000"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSubmissions(&buf, subs, FinalVerdicts(sampleJudgements())))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "3", "A", "cpp", "0:01:00.000", "AC"}, rows[1])
	assert.Equal(t, "pending", rows[2][5])
}

func TestSummarize(t *testing.T) {
	outcomes := AttachVerdicts(sampleOutcomes(), FinalVerdicts(sampleJudgements()))

	s := Summarize(outcomes, SummaryMeta{ContestID: "demo", Seed: 42})

	assert.Equal(t, 4, s.Events)
	assert.Equal(t, 3, s.ByStatus["confirmed"])
	assert.Equal(t, 1, s.ByStatus["skipped"])
	assert.Equal(t, 2, s.VerdictChecked)
	assert.Equal(t, 2, s.VerdictMatches)
	assert.InDelta(t, 1.0, s.VerdictRate, 1e-9)
	assert.Equal(t, 2, s.SubmissionsPerTeam.Count)
	assert.InDelta(t, 2.0, s.SubmissionsPerTeam.Mean, 1e-9)
	assert.Equal(t, 3, s.DispatchLagMs.Count)
	assert.InDelta(t, 2.0, s.DispatchLagMs.Mean, 1e-9)
	assert.InDelta(t, 4.0, s.DispatchLagMs.Max, 1e-9)
}

func TestDistribute(t *testing.T) {
	assert.Equal(t, Distribution{}, Distribute(nil))

	d := Distribute([]float64{5, 1, 3})
	assert.Equal(t, 3, d.Count)
	assert.InDelta(t, 3.0, d.Mean, 1e-9)
	assert.InDelta(t, 2.0, d.StdDev, 1e-9)
	assert.InDelta(t, 3.0, d.P50, 1e-9)
	assert.InDelta(t, 5.0, d.Max, 1e-9)

	one := Distribute([]float64{7})
	assert.Zero(t, one.StdDev)
}

func TestWrite_ProducesAllFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	sb := &domjudge.Scoreboard{Raw: json.RawMessage(`{"rows":[{"rank":1,"team_id":"3"}]}`)}

	out, err := Write(dir, Inputs{
		Outcomes:    sampleOutcomes(),
		Scoreboard:  sb,
		Submissions: []domjudge.Submission{{ID: "10"}},
		Judgements:  sampleJudgements(),
		Summary:     SummaryMeta{ContestID: "demo", Seed: 42, Duration: "5h0m0s"},
	})
	require.NoError(t, err)
	assert.Equal(t, "AC", out[0].Verdict)

	for _, name := range []string{EventsFile, SubmissionsFile, ScoreboardFile, SummaryFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ScoreboardFile))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "\n  \"rows\""), "scoreboard is indented")

	var summary map[string]interface{}
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &summary))
	assert.Equal(t, "demo", summary["contest_id"])
	assert.Equal(t, 4, summary["events"])
}

func TestWrite_SkipsMissingBackendData(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, Inputs{Outcomes: sampleOutcomes()})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ScoreboardFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, SubmissionsFile))
	assert.True(t, os.IsNotExist(err))
}
