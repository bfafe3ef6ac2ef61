package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/report"
)

// fakeDOMjudge serves the subset of the v4 API a run touches: one contest
// "demo", by default lasting an hour with a ten minute freeze.
type fakeDOMjudge struct {
	mu          sync.Mutex
	duration    string
	start       *time.Time
	patches     int
	users       map[string]bool
	contestTeam map[string]bool
	submissions []map[string]string
	badAuth     int
}

func newFakeDOMjudge(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _ := newFakeContest(t, "1:00:00.000")
	return srv
}

func newFakeContest(t *testing.T, duration string) (*httptest.Server, *fakeDOMjudge) {
	t.Helper()
	f := &fakeDOMjudge{duration: duration, users: map[string]bool{}, contestTeam: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/contests/demo", f.getContest)
	mux.HandleFunc("PATCH /api/v4/contests/demo", f.patchContest)
	mux.HandleFunc("GET /api/v4/contests/demo/problems", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{
			{"id": "p1", "label": "A", "name": "Apples"},
			{"id": "p2", "label": "B", "name": "Bananas"},
			{"id": "p3", "label": "C", "name": "Cherries"},
		})
	})
	mux.HandleFunc("GET /api/v4/contests/demo/scoreboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"rows": []map[string]any{
			{"rank": 1, "team_id": "3"},
			{"rank": 2, "team_id": "4"},
		}})
	})
	mux.HandleFunc("POST /api/v4/teams", func(w http.ResponseWriter, r *http.Request) {
		var team map[string]string
		_ = json.NewDecoder(r.Body).Decode(&team)
		writeJSON(w, map[string]string{"id": team["id"]})
	})
	mux.HandleFunc("POST /api/v4/users", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.users[r.FormValue("username")] = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/v4/contests/demo/teams", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		_ = json.NewDecoder(r.Body).Decode(&ids)
		f.mu.Lock()
		for _, id := range ids {
			f.contestTeam[id] = true
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v4/contests/demo/submissions", f.submit)
	mux.HandleFunc("GET /api/v4/contests/demo/submissions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.submissions)
	})
	mux.HandleFunc("GET /api/v4/contests/demo/judgements", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		js := make([]map[string]string, 0, len(f.submissions))
		for _, s := range f.submissions {
			js = append(js, map[string]string{"id": "j" + s["id"], "submission_id": s["id"], "judgement_type_id": "AC"})
		}
		writeJSON(w, js)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeDOMjudge) getContest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]any{
		"id":                         "demo",
		"name":                       "Demo",
		"start_time":                 f.start,
		"duration":                   f.duration,
		"scoreboard_freeze_duration": "0:10:00.000",
	})
}

func (f *fakeDOMjudge) patchContest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.FormValue("force") != "true" {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, r.FormValue("start_time"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.start = &start
	f.patches++
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeDOMjudge) submit(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ok || pass != "teampw" {
		f.badAuth++
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := fmt.Sprintf("%d", len(f.submissions)+1)
	f.submissions = append(f.submissions, map[string]string{
		"id":           id,
		"team_id":      user,
		"problem_id":   r.FormValue("problem"),
		"language_id":  r.FormValue("language"),
		"contest_time": "0:00:00.000",
	})
	writeJSON(w, map[string]any{"id": id, "time": time.Now().UTC()})
}

// writeSolutions lays out solutions for A and B; C has none.
func writeSolutions(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"A/ac.py":    "print(1)\n",
		"A/wa.py":    "print(2)\n",
		"A/tle_1.py": "while True: pass\n",
		"B/ac.cpp":   "int main(){}\n",
		"B/ce.cpp":   "int main(\n",
		"B/.swp":     "ignored",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func testRunConfig(t *testing.T, srvURL string, factor float64) *Config {
	t.Helper()
	dir := t.TempDir()
	writeSolutions(t, filepath.Join(dir, "solutions"))
	cfg, err := ParseConfig([]byte(fmt.Sprintf(`
domjudge_url: %s/api/v4
contest_id: demo
admin_user: admin
admin_pass: admin
team_password: teampw
solutions_dir: %s
output_dir: %s
teams_csv: %s
team_generation: {count: 2}
simulation_params:
  random_seed: 42
  avg_subs_per_team: 3
  time_compression_factor: %g
  contest_start_delay_sec: 0
scheduler:
  poll_interval: 10ms
  liveness_timeout: 5s
  judge_grace: 10ms
  retry_initial_backoff: 1ms
  retry_max_backoff: 5ms
http:
  requests_per_second: 1000
`, srvURL, filepath.Join(dir, "solutions"), filepath.Join(dir, "output"), filepath.Join(dir, "teams.csv"), factor)))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(true))
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func readSummary(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, report.SummaryFile))
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, yaml.Unmarshal(data, &summary))
	return summary
}

func TestSimulate_EndToEnd_CompressedContest(t *testing.T) {
	// GIVEN a one hour contest replayed at 3600x (one wall second)
	srv := newFakeDOMjudge(t)
	cfg := testRunConfig(t, srv.URL, 3600)
	reg := prometheus.NewRegistry()

	// WHEN the full pipeline runs
	require.NoError(t, simulate(context.Background(), cfg, reg, ""))

	// THEN every planned event was submitted once, as an existing or
	// generated team, and all report files exist
	plan := readCSV(t, filepath.Join(cfg.OutputDir, planDataFile))
	events := readCSV(t, filepath.Join(cfg.OutputDir, report.EventsFile))
	subs := readCSV(t, filepath.Join(cfg.OutputDir, report.SubmissionsFile))
	require.Greater(t, len(plan), 1, "plan should not be empty")
	assert.Len(t, events, len(plan))
	assert.Len(t, subs, len(plan))

	teamsSeen := map[string]bool{}
	for _, row := range subs[1:] {
		teamsSeen[row[1]] = true
		assert.Contains(t, []string{"p1", "p2"}, row[2], "problem without solutions must not be submitted")
		assert.Equal(t, "AC", row[5])
	}
	for team := range teamsSeen {
		assert.Contains(t, []string{"3", "4", "team001", "team002"}, team)
	}
	for _, row := range events[1:] {
		assert.Equal(t, "confirmed", row[10])
	}

	_, err := os.Stat(filepath.Join(cfg.OutputDir, report.ScoreboardFile))
	assert.NoError(t, err)
	summary := readSummary(t, cfg.OutputDir)
	assert.Equal(t, "demo", summary["contest_id"])
	assert.Equal(t, false, summary["cancelled"])

	families, err := reg.Gather()
	require.NoError(t, err)
	var confirmed float64
	for _, mf := range families {
		if mf.GetName() == "domjudge_sim_events_confirmed_total" {
			confirmed = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(len(plan)-1), confirmed)
}

func TestSimulate_SameSeedSamePlan(t *testing.T) {
	run := func() [][]string {
		srv := newFakeDOMjudge(t)
		cfg := testRunConfig(t, srv.URL, 3600)
		require.NoError(t, simulate(context.Background(), cfg, prometheus.NewRegistry(), ""))
		return readCSV(t, filepath.Join(cfg.OutputDir, planDataFile))
	}
	assert.Equal(t, run(), run())
}

func TestSimulate_InterruptStillReports(t *testing.T) {
	// GIVEN a run that would take a minute of wall time
	srv := newFakeDOMjudge(t)
	cfg := testRunConfig(t, srv.URL, 60)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// WHEN it is interrupted
	start := time.Now()
	require.NoError(t, simulate(ctx, cfg, prometheus.NewRegistry(), ""))

	// THEN it stops early and the reports say so
	assert.Less(t, time.Since(start), 10*time.Second)
	summary := readSummary(t, cfg.OutputDir)
	assert.Equal(t, true, summary["cancelled"])
	events := readCSV(t, filepath.Join(cfg.OutputDir, report.EventsFile))
	skipped := 0
	for _, row := range events[1:] {
		if row[10] == "skipped" {
			skipped++
		}
	}
	assert.Positive(t, skipped)
}

func TestSimulate_NoMatchingProblems(t *testing.T) {
	srv := newFakeDOMjudge(t)
	cfg := testRunConfig(t, srv.URL, 3600)
	empty := filepath.Join(t.TempDir(), "solutions")
	writeSolutionsFor(t, empty, "Z/ac.py")
	cfg.SolutionsDir = empty

	err := simulate(context.Background(), cfg, prometheus.NewRegistry(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no contest problem matches")
}

func TestSimulate_PlanningErrorLeavesContestUnstarted(t *testing.T) {
	// GIVEN a contest whose duration leaves nothing to plan
	srv, fake := newFakeContest(t, "0:00:00.000")
	cfg := testRunConfig(t, srv.URL, 3600)

	// WHEN the run is attempted
	err := simulate(context.Background(), cfg, prometheus.NewRegistry(), "")

	// THEN planning fails and the contest start was never touched
	var planErr *sim.PlanningError
	require.ErrorAs(t, err, &planErr)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Zero(t, fake.patches)
	assert.Nil(t, fake.start)
}

func TestSimulate_ReplaysSavedPlan(t *testing.T) {
	// GIVEN the plan saved by a first run
	srv := newFakeDOMjudge(t)
	cfg := testRunConfig(t, srv.URL, 3600)
	require.NoError(t, simulate(context.Background(), cfg, prometheus.NewRegistry(), ""))
	planDir := cfg.OutputDir
	plan := readCSV(t, filepath.Join(planDir, planDataFile))
	require.Greater(t, len(plan), 1)

	// WHEN a second run with another seed replays it against a fresh backend
	replay := newFakeDOMjudge(t)
	cfg.DomjudgeURL = replay.URL + "/api/v4"
	cfg.Simulation.RandomSeed = 7
	cfg.OutputDir = filepath.Join(t.TempDir(), "replay")
	require.NoError(t, simulate(context.Background(), cfg, prometheus.NewRegistry(), planDir))

	// THEN the same events went out instead of a fresh draw
	events := readCSV(t, filepath.Join(cfg.OutputDir, report.EventsFile))
	require.Len(t, events, len(plan))
	planned := map[string]string{}
	for _, row := range plan[1:] {
		planned[row[1]] = row[2]
	}
	replayed := map[string]string{}
	for _, row := range events[1:] {
		replayed[row[1]] = row[2]
		assert.Equal(t, "confirmed", row[10])
	}
	assert.Equal(t, planned, replayed)
	_, err := os.Stat(filepath.Join(cfg.OutputDir, planDataFile))
	assert.True(t, os.IsNotExist(err), "a replay does not draw a new plan")
}

func TestSimulate_ReplayMissingPlan(t *testing.T) {
	srv, fake := newFakeContest(t, "1:00:00.000")
	cfg := testRunConfig(t, srv.URL, 3600)

	err := simulate(context.Background(), cfg, prometheus.NewRegistry(), t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading saved plan")
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Zero(t, fake.patches)
}

func writeSolutionsFor(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}
