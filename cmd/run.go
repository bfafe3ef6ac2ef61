package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
	"github.com/joeMo942/domjudge-simulator/sim/report"
	"github.com/joeMo942/domjudge-simulator/sim/solutions"
	"github.com/joeMo942/domjudge-simulator/sim/teams"
	"github.com/joeMo942/domjudge-simulator/sim/workload"
)

// Files written next to the reports.
const (
	planHeaderFile = "plan.yaml"
	planDataFile   = "plan.csv"
)

var replayPlanDir string // directory holding a saved plan.yaml and plan.csv

// runCmd starts the contest and replays a planned submission load against it
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the contest and submit the planned load",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := newRegistry()
		serveMetrics(ctx, metricsAddr, reg)

		startTime := time.Now()
		if err := simulate(ctx, cfg, reg, replayPlanDir); err != nil {
			return err
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime).Round(time.Second))
		return nil
	},
}

// simulate runs the whole pipeline: prepare, plan, start, dispatch, report.
// When planDir is set the saved plan in it is replayed instead of drawing a
// new one. The contest is only started once a plan exists. A cancelled run
// still writes its reports and is not an error.
func simulate(ctx context.Context, cfg *Config, reg prometheus.Registerer, planDir string) error {
	client, err := domjudge.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Simulation.RandomSeed))

	// Preparation
	problems, artifacts, err := prepareProblems(ctx, client, cfg)
	if err != nil {
		return err
	}
	contestTeams, err := prepareTeams(ctx, client, cfg, rng)
	if err != nil {
		return err
	}
	status, err := client.GetContest(ctx)
	if err != nil {
		return fmt.Errorf("reading contest: %w", err)
	}
	contest := sim.Contest{
		ID:             client.ContestID(),
		Duration:       status.Duration,
		FreezeDuration: status.FreezeDuration,
	}

	// Planning
	var events []*sim.SubmissionEvent
	if planDir != "" {
		events, err = loadSavedPlan(planDir, contest, contestTeams, artifacts)
	} else {
		events, err = drawPlan(cfg, contest, contestTeams, problems, artifacts, rng)
	}
	if err != nil {
		return err
	}

	// Contest start; the scheduler observes it by polling.
	start, err := cfg.StartTime(time.Now())
	if err != nil {
		return &sim.ConfigError{Field: "simulation_params.custom_start_time", Reason: err.Error()}
	}
	logrus.Infof("Setting contest %s start time to %s", client.ContestID(), start.Format(time.RFC3339))
	if err := client.PatchStart(ctx, start); err != nil {
		return fmt.Errorf("starting contest: %w", err)
	}

	// Dispatch
	recorder := sim.NewRecorder()
	scheduler, err := sim.NewScheduler(cfg.SchedulerConfig(), client, client, recorder, sim.NewMetrics(reg))
	if err != nil {
		return err
	}
	if err := scheduler.Initialize(contest, events); err != nil {
		return err
	}
	runErr := scheduler.Run(ctx)
	cancelled := sim.IsCancelled(runErr)
	if runErr != nil && !cancelled {
		return runErr
	}
	if !cancelled {
		logrus.Infof("Waiting %v for judging to settle...", cfg.Scheduler.JudgeGrace)
		if err := sleepCtx(ctx, cfg.Scheduler.JudgeGrace); err != nil {
			logrus.Warn("Interrupted while waiting for judging; reporting current state")
		}
	}

	// Reporting runs even after an interrupt, on a fresh deadline.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 4*cfg.HTTP.Timeout)
	defer cancel()
	in := fetchReportInputs(reportCtx, client)
	in.Outcomes = recorder.Outcomes()
	sort.Slice(in.Outcomes, func(i, j int) bool { return in.Outcomes[i].Seq < in.Outcomes[j].Seq })
	in.Summary = report.SummaryMeta{
		ContestID:   contest.ID,
		Seed:        cfg.Simulation.RandomSeed,
		Compression: cfg.Simulation.TimeCompressionFactor,
		Duration:    contest.Duration.String(),
		Cancelled:   cancelled,
		Transitions: report.Transitions(scheduler.Transitions()),
	}
	if _, err := report.Write(cfg.OutputDir, in); err != nil {
		return err
	}

	counts := scheduler.Counts()
	logrus.Infof("Events: %d confirmed, %d failed, %d skipped",
		counts[sim.StatusConfirmed], counts[sim.StatusFailed], counts[sim.StatusSkipped])
	if n := scheduler.Unfinished(); n > 0 {
		logrus.Warnf("%d event(s) never reached a final status", n)
	}
	if cancelled {
		logrus.Warnf("Simulation cancelled: %v", runErr)
	}
	return nil
}

// drawPlan draws a fresh plan over the contest duration and saves it to the
// output directory.
func drawPlan(cfg *Config, contest sim.Contest, contestTeams []sim.Team, problems []sim.Problem,
	artifacts map[string][]sim.SolutionArtifact, rng *sim.PartitionedRNG) ([]*sim.SubmissionEvent, error) {
	weights, err := cfg.Weights()
	if err != nil {
		return nil, err
	}
	params := workload.PlanParams{
		AvgSubsPerTeam: cfg.Simulation.AvgSubsPerTeam,
		Weights:        weights,
		Duration:       contest.Duration,
		Seed:           cfg.Simulation.RandomSeed,
	}
	events, err := workload.Plan(contestTeams, problems, artifacts, params, rng.ForSubsystem(sim.SubsystemPlanner))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	header := workload.NewPlanHeader(contest.ID, params, len(contestTeams), len(problems), len(events))
	if err := workload.ExportPlan(header, events,
		filepath.Join(cfg.OutputDir, planHeaderFile), filepath.Join(cfg.OutputDir, planDataFile)); err != nil {
		return nil, err
	}
	return events, nil
}

// loadSavedPlan reads the plan saved by an earlier run from dir. Every
// event's team must be known to this run.
func loadSavedPlan(dir string, contest sim.Contest, contestTeams []sim.Team,
	artifacts map[string][]sim.SolutionArtifact) ([]*sim.SubmissionEvent, error) {
	header, events, err := workload.LoadPlan(filepath.Join(dir, planHeaderFile), filepath.Join(dir, planDataFile), artifacts)
	if err != nil {
		return nil, fmt.Errorf("loading saved plan from %s: %w", dir, err)
	}
	if header.ContestID != "" && header.ContestID != contest.ID {
		logrus.Warnf("Saved plan was drawn for contest %s, replaying against %s", header.ContestID, contest.ID)
	}
	if header.Duration != contest.Duration.String() {
		logrus.Warnf("Saved plan covers %s but the contest lasts %v; later events are skipped", header.Duration, contest.Duration)
	}
	known := make(map[string]bool, len(contestTeams))
	for _, t := range contestTeams {
		known[t.ID] = true
	}
	for _, ev := range events {
		if !known[ev.TeamID] {
			return nil, &sim.PlanningError{Seed: header.Seed, Reason: fmt.Sprintf("saved plan submits for unknown team %q", ev.TeamID)}
		}
	}
	logrus.Infof("Replaying saved plan from %s: %d events (seed=%d)", dir, len(events), header.Seed)
	return events, nil
}

// prepareProblems loads the solution files and keeps the contest problems
// that have some.
func prepareProblems(ctx context.Context, client *domjudge.Client, cfg *Config) ([]sim.Problem, map[string][]sim.SolutionArtifact, error) {
	byDir, err := solutions.Load(cfg.SolutionsDir, cfg.LangMap())
	if err != nil {
		return nil, nil, err
	}
	remote, err := client.Problems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching problems: %w", err)
	}
	problems := make([]sim.Problem, 0, len(remote))
	for _, p := range remote {
		problems = append(problems, sim.Problem{ID: p.ID, Label: p.Label})
	}
	matched, artifacts, unmatched := solutions.Match(problems, byDir)
	if len(unmatched) > 0 {
		logrus.Warnf("No solutions for problem(s) %v; they get no submissions", unmatched)
	}
	if len(matched) == 0 {
		dirs := make([]string, 0, len(byDir))
		for d := range byDir {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		return nil, nil, &sim.PlanningError{
			Seed:   cfg.Simulation.RandomSeed,
			Reason: fmt.Sprintf("no contest problem matches the solution directories %v", dirs),
		}
	}
	logrus.Infof("Fetched %d matching problem(s)", len(matched))
	return matched, artifacts, nil
}

// prepareTeams collects the teams already on the scoreboard and, when
// team_generation.count is set, provides and registers generated ones.
func prepareTeams(ctx context.Context, client *domjudge.Client, cfg *Config, rng *sim.PartitionedRNG) ([]sim.Team, error) {
	var out []sim.Team
	seen := map[string]bool{}
	add := func(t sim.Team) {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}

	sb, err := client.Scoreboard(ctx)
	if err != nil {
		logrus.Warnf("Could not fetch scoreboard for existing teams: %v", err)
	} else {
		for _, id := range sb.TeamIDs() {
			add(sim.Team{ID: id})
		}
		logrus.Infof("Fetched %d existing team(s)", len(out))
	}

	if n := cfg.TeamGeneration.Count; n > 0 {
		gen := teams.NewGenerator(rng.SeedFor(sim.SubsystemTeams), cfg.TeamGeneration.AffiliationPool, cfg.TeamPassword)
		records, err := teams.Provide(cfg.TeamsCSV, n, gen)
		if err != nil {
			return nil, err
		}
		registered, err := teams.Register(ctx, client, records)
		if err != nil {
			return nil, err
		}
		for _, t := range registered {
			add(t)
		}
	}
	if len(out) == 0 {
		return nil, &sim.PlanningError{Seed: cfg.Simulation.RandomSeed, Reason: "no teams to submit for"}
	}
	return out, nil
}

// fetchReportInputs gathers the backend's final state. Anything that cannot
// be fetched is left nil and reported without.
func fetchReportInputs(ctx context.Context, client *domjudge.Client) report.Inputs {
	var in report.Inputs
	var err error
	if in.Scoreboard, err = client.Scoreboard(ctx); err != nil {
		logrus.Warnf("Could not fetch final scoreboard: %v", err)
		in.Scoreboard = nil
	}
	if in.Submissions, err = client.Submissions(ctx); err != nil {
		logrus.Warnf("Could not fetch submissions: %v", err)
		in.Submissions = nil
	}
	if in.Judgements, err = client.Judgements(ctx); err != nil {
		logrus.Warnf("Could not fetch judgements: %v", err)
		in.Judgements = nil
	}
	return in
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func init() {
	runCmd.Flags().StringVar(&replayPlanDir, "plan", "", "Replay the plan.yaml and plan.csv saved in this directory instead of drawing a new plan")
}
