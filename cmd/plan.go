package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/solutions"
	"github.com/joeMo942/domjudge-simulator/sim/teams"
	"github.com/joeMo942/domjudge-simulator/sim/workload"
)

var (
	planOut      string        // CSV destination; empty writes to stdout
	planTeams    int           // number of teams when no teams CSV exists
	planDuration time.Duration // overrides simulation_params.contest_duration
)

// planCmd draws the submission plan offline, without contacting DOMjudge
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the submission plan for a seed without contacting DOMjudge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		if cmd.Flags().Changed("duration") {
			cfg.Simulation.ContestDuration = planDuration
		}
		if cmd.Flags().Changed("teams") {
			cfg.TeamGeneration.Count = planTeams
		}

		var w io.Writer = os.Stdout
		if planOut != "" {
			f, err := os.Create(planOut)
			if err != nil {
				return fmt.Errorf("creating plan file: %w", err)
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		return dryRun(cfg, w)
	},
}

// dryRun plans against the local solution directories (one problem per
// directory) and the teams CSV or, failing that, generated teams.
func dryRun(cfg *Config, w io.Writer) error {
	byDir, err := solutions.Load(cfg.SolutionsDir, cfg.LangMap())
	if err != nil {
		return err
	}
	problems := make([]sim.Problem, 0, len(byDir))
	for dir := range byDir {
		problems = append(problems, sim.Problem{ID: dir, Label: dir})
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].ID < problems[j].ID })

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Simulation.RandomSeed))
	contestTeams, err := offlineTeams(cfg, rng)
	if err != nil {
		return err
	}

	weights, err := cfg.Weights()
	if err != nil {
		return err
	}
	params := workload.PlanParams{
		AvgSubsPerTeam: cfg.Simulation.AvgSubsPerTeam,
		Weights:        weights,
		Duration:       cfg.Simulation.ContestDuration,
		Seed:           cfg.Simulation.RandomSeed,
	}
	events, err := workload.Plan(contestTeams, problems, byDir, params, rng.ForSubsystem(sim.SubsystemPlanner))
	if err != nil {
		return err
	}
	if err := workload.WritePlanCSV(w, events); err != nil {
		return err
	}

	byKind := map[sim.OutcomeKind]int{}
	for _, ev := range events {
		byKind[ev.Kind]++
	}
	logrus.Infof("Planned %d submissions for %d teams over %v (seed=%d)",
		len(events), len(contestTeams), params.Duration, params.Seed)
	for _, k := range sim.OutcomeKinds {
		logrus.Infof("  %-14s %d", k, byKind[k])
	}
	return nil
}

// offlineTeams reads the teams CSV without modifying it, topping up with
// generated teams to team_generation.count.
func offlineTeams(cfg *Config, rng *sim.PartitionedRNG) ([]sim.Team, error) {
	records, err := teams.LoadCSV(cfg.TeamsCSV)
	if err != nil {
		return nil, err
	}
	if n := cfg.TeamGeneration.Count; n > len(records) {
		gen := teams.NewGenerator(rng.SeedFor(sim.SubsystemTeams), cfg.TeamGeneration.AffiliationPool, cfg.TeamPassword)
		records = append(records, gen.Generate(n-len(records), len(records))...)
	} else if n > 0 {
		records = records[:n]
	}
	out := make([]sim.Team, len(records))
	for i, r := range records {
		out[i] = r.Team()
	}
	return out, nil
}

func init() {
	planCmd.Flags().StringVar(&planOut, "out", "", "Write the plan CSV to this file instead of stdout")
	planCmd.Flags().IntVar(&planTeams, "teams", 0, "Number of teams (overrides team_generation.count)")
	planCmd.Flags().DurationVar(&planDuration, "duration", 0, "Contest duration (overrides simulation_params.contest_duration)")
}
