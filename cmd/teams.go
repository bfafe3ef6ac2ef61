package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
	"github.com/joeMo942/domjudge-simulator/sim/teams"
)

var (
	teamsCount    int  // overrides team_generation.count
	teamsRegister bool // also create the teams on the server
)

// teamsCmd generates team records into the teams CSV and optionally
// registers them with DOMjudge
var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Generate team records and optionally register them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd, teamsRegister)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		if cmd.Flags().Changed("count") {
			cfg.TeamGeneration.Count = teamsCount
		}
		return provideTeams(cmd.Context(), cfg, teamsRegister)
	},
}

// provideTeams fills the teams CSV up to team_generation.count and, with
// register set, creates the teams and their users on the server.
func provideTeams(ctx context.Context, cfg *Config, register bool) error {
	if cfg.TeamGeneration.Count <= 0 {
		return &sim.ConfigError{Field: "team_generation.count", Reason: "must be positive"}
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Simulation.RandomSeed))
	gen := teams.NewGenerator(rng.SeedFor(sim.SubsystemTeams), cfg.TeamGeneration.AffiliationPool, cfg.TeamPassword)
	records, err := teams.Provide(cfg.TeamsCSV, cfg.TeamGeneration.Count, gen)
	if err != nil {
		return err
	}
	if !register {
		logrus.Infof("%d team(s) available in %s", len(records), cfg.TeamsCSV)
		return nil
	}
	client, err := domjudge.NewClient(cfg.ClientConfig())
	if err != nil {
		return err
	}
	_, err = teams.Register(ctx, client, records)
	return err
}

func init() {
	teamsCmd.Flags().IntVar(&teamsCount, "count", 0, "Number of teams (overrides team_generation.count)")
	teamsCmd.Flags().BoolVar(&teamsRegister, "register", false, "Register the teams with the DOMjudge server")
}
