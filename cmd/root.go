package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Persistent CLI flags, shared by every subcommand
	configPath  string // YAML configuration file
	seed        int64  // Overrides simulation_params.random_seed when set
	logLevel    string // Overrides log.level when set
	logFile     string // Overrides log.file when set
	outputDir   string // Overrides output_dir when set
	metricsAddr string // Address for the Prometheus endpoint; empty disables it
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "domjudge-sim",
	Short:         "Synthetic submission load for a DOMjudge contest",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the persistent flag overrides.
// Logging is set up from the resulting configuration.
func loadConfig(cmd *cobra.Command, needBackend bool) (*Config, io.Closer, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Simulation.RandomSeed = seed
	}
	if flags.Changed("log") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("output") {
		cfg.OutputDir = outputDir
	}
	if err := cfg.Validate(needBackend); err != nil {
		return nil, nil, err
	}
	closer, err := setupLogging(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	logrus.Infof("Loaded configuration from %s (seed=%d)", configPath, cfg.Simulation.RandomSeed)
	return cfg, closer, nil
}

// init sets up CLI flags and subcommands
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration file")
	pf.Int64Var(&seed, "seed", 42, "Seed for planning and team generation (overrides the config)")
	pf.StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFile, "log-file", "", "Log file, in addition to stdout (overrides the config)")
	pf.StringVar(&outputDir, "output", "", "Directory for plan and report files (overrides the config)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(runCmd, planCmd, teamsCmd)
}
