package cmd

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
	"github.com/joeMo942/domjudge-simulator/sim/workload"
)

//go:embed config.schema.json
var configSchema []byte

const configSchemaURL = "config.schema.json"

// customStartLayout is the layout of simulation_params.custom_start_time,
// followed by an IANA zone name.
const customStartLayout = "2006-01-02 15:04:05"

// Config is the YAML configuration file.
// All sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	DomjudgeURL    string           `yaml:"domjudge_url"`
	ContestID      string           `yaml:"contest_id"`
	AdminUser      string           `yaml:"admin_user"`
	AdminPass      string           `yaml:"admin_pass"`
	TeamPassword   string           `yaml:"team_password"`
	SolutionsDir   string           `yaml:"solutions_dir"`
	OutputDir      string           `yaml:"output_dir"`
	TeamsCSV       string           `yaml:"teams_csv"`
	TeamGeneration TeamGeneration   `yaml:"team_generation"`
	Simulation     SimulationParams `yaml:"simulation_params"`
	Scheduler      SchedulerParams  `yaml:"scheduler"`
	HTTP           HTTPParams       `yaml:"http"`
	Log            LogParams        `yaml:"log"`
}

type TeamGeneration struct {
	Count           int      `yaml:"count"`
	AffiliationPool []string `yaml:"affiliation_pool"`
}

type SimulationParams struct {
	RandomSeed            int64              `yaml:"random_seed"`
	AvgSubsPerTeam        float64            `yaml:"avg_subs_per_team"`
	TimeCompressionFactor float64            `yaml:"time_compression_factor"`
	SubmissionWeights     map[string]float64 `yaml:"submission_weights"`
	LangMap               map[string]string  `yaml:"lang_map"`
	ContestStartDelaySec  *int               `yaml:"contest_start_delay_sec"`
	CustomStartTime       string             `yaml:"custom_start_time"`
	ContestDuration       time.Duration      `yaml:"contest_duration"` // used by the offline plan command
}

type SchedulerParams struct {
	MaxInFlight         int           `yaml:"max_in_flight"`
	MaxRetries          *int          `yaml:"max_retries"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	LivenessTimeout     time.Duration `yaml:"liveness_timeout"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
	JudgeGrace          time.Duration `yaml:"judge_grace"`
}

type HTTPParams struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type LogParams struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// defaultWeights is used when submission_weights is absent.
var defaultWeights = map[string]float64{
	"correct":       0.5,
	"wrong_answer":  0.3,
	"time_limit":    0.1,
	"compile_error": 0.1,
}

// LoadConfig reads, schema-checks, strictly decodes and defaults the
// configuration at path. Semantic checks are left to Validate.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// validateSchema checks the document against the embedded JSON schema.
// YAML is converted through JSON so the validator sees JSON types.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(configSchemaURL, bytes.NewReader(configSchema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(configSchemaURL)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return &sim.ConfigError{Field: "schema", Reason: err.Error()}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SolutionsDir == "" {
		c.SolutionsDir = "solutions"
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.TeamsCSV == "" {
		c.TeamsCSV = "teams.csv"
	}
	if c.TeamPassword == "" {
		c.TeamPassword = "team_password"
	}

	s := &c.Simulation
	if s.TimeCompressionFactor == 0 {
		s.TimeCompressionFactor = 1
	}
	if len(s.SubmissionWeights) == 0 {
		s.SubmissionWeights = make(map[string]float64, len(defaultWeights))
		for k, v := range defaultWeights {
			s.SubmissionWeights[k] = v
		}
	}
	if s.ContestStartDelaySec == nil {
		delay := 15
		s.ContestStartDelaySec = &delay
	}
	if s.ContestDuration <= 0 {
		s.ContestDuration = 5 * time.Hour
	}

	d := sim.DefaultSchedulerConfig()
	sc := &c.Scheduler
	if sc.MaxInFlight <= 0 {
		sc.MaxInFlight = d.MaxInFlight
	}
	if sc.MaxRetries == nil {
		retries := d.MaxRetries
		sc.MaxRetries = &retries
	}
	if sc.RetryInitialBackoff <= 0 {
		sc.RetryInitialBackoff = d.RetryInitialBackoff
	}
	if sc.RetryMaxBackoff <= 0 {
		sc.RetryMaxBackoff = d.RetryMaxBackoff
	}
	if sc.DispatchTimeout <= 0 {
		sc.DispatchTimeout = d.DispatchTimeout
	}
	if sc.PollInterval <= 0 {
		sc.PollInterval = d.PollInterval
	}
	if sc.LivenessTimeout <= 0 {
		sc.LivenessTimeout = d.LivenessTimeout
	}
	if sc.JudgeGrace <= 0 {
		sc.JudgeGrace = 30 * time.Second
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.RequestsPerSecond <= 0 {
		c.HTTP.RequestsPerSecond = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.File == "" {
		c.Log.File = "simulation.log"
	}
}

// Validate runs the semantic checks the schema cannot express. With
// needBackend, the connection settings are required too.
func (c *Config) Validate(needBackend bool) error {
	if needBackend {
		if c.DomjudgeURL == "" {
			return &sim.ConfigError{Field: "domjudge_url", Reason: "required"}
		}
		if c.ContestID == "" {
			return &sim.ConfigError{Field: "contest_id", Reason: "required"}
		}
	}
	if err := sim.ValidateCompression(c.Simulation.TimeCompressionFactor); err != nil {
		return err
	}
	weights, err := c.Weights()
	if err != nil {
		return err
	}
	if err := workload.ValidateWeights(weights); err != nil {
		return err
	}
	for ext := range c.Simulation.LangMap {
		if !strings.HasPrefix(ext, ".") {
			return &sim.ConfigError{Field: "simulation_params.lang_map", Reason: fmt.Sprintf("key %q must start with '.'", ext)}
		}
	}
	if c.Simulation.CustomStartTime != "" {
		if _, err := ParseCustomStartTime(c.Simulation.CustomStartTime); err != nil {
			return &sim.ConfigError{Field: "simulation_params.custom_start_time", Reason: err.Error()}
		}
	}
	if c.Scheduler.RetryMaxBackoff < c.Scheduler.RetryInitialBackoff {
		return &sim.ConfigError{Field: "scheduler.retry_max_backoff", Reason: "must be >= retry_initial_backoff"}
	}
	return nil
}

// Weights resolves submission_weights keys (canonical names or aliases such
// as "wa") to outcome kinds.
func (c *Config) Weights() (map[sim.OutcomeKind]float64, error) {
	out := make(map[sim.OutcomeKind]float64, len(c.Simulation.SubmissionWeights))
	for name, w := range c.Simulation.SubmissionWeights {
		kind, err := sim.ParseOutcomeKind(strings.ToLower(name))
		if err != nil {
			return nil, &sim.ConfigError{Field: "simulation_params.submission_weights", Reason: err.Error()}
		}
		if _, dup := out[kind]; dup {
			return nil, &sim.ConfigError{Field: "simulation_params.submission_weights", Reason: fmt.Sprintf("%s given more than once", kind)}
		}
		out[kind] = w
	}
	return out, nil
}

// LangMap returns the configured extension map, or the default one.
func (c *Config) LangMap() map[string]string {
	if len(c.Simulation.LangMap) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Simulation.LangMap))
	for ext, lang := range c.Simulation.LangMap {
		out[strings.ToLower(ext)] = lang
	}
	return out
}

// SchedulerConfig builds the scheduler tunables.
func (c *Config) SchedulerConfig() sim.SchedulerConfig {
	return sim.SchedulerConfig{
		CompressionFactor:   c.Simulation.TimeCompressionFactor,
		PollInterval:        c.Scheduler.PollInterval,
		LivenessTimeout:     c.Scheduler.LivenessTimeout,
		RunTimeout:          c.Scheduler.RunTimeout,
		MaxInFlight:         c.Scheduler.MaxInFlight,
		MaxRetries:          *c.Scheduler.MaxRetries,
		RetryInitialBackoff: c.Scheduler.RetryInitialBackoff,
		RetryMaxBackoff:     c.Scheduler.RetryMaxBackoff,
		DispatchTimeout:     c.Scheduler.DispatchTimeout,
		Seed:                c.Simulation.RandomSeed,
	}
}

// ClientConfig builds the backend client settings.
func (c *Config) ClientConfig() domjudge.Config {
	return domjudge.Config{
		BaseURL:           c.DomjudgeURL,
		ContestID:         c.ContestID,
		AdminUser:         c.AdminUser,
		AdminPass:         c.AdminPass,
		TeamPassword:      c.TeamPassword,
		Timeout:           c.HTTP.Timeout,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
	}
}

// ParseCustomStartTime parses "YYYY-MM-DD HH:MM:SS Zone/Name".
func ParseCustomStartTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("expected 'YYYY-MM-DD HH:MM:SS Zone/Name', got %q", s)
	}
	loc, err := time.LoadLocation(s[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown time zone %q: %w", s[i+1:], err)
	}
	t, err := time.ParseInLocation(customStartLayout, strings.TrimSpace(s[:i]), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected 'YYYY-MM-DD HH:MM:SS Zone/Name': %w", err)
	}
	return t, nil
}

// StartTime returns when the contest should start: the custom start time if
// configured, otherwise now plus contest_start_delay_sec.
func (c *Config) StartTime(now time.Time) (time.Time, error) {
	if c.Simulation.CustomStartTime != "" {
		return ParseCustomStartTime(c.Simulation.CustomStartTime)
	}
	return now.Add(time.Duration(*c.Simulation.ContestStartDelaySec) * time.Second).Truncate(time.Second), nil
}
