package workload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joeMo942/domjudge-simulator/sim"
)

// PlanHeader captures the inputs a saved plan was drawn from.
type PlanHeader struct {
	Version        int                `yaml:"plan_version"`
	CreatedAt      string             `yaml:"created_at,omitempty"`
	ContestID      string             `yaml:"contest_id,omitempty"`
	Seed           int64              `yaml:"seed"`
	Duration       string             `yaml:"duration"`
	AvgSubsPerTeam float64            `yaml:"avg_subs_per_team"`
	Weights        map[string]float64 `yaml:"submission_weights"`
	Teams          int                `yaml:"teams"`
	Problems       int                `yaml:"problems"`
	Events         int                `yaml:"events"`
}

// PlanVersion is the current saved-plan format.
const PlanVersion = 1

// NewPlanHeader describes a plan drawn with params.
func NewPlanHeader(contestID string, params PlanParams, teams, problems, events int) *PlanHeader {
	weights := make(map[string]float64, len(params.Weights))
	for k, w := range params.Weights {
		weights[string(k)] = w
	}
	return &PlanHeader{
		Version:        PlanVersion,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		ContestID:      contestID,
		Seed:           params.Seed,
		Duration:       params.Duration.String(),
		AvgSubsPerTeam: params.AvgSubsPerTeam,
		Weights:        weights,
		Teams:          teams,
		Problems:       problems,
		Events:         events,
	}
}

// CSV column headers for saved plans.
var planColumns = []string{
	"seq", "event_id", "team_id", "problem_id", "offset_ms", "outcome_kind", "language_id", "file_name",
}

// ExportPlan writes the plan header (YAML) and events (CSV) to separate files.
func ExportPlan(header *PlanHeader, events []*sim.SubmissionEvent, headerPath, dataPath string) error {
	headerData, err := yaml.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling plan header: %w", err)
	}
	if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
		return fmt.Errorf("writing plan header: %w", err)
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("creating plan data file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return WritePlanCSV(file, events)
}

// WritePlanCSV writes one row per event. Offsets are integer milliseconds.
func WritePlanCSV(w io.Writer, events []*sim.SubmissionEvent) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(planColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, ev := range events {
		fileName := ""
		if ev.Artifact != nil {
			fileName = ev.Artifact.FileName
		}
		row := []string{
			strconv.FormatUint(ev.Seq, 10),
			ev.ID,
			ev.TeamID,
			ev.ProblemID,
			strconv.FormatInt(ev.Offset.Milliseconds(), 10),
			string(ev.Kind),
			ev.LanguageID(),
			fileName,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", ev.Seq, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadPlan reads a saved plan back and rebinds every event to its artifact.
func LoadPlan(headerPath, dataPath string, artifacts map[string][]sim.SolutionArtifact) (*PlanHeader, []*sim.SubmissionEvent, error) {
	headerData, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading plan header: %w", err)
	}
	var header PlanHeader
	if err := yaml.Unmarshal(headerData, &header); err != nil {
		return nil, nil, fmt.Errorf("parsing plan header: %w", err)
	}
	if header.Version != PlanVersion {
		return nil, nil, fmt.Errorf("unsupported plan_version %d (want %d)", header.Version, PlanVersion)
	}

	file, err := os.Open(dataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening plan data: %w", err)
	}
	defer func() { _ = file.Close() }()

	events, err := ReadPlanCSV(file, artifacts)
	if err != nil {
		return nil, nil, err
	}
	return &header, events, nil
}

// ReadPlanCSV parses rows written by WritePlanCSV. Each row must name an
// artifact present in artifacts (matched by problem and file name).
func ReadPlanCSV(r io.Reader, artifacts map[string][]sim.SolutionArtifact) ([]*sim.SubmissionEvent, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(planColumns)

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	var events []*sim.SubmissionEvent
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		seq, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad seq %q: %w", line, row[0], err)
		}
		offsetMs, err := strconv.ParseInt(row[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad offset_ms %q: %w", line, row[4], err)
		}
		art := findArtifact(artifacts[row[3]], row[7])
		if art == nil {
			return nil, fmt.Errorf("line %d: no artifact %q for problem %q", line, row[7], row[3])
		}
		events = append(events, sim.NewSubmissionEvent(row[1], seq, row[2], time.Duration(offsetMs)*time.Millisecond, art))
	}
	return events, nil
}

func findArtifact(arts []sim.SolutionArtifact, fileName string) *sim.SolutionArtifact {
	for i := range arts {
		if arts[i].FileName == fileName {
			return &arts[i]
		}
	}
	return nil
}
