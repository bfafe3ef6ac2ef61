// Defines the static contest data model: the contest window, teams, problems
// and the solution artifacts that synthetic submissions are built from.

package sim

import (
	"fmt"
	"time"
)

// OutcomeKind is the verdict a synthetic submission is expected to receive.
// It is chosen before dispatch and determines which artifact is submitted.
type OutcomeKind string

const (
	OutcomeCorrect      OutcomeKind = "correct"
	OutcomeWrongAnswer  OutcomeKind = "wrong_answer"
	OutcomeTimeLimit    OutcomeKind = "time_limit"
	OutcomeCompileError OutcomeKind = "compile_error"
)

// OutcomeKinds lists every outcome kind in canonical order. Planning iterates
// kinds in this order so categorical draws are reproducible.
var OutcomeKinds = []OutcomeKind{
	OutcomeCorrect,
	OutcomeWrongAnswer,
	OutcomeTimeLimit,
	OutcomeCompileError,
}

// outcomeAliases maps the short names used in configs and file names.
var outcomeAliases = map[string]OutcomeKind{
	"correct":       OutcomeCorrect,
	"ac":            OutcomeCorrect,
	"accepted":      OutcomeCorrect,
	"wrong_answer":  OutcomeWrongAnswer,
	"wa":            OutcomeWrongAnswer,
	"time_limit":    OutcomeTimeLimit,
	"tle":           OutcomeTimeLimit,
	"timelimit":     OutcomeTimeLimit,
	"compile_error": OutcomeCompileError,
	"ce":            OutcomeCompileError,
}

// ParseOutcomeKind resolves a canonical name or alias (e.g. "wa", "tle").
func ParseOutcomeKind(name string) (OutcomeKind, error) {
	if k, ok := outcomeAliases[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown outcome kind %q; valid: correct, wa, tle, ce", name)
}

// Contest is the timed competition tracked by the backend.
// StartTime is nil until the contest has been started; once observed set it
// does not change for the rest of the run.
type Contest struct {
	ID             string
	StartTime      *time.Time
	Duration       time.Duration
	FreezeDuration time.Duration
}

// FreezeStart returns the contest offset at which the scoreboard freezes.
func (c Contest) FreezeStart() time.Duration {
	return c.Duration - c.FreezeDuration
}

// HasFreeze reports whether the contest has a freeze window inside its duration.
func (c Contest) HasFreeze() bool {
	return c.FreezeDuration > 0 && c.FreezeDuration <= c.Duration
}

// Team is a registered contestant.
type Team struct {
	ID          string
	Name        string
	Affiliation string
}

// Problem is a contest problem as known to the backend.
type Problem struct {
	ID    string
	Label string
}

// SolutionArtifact is a read-only source file that is expected to receive
// the given outcome when judged for ProblemID.
type SolutionArtifact struct {
	ProblemID  string
	Kind       OutcomeKind
	LanguageID string
	FileName   string
	Content    []byte
}
