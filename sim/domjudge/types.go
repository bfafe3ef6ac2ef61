package domjudge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RelTime is a DOMjudge relative time such as "5:00:00.000" or "-0:15:00".
type RelTime time.Duration

// ParseRelTime parses "[-]h:mm:ss[.fff]".
func ParseRelTime(s string) (time.Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("relative time %q: want h:mm:ss[.fff]", orig)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("relative time %q: bad hours", orig)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("relative time %q: bad minutes", orig)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("relative time %q: bad seconds", orig)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)).Round(time.Millisecond)
	if neg {
		d = -d
	}
	return d, nil
}

// FormatRelTime renders d the way DOMjudge does.
func FormatRelTime(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	ms := d.Milliseconds()
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, ms/1000, ms%1000)
}

func (r *RelTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("relative time: %w", err)
	}
	d, err := ParseRelTime(s)
	if err != nil {
		return err
	}
	*r = RelTime(d)
	return nil
}

func (r RelTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatRelTime(time.Duration(r)))
}

// Contest is the contest resource of the DOMjudge API.
type Contest struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	FormalName               string     `json:"formal_name,omitempty"`
	StartTime                *time.Time `json:"start_time"`
	EndTime                  *time.Time `json:"end_time"`
	Duration                 RelTime    `json:"duration"`
	ScoreboardFreezeDuration *RelTime   `json:"scoreboard_freeze_duration"`
}

// FreezeDuration returns the scoreboard freeze length, 0 if none.
func (c *Contest) FreezeDuration() time.Duration {
	if c.ScoreboardFreezeDuration == nil {
		return 0
	}
	return time.Duration(*c.ScoreboardFreezeDuration)
}

// Problem is a contest problem.
type Problem struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	ShortName string `json:"short_name,omitempty"`
	Name      string `json:"name"`
}

// Team is the payload for creating a team.
type Team struct {
	ID          string `json:"id"`
	ICPCID      string `json:"icpc_id,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
}

// User is the payload for creating a user account.
type User struct {
	Username string
	Name     string
	Password string
	TeamID   string
	Roles    []string
}

// Submission is a submission as listed by the API.
type Submission struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"team_id"`
	ProblemID   string    `json:"problem_id"`
	LanguageID  string    `json:"language_id"`
	Time        time.Time `json:"time"`
	ContestTime string    `json:"contest_time"`
}

// Judgement is one judging of a submission. JudgementTypeID is nil while
// judging is in progress.
type Judgement struct {
	ID              string  `json:"id"`
	SubmissionID    string  `json:"submission_id"`
	JudgementTypeID *string `json:"judgement_type_id"`
	Valid           *bool   `json:"valid,omitempty"`
}

// Verdict returns the judgement type, or "pending" while judging.
func (j Judgement) Verdict() string {
	if j.JudgementTypeID == nil || *j.JudgementTypeID == "" {
		return "pending"
	}
	return *j.JudgementTypeID
}

// ScoreboardRow is one team's line on the scoreboard.
type ScoreboardRow struct {
	Rank   int    `json:"rank"`
	TeamID string `json:"team_id"`
	Score  struct {
		NumSolved int `json:"num_solved"`
		TotalTime int `json:"total_time"`
	} `json:"score"`
}

// Scoreboard keeps the raw document next to the parsed rows so it can be
// saved verbatim.
type Scoreboard struct {
	Raw  json.RawMessage `json:"-"`
	Rows []ScoreboardRow `json:"rows"`
}

// TeamIDs returns the team ids in scoreboard order.
func (s *Scoreboard) TeamIDs() []string {
	ids := make([]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		ids = append(ids, r.TeamID)
	}
	return ids
}
