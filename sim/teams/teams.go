// Package teams fabricates contest teams, persists them to a CSV file so
// repeated runs reuse the same accounts, and registers them with the backend.
package teams

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sirupsen/logrus"

	"github.com/joeMo942/domjudge-simulator/sim"
	"github.com/joeMo942/domjudge-simulator/sim/domjudge"
)

// DefaultGroupID is the team category new teams are placed in.
const DefaultGroupID = "participants"

// Record is one fabricated team and its login.
type Record struct {
	ID          string // e.g. team001; also the login name
	Number      int
	Name        string
	Affiliation string
	GroupID     string
	Username    string
	FullName    string
	Password    string
}

// Team returns the contest view of the record.
func (r Record) Team() sim.Team {
	return sim.Team{ID: r.ID, Name: r.Name, Affiliation: r.Affiliation}
}

// Generator fabricates deterministic team records.
type Generator struct {
	faker        *gofakeit.Faker
	affiliations []string
	password     string
}

// NewGenerator creates a generator. An empty affiliation pool is filled with
// ten fake company names.
func NewGenerator(seed int64, affiliationPool []string, password string) *Generator {
	f := gofakeit.New(seed)
	pool := append([]string(nil), affiliationPool...)
	if len(pool) == 0 {
		for i := 0; i < 10; i++ {
			pool = append(pool, f.Company())
		}
	}
	return &Generator{faker: f, affiliations: pool, password: password}
}

// Generate creates count records numbered from start+1.
func (g *Generator) Generate(count, start int) []Record {
	out := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		n := start + i + 1
		id := fmt.Sprintf("team%03d", n)
		out = append(out, Record{
			ID:          id,
			Number:      n,
			Name:        capitalize(g.faker.Adjective()) + " " + capitalize(g.faker.Animal()),
			Affiliation: g.affiliations[g.faker.Number(0, len(g.affiliations)-1)],
			GroupID:     DefaultGroupID,
			Username:    id,
			FullName:    g.faker.Name(),
			Password:    g.password,
		})
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

var csvColumns = []string{
	"id", "icpc_id", "label", "teamid", "name", "display_name",
	"affiliation", "group_id", "username", "user_fullname", "password",
}

// LoadCSV reads records from path. A missing file yields no records.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening teams file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f)
}

// ReadCSV parses records; columns are matched by header name.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading teams header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("teams file has no id column")
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading teams row %d: %w", line, err)
		}
		rec := Record{
			ID:          get(row, "id"),
			Name:        get(row, "name"),
			Affiliation: get(row, "affiliation"),
			GroupID:     get(row, "group_id"),
			Username:    get(row, "username"),
			FullName:    get(row, "user_fullname"),
			Password:    get(row, "password"),
		}
		if n := get(row, "teamid"); n != "" {
			rec.Number, err = strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("teams row %d: bad teamid %q", line, n)
			}
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("teams row %d: empty id", line)
		}
		if rec.Username == "" {
			rec.Username = rec.ID
		}
		if rec.GroupID == "" {
			rec.GroupID = DefaultGroupID
		}
		out = append(out, rec)
	}
	return out, nil
}

// AppendCSV appends records to path, writing the header if the file is new.
func AppendCSV(path string, records []Record) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening teams file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(csvColumns); err != nil {
			return err
		}
	}
	for _, r := range records {
		row := []string{
			r.ID, r.ID, r.ID, strconv.Itoa(r.Number), r.Name, r.Name,
			r.Affiliation, r.GroupID, r.Username, r.FullName, r.Password,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing team %s: %w", r.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// Provide returns count records: the first ones from the CSV at path, topped
// up with freshly generated records that are appended to the file.
func Provide(path string, count int, gen *Generator) ([]Record, error) {
	existing, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if len(existing) >= count {
		logrus.Infof("Using %d of %d teams from %s", count, len(existing), path)
		return existing[:count], nil
	}
	fresh := gen.Generate(count-len(existing), len(existing))
	if err := AppendCSV(path, fresh); err != nil {
		return nil, err
	}
	logrus.Infof("Loaded %d teams from %s, generated %d more", len(existing), path, len(fresh))
	return append(existing, fresh...), nil
}

// Registrar is the subset of the backend client used for registration.
type Registrar interface {
	CreateTeam(ctx context.Context, team domjudge.Team) (string, error)
	CreateUser(ctx context.Context, user domjudge.User) error
	AddTeamToContest(ctx context.Context, teamID string) error
}

// Register creates each team and its user account and attaches the team to
// the contest. Resources that already exist are fine; any other failure
// drops that team with a warning. Returns the teams that are usable.
func Register(ctx context.Context, api Registrar, records []Record) ([]sim.Team, error) {
	var out []sim.Team
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		log := logrus.WithField("team", r.ID)

		id, err := api.CreateTeam(ctx, domjudge.Team{
			ID:          r.ID,
			ICPCID:      r.ID,
			Label:       r.ID,
			Name:        r.Name,
			DisplayName: r.Name,
			Affiliation: r.Affiliation,
			GroupID:     r.GroupID,
		})
		switch {
		case err == nil:
			log.Infof("Created team %q", r.Name)
		case domjudge.AlreadyExists(err):
			id = r.ID
			log.Debug("Team already exists")
		default:
			log.Warnf("Could not create team: %v", err)
			continue
		}

		err = api.CreateUser(ctx, domjudge.User{
			Username: r.Username,
			Name:     r.FullName,
			Password: r.Password,
			TeamID:   id,
			Roles:    []string{"team"},
		})
		if err != nil && !domjudge.AlreadyExists(err) {
			log.Warnf("Could not create user %s: %v", r.Username, err)
			continue
		}

		if err := api.AddTeamToContest(ctx, id); err != nil && !domjudge.AlreadyExists(err) {
			log.Warnf("Could not add team to contest: %v", err)
		}
		out = append(out, sim.Team{ID: r.Username, Name: r.Name, Affiliation: r.Affiliation})
	}
	logrus.Infof("Registered %d of %d teams", len(out), len(records))
	return out, nil
}
