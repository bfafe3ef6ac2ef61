// Package solutions discovers the solution artifacts that synthetic
// submissions are built from.
//
// Layout: <dir>/<problem>/<outcome>[_n|-n].<ext>, for example
// solutions/A/ac.cpp, solutions/A/wa_2.py or solutions/B/tle-1.java. The
// outcome is one of the names accepted by sim.ParseOutcomeKind and the
// extension is mapped to a backend language id.
package solutions

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joeMo942/domjudge-simulator/sim"
)

// DefaultLangMap maps file extensions to DOMjudge language ids.
var DefaultLangMap = map[string]string{
	".c":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".java": "java",
	".kt":   "kotlin",
	".py":   "python3",
}

// variantSuffix matches the "_2" / "-3" that distinguishes several files of
// the same outcome.
var variantSuffix = regexp.MustCompile(`[_-][0-9]+$`)

// Load walks dir and returns the artifacts per problem directory name.
// Hidden entries are ignored; files with an unknown outcome or extension are
// skipped with a warning. Artifacts are ordered by file name.
func Load(dir string, langMap map[string]string) (map[string][]sim.SolutionArtifact, error) {
	if len(langMap) == 0 {
		langMap = DefaultLangMap
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading solutions directory: %w", err)
	}

	out := make(map[string][]sim.SolutionArtifact)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		problem := e.Name()
		arts, err := loadProblem(filepath.Join(dir, problem), problem, langMap)
		if err != nil {
			return nil, err
		}
		if len(arts) == 0 {
			logrus.Warnf("Solutions for problem %s: no usable files, ignoring problem", problem)
			continue
		}
		out[problem] = arts
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no solution files found in %s", dir)
	}
	logrus.Infof("Loaded solutions for %d problem(s) from %s", len(out), dir)
	return out, nil
}

func loadProblem(dir, problem string, langMap map[string]string) ([]sim.SolutionArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var arts []sim.SolutionArtifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		kind, lang, err := classify(name, langMap)
		if err != nil {
			logrus.Warnf("Skipping %s: %v", filepath.Join(dir, name), err)
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading solution %s: %w", name, err)
		}
		arts = append(arts, sim.SolutionArtifact{
			ProblemID:  problem,
			Kind:       kind,
			LanguageID: lang,
			FileName:   name,
			Content:    content,
		})
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].FileName < arts[j].FileName })
	return arts, nil
}

// classify derives the outcome kind from the part before the first '.' and
// the language from the last extension.
func classify(name string, langMap map[string]string) (sim.OutcomeKind, string, error) {
	dot := strings.IndexByte(name, '.')
	if dot <= 0 {
		return "", "", fmt.Errorf("no extension")
	}
	stem := variantSuffix.ReplaceAllString(strings.ToLower(name[:dot]), "")
	kind, err := sim.ParseOutcomeKind(stem)
	if err != nil {
		return "", "", err
	}
	ext := strings.ToLower(filepath.Ext(name))
	lang, ok := langMap[ext]
	if !ok {
		return "", "", fmt.Errorf("no language mapped for extension %q", ext)
	}
	return kind, lang, nil
}

// Match pairs contest problems with solution directories, by problem id
// first and then by label (case-insensitive). Returned artifacts are keyed
// and tagged by problem id. Problems without solutions are reported in
// unmatched and left out.
func Match(problems []sim.Problem, byDir map[string][]sim.SolutionArtifact) (matched []sim.Problem, artifacts map[string][]sim.SolutionArtifact, unmatched []string) {
	lowerDirs := make(map[string]string, len(byDir))
	for d := range byDir {
		lowerDirs[strings.ToLower(d)] = d
	}
	artifacts = make(map[string][]sim.SolutionArtifact)
	for _, p := range problems {
		dir, ok := "", false
		if _, found := byDir[p.ID]; found {
			dir, ok = p.ID, true
		} else if p.Label != "" {
			dir, ok = lowerDirs[strings.ToLower(p.Label)]
		}
		if !ok {
			unmatched = append(unmatched, p.ID)
			continue
		}
		arts := make([]sim.SolutionArtifact, len(byDir[dir]))
		copy(arts, byDir[dir])
		for i := range arts {
			arts[i].ProblemID = p.ID
		}
		artifacts[p.ID] = arts
		matched = append(matched, p)
	}
	return matched, artifacts, unmatched
}
