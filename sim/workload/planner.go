package workload

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joeMo942/domjudge-simulator/sim"
)

// planNamespace scopes the name-based UUIDs of planned events.
var planNamespace = uuid.MustParse("6f0b7c1e-4d4a-5b7e-9a55-3c1f3f0e2d11")

// weightTolerance is how far submission weights may sum from 1.0.
const weightTolerance = 1e-6

// PlanParams configures submission planning.
type PlanParams struct {
	AvgSubsPerTeam float64                     // Poisson mean of submissions per team
	Weights        map[sim.OutcomeKind]float64 // probability of each outcome kind; sums to 1
	Duration       time.Duration               // contest duration; offsets fall in [0, Duration)
	Seed           int64                       // reported in errors and used to derive event IDs
}

// CanonicalWeights resolves alias keys such as "wa" or "tle" to their
// canonical outcome kinds. Two keys naming the same kind are rejected.
// Returns a *sim.ConfigError.
func CanonicalWeights(weights map[sim.OutcomeKind]float64) (map[sim.OutcomeKind]float64, error) {
	out := make(map[sim.OutcomeKind]float64, len(weights))
	for key, w := range weights {
		kind, err := sim.ParseOutcomeKind(string(key))
		if err != nil {
			return nil, &sim.ConfigError{Field: "submission_weights", Reason: err.Error()}
		}
		if _, dup := out[kind]; dup {
			return nil, &sim.ConfigError{Field: "submission_weights", Reason: fmt.Sprintf("%s given more than once", kind)}
		}
		out[kind] = w
	}
	return out, nil
}

// ValidateWeights checks that weights use known kinds (aliases included),
// name each kind once, are non-negative and sum to 1.0. Returns a
// *sim.ConfigError.
func ValidateWeights(weights map[sim.OutcomeKind]float64) error {
	if len(weights) == 0 {
		return &sim.ConfigError{Field: "submission_weights", Reason: "must not be empty"}
	}
	canonical, err := CanonicalWeights(weights)
	if err != nil {
		return err
	}
	total := 0.0
	for kind, w := range canonical {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return &sim.ConfigError{Field: "submission_weights." + string(kind), Reason: fmt.Sprintf("must be a finite number >= 0, got %v", w)}
		}
		total += w
	}
	if math.Abs(total-1.0) > weightTolerance {
		return &sim.ConfigError{Field: "submission_weights", Reason: fmt.Sprintf("must sum to 1.0, got %g", total)}
	}
	return nil
}

// problemPool is the planning view of one problem: its artifacts bucketed by
// kind and the weight vector restricted to the kinds that have artifacts.
type problemPool struct {
	id      string
	byKind  [][]*sim.SolutionArtifact // indexed like sim.OutcomeKinds
	weights []float64                 // indexed like sim.OutcomeKinds; 0 where no artifact exists
}

// Plan draws the submission timeline for a contest.
//
// Per team, in input order: a Poisson count of submissions, then for each
// submission a uniform problem, an outcome kind drawn over the weights of the
// kinds available for that problem, a uniform offset in [0, Duration) and a
// uniform artifact of that (problem, kind). Draws happen in exactly that
// order, so the same seed and inputs reproduce the same plan.
//
// artifacts is keyed by problem ID. Returns the events sorted by
// (Offset, Seq), or a *sim.PlanningError if some problem cannot be sampled.
func Plan(teams []sim.Team, problems []sim.Problem, artifacts map[string][]sim.SolutionArtifact, params PlanParams, rng sim.RNG) ([]*sim.SubmissionEvent, error) {
	if params.Duration <= 0 {
		return nil, &sim.PlanningError{Seed: params.Seed, Reason: fmt.Sprintf("contest duration must be positive, got %v", params.Duration)}
	}
	if params.AvgSubsPerTeam < 0 || math.IsNaN(params.AvgSubsPerTeam) || math.IsInf(params.AvgSubsPerTeam, 0) {
		return nil, &sim.ConfigError{Field: "avg_subs_per_team", Reason: fmt.Sprintf("must be a finite number >= 0, got %v", params.AvgSubsPerTeam)}
	}
	if err := ValidateWeights(params.Weights); err != nil {
		return nil, err
	}
	weights, err := CanonicalWeights(params.Weights)
	if err != nil {
		return nil, err
	}
	if len(problems) == 0 {
		return nil, &sim.PlanningError{Seed: params.Seed, Reason: "no problems to submit to"}
	}

	pools, err := buildPools(problems, artifacts, weights, params.Seed)
	if err != nil {
		return nil, err
	}

	var events []*sim.SubmissionEvent
	var seq uint64
	for _, team := range teams {
		k := rng.Poisson(params.AvgSubsPerTeam)
		for i := 0; i < k; i++ {
			pool := pools[uniformIndex(rng, len(pools))]
			kindIdx := rng.Categorical(pool.weights)
			offset := uniformOffset(rng, params.Duration)
			candidates := pool.byKind[kindIdx]
			art := candidates[uniformIndex(rng, len(candidates))]

			events = append(events, sim.NewSubmissionEvent(EventID(params.Seed, seq), seq, team.ID, offset, art))
			seq++
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
	return events, nil
}

// buildPools indexes artifacts per problem and kind and rejects problems that
// cannot produce any submission.
func buildPools(problems []sim.Problem, artifacts map[string][]sim.SolutionArtifact, weights map[sim.OutcomeKind]float64, seed int64) ([]problemPool, error) {
	pools := make([]problemPool, 0, len(problems))
	for _, p := range problems {
		arts := artifacts[p.ID]
		if len(arts) == 0 {
			return nil, &sim.PlanningError{ProblemID: p.ID, Seed: seed, Reason: "no solution artifacts"}
		}
		pool := problemPool{
			id:      p.ID,
			byKind:  make([][]*sim.SolutionArtifact, len(sim.OutcomeKinds)),
			weights: make([]float64, len(sim.OutcomeKinds)),
		}
		kindIdx := make(map[sim.OutcomeKind]int, len(sim.OutcomeKinds))
		for i, k := range sim.OutcomeKinds {
			kindIdx[k] = i
		}
		for i := range arts {
			a := &arts[i]
			if a.ProblemID != p.ID {
				return nil, &sim.PlanningError{ProblemID: p.ID, Seed: seed,
					Reason: fmt.Sprintf("artifact %s belongs to problem %q", a.FileName, a.ProblemID)}
			}
			idx, ok := kindIdx[a.Kind]
			if !ok {
				return nil, &sim.PlanningError{ProblemID: p.ID, Seed: seed,
					Reason: fmt.Sprintf("artifact %s has unknown outcome kind %q", a.FileName, a.Kind)}
			}
			pool.byKind[idx] = append(pool.byKind[idx], a)
		}
		available := 0.0
		for i, k := range sim.OutcomeKinds {
			if len(pool.byKind[i]) > 0 {
				pool.weights[i] = weights[k]
				available += pool.weights[i]
			}
		}
		if available <= 0 {
			return nil, &sim.PlanningError{ProblemID: p.ID, Seed: seed,
				Reason: "every outcome kind with an artifact has zero weight"}
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// EventID derives the stable identifier of the seq-th planned event.
func EventID(seed int64, seq uint64) string {
	return uuid.NewSHA1(planNamespace, []byte(fmt.Sprintf("%d/%d", seed, seq))).String()
}

func uniformIndex(rng sim.RNG, n int) int {
	i := int(rng.Uniform() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

func uniformOffset(rng sim.RNG, d time.Duration) time.Duration {
	off := time.Duration(rng.Uniform() * float64(d))
	if off >= d {
		off = d - 1
	}
	return off
}
