package sim

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical inputs MUST produce
// identical plans.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemPlanner is the RNG subsystem for submission planning.
	// Uses the master seed directly so --seed maps 1:1 onto the plan.
	SubsystemPlanner = "planner"

	// SubsystemTeams is the RNG subsystem for fake team generation.
	SubsystemTeams = "teams"
)

// === RNG ===

// RNG is the source of randomness consumed by the planner. The same seed and
// the same call sequence MUST reproduce the same draws.
type RNG interface {
	// Uniform returns a float in [0, 1).
	Uniform() float64
	// Poisson returns a non-negative count with the given mean.
	Poisson(mean float64) int
	// Categorical returns an index drawn with probability proportional to
	// weights[i], or -1 if no weight is positive.
	Categorical(weights []float64) int
}

// Stream implements RNG on top of a seeded *rand.Rand.
// Thread-safety: NOT thread-safe. One stream per run.
type Stream struct {
	r *rand.Rand
}

// NewStream returns a Stream seeded with seed.
func NewStream(seed int64) *Stream {
	return &Stream{r: rand.New(rand.NewSource(seed))}
}

// Uniform returns a float in [0, 1).
func (s *Stream) Uniform() float64 {
	return s.r.Float64()
}

// poissonChunk bounds the mean handled by one Knuth loop; exp(-30) is still
// far from float64 underflow.
const poissonChunk = 30.0

// Poisson samples Poisson(mean) with Knuth's multiplication method. Larger
// means are split into chunks and summed, which is exact because the sum of
// independent Poisson variables is Poisson.
func (s *Stream) Poisson(mean float64) int {
	if mean <= 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0
	}
	k := 0
	for mean > poissonChunk {
		k += s.knuth(poissonChunk)
		mean -= poissonChunk
	}
	return k + s.knuth(mean)
}

func (s *Stream) knuth(mean float64) int {
	limit := math.Exp(-mean)
	k := 0
	p := s.r.Float64()
	for p > limit {
		k++
		p *= s.r.Float64()
	}
	return k
}

// Categorical draws one index proportionally to weights. Non-positive weights
// are never chosen. Exactly one uniform draw is consumed when any weight is
// positive, none otherwise.
func (s *Stream) Categorical(weights []float64) int {
	total := 0.0
	last := -1
	for i, w := range weights {
		if w > 0 {
			total += w
			last = i
		}
	}
	if last < 0 {
		return -1
	}
	u := s.r.Float64() * total
	acc := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if u < acc {
			return i
		}
	}
	// Floating point slack: u can land on total after rounding.
	return last
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemPlanner: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*Stream
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*Stream),
	}
}

// ForSubsystem returns a deterministically-seeded stream for the named subsystem.
// The same subsystem name always returns the same *Stream instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *Stream {
	if s, ok := p.subsystems[name]; ok {
		return s
	}
	s := NewStream(p.SeedFor(name))
	p.subsystems[name] = s
	return s
}

// SeedFor returns the derived seed for a subsystem without creating a stream.
// Used to seed third-party generators (e.g. the fake-name generator).
func (p *PartitionedRNG) SeedFor(name string) int64 {
	if name == SubsystemPlanner {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
