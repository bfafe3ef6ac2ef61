// Package sim provides the discrete-event engine that replays a synthetic
// contest workload against a DOMjudge-style judging backend.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - contest.go: Contest, Team, Problem, SolutionArtifact and the outcome kinds
//   - event.go: SubmissionEvent and its status lifecycle (pending → dispatched → confirmed | failed, or skipped)
//   - queue.go: EventQueue, an index-addressed heap ordered by (offset, sequence)
//   - clock.go: Clock, the mapping between simulated contest offsets and wall deadlines
//   - scheduler.go: the event loop (liveness wait, freeze transition, bounded dispatch, retries, cancellation)
//
// # Architecture
//
// The sim package defines the data model, the boundary interfaces and the
// scheduler; everything that talks to the outside world lives in
// sub-packages:
//   - sim/workload/: planning of submission events from statistical distributions
//   - sim/domjudge/: DOMjudge v4 REST client (contest status, submissions, admin calls)
//   - sim/solutions/: discovery of solution artifacts on disk
//   - sim/teams/: fake team generation, CSV persistence and registration
//   - sim/report/: result export and run summaries
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - RNG: uniform, Poisson and categorical draws from one seeded stream
//   - ContestStatusAPI: observe whether the contest has started
//   - SubmissionAPI: submit one solution on behalf of a team
//   - ResultCollector: receive per-event outcomes for later export
package sim
