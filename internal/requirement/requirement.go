// Package requirement implements the Requirement Adapter (spec §4.3):
// translation of live batch-system queue state into a non-negative required
// machine count per machine type, memoised through the Caching Wrapper so the Core
// Scheduler can call it once per cycle at negligible cost.
package requirement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"roced/internal/cache"
	"roced/internal/clock"
	"roced/pkg/batch"
	"roced/pkg/batch/slurm"
)

// Config holds the options named in spec §6 for a Requirement Adapter.
type Config struct {
	SlurmPartition  string
	MachineType     string
	CoresPerMachine int
}

// Adapter computes the required machine count for one machine type from one
// batch-system client. OnEvent/OnFailure are optional hooks mirroring the
// teacher's reconcile-worker convention, letting a caller observe adapter
// internals without a hard logging dependency.
type Adapter struct {
	cfg    Config
	client batch.Client
	cache  *cache.Wrapper[fetchResult]

	OnEvent   func(kind, message string)
	OnFailure func(err error)
}

type fetchResult struct {
	requiredCPUs   int
	dependencyCPUs int
}

// New creates an Adapter wrapping client's job listing with a
// (validity, redundancy) cache (spec §4.3 "the adapter is memoised").
func New(cfg Config, client batch.Client, validity, redundancy time.Duration, clk clock.Clock) *Adapter {
	a := &Adapter{cfg: cfg, client: client}
	a.cache = cache.New(a.fetch, validity, redundancy, clk)
	return a
}

func (a *Adapter) emit(kind, message string) {
	if a.OnEvent != nil {
		a.OnEvent(kind, message)
	}
	slog.Debug("requirement adapter event", "event", kind, "message", message)
}

func (a *Adapter) fail(err error) {
	if a.OnFailure != nil {
		a.OnFailure(err)
	}
	slog.Warn("requirement adapter failure", "err", err)
}

func (a *Adapter) fetch(ctx context.Context) (fetchResult, error) {
	jobs, err := a.client.ListJobs(ctx)
	if err != nil {
		return fetchResult{}, fmt.Errorf("requirement: list jobs: %w", err)
	}

	jobs = slurm.FilterPartition(jobs, a.cfg.SlurmPartition)
	required, dependency, unknown := slurm.RequiredCPUs(jobs)
	for range unknown {
		a.emit("job.unknown_state", "ignored job with unrecognised state")
	}
	return fetchResult{requiredCPUs: required, dependencyCPUs: dependency}, nil
}

// RequiredDelta returns the machine type's required count — the number of
// machines the live queue calls for, derived from required_cpus rounded up
// to whole machines — or nil if the queue fetch failed (spec §4.3
// contract: "null ⇒ unknown, take no spawn action"). This is the value fed
// into the Broker's per-type demand as Required (spec §3's data model, and
// the §8 end-to-end scenarios, both treat Required as a non-negative
// count). The adapter produces no signed value; the signed delta is
// computed by the Broker from Required and Actual.
func (a *Adapter) RequiredDelta(ctx context.Context) (*int, error) {
	result, err := a.cache.Get(ctx)
	if err != nil {
		a.fail(err)
		return nil, nil
	}

	if a.cfg.CoresPerMachine <= 0 {
		return nil, fmt.Errorf("requirement: cores_per_machine must be positive, got %d", a.cfg.CoresPerMachine)
	}

	machines := int(math.Ceil(float64(result.requiredCPUs) / float64(a.cfg.CoresPerMachine)))
	a.emit("delta.computed", fmt.Sprintf("required_cpus=%d dependency_cpus=%d required_machines=%d", result.requiredCPUs, result.dependencyCPUs, machines))
	return &machines, nil
}
