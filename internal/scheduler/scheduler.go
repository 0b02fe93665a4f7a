// Package scheduler implements the Core Scheduler (spec §4.6): the cycle
// driver that ties the Requirement Adapter, Site Broker, Integration
// Adapter, and external Site Adapters together around the Machine
// Registry.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"roced"
	"roced/internal/broker"
	"roced/internal/clock"
	"roced/internal/integration"
	"roced/internal/metrics"
	"roced/internal/registry"
	"roced/internal/requirement"
	"roced/pkg/site"
)

var tracer trace.Tracer = otel.Tracer("roced/scheduler")

// RequirementSource pairs one Requirement Adapter with the machine type it
// answers for; one Requirement Adapter config may name several machine
// types sharing a batch client, so the scheduler keeps these flattened.
type RequirementSource struct {
	MachineType string
	Adapter     *requirement.Adapter
}

// Scheduler drives the control loop: requirement fetch, broker planning,
// order dispatch, integration reconcile, persistence (spec §4.6 steps 1-6).
type Scheduler struct {
	Registry     *registry.Registry
	Requirements []RequirementSource
	Broker       *broker.Broker
	Integrations []*integration.Adapter // one per site
	Sites        map[string]site.Adapter
	SiteInfos    []roced.SiteInfo
	Metrics      *metrics.Metrics

	SnapshotPath string
	BackupPath   string
	CyclePeriod  time.Duration

	Clock clock.Clock
}

// New constructs a Scheduler. A nil clock defaults to clock.RealClock{}.
func New(reg *registry.Registry, b *broker.Broker, m *metrics.Metrics, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		Registry: reg,
		Broker:   b,
		Metrics:  m,
		Sites:    make(map[string]site.Adapter),
		Clock:    clk,
	}
}

// Run ticks RunCycle every CyclePeriod until ctx is cancelled. Cancellation
// is honoured only at cycle boundaries (spec §5): a cycle in flight always
// finishes before the loop exits.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.CyclePeriod)
	defer ticker.Stop()

	if err := s.RunCycle(ctx); err != nil {
		slog.Warn("scheduler: cycle failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				slog.Warn("scheduler: cycle failed", "err", err)
			}
		}
	}
}

// RunCycle executes one full control cycle (spec §4.6 steps 1-6; step 7,
// the sleep, is Run's ticker). External-I/O failures surface as null/no-op
// and do not abort the cycle (spec §5); an error returned by a Requirement
// Adapter ends the cycle before the broker step, without persistence.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	cycleCtx, span := tracer.Start(ctx, "roced.cycle")
	defer span.End()
	span.SetAttributes(attribute.Int("roced.requirement_adapters", len(s.Requirements)))

	start := s.Clock.Now()
	outcome := "ok"
	defer func() {
		s.recordCycleMetrics(start, outcome)
	}()

	fetchCtx, cancel := context.WithTimeout(cycleCtx, s.CyclePeriod)
	required, err := s.fetchRequired(fetchCtx)
	cancel()
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("scheduler: fetch required: %w", err)
	}

	demand := s.buildDemand(required)
	orders := s.Broker.Plan(demand, s.SiteInfos)
	s.dispatch(cycleCtx, orders)

	for _, adapter := range s.Integrations {
		if err := adapter.Reconcile(cycleCtx); err != nil {
			slog.Warn("scheduler: integration reconcile failed", "err", err)
			if s.Metrics != nil {
				s.Metrics.RecordAdapterFailure("integration")
			}
		}
	}

	s.reportMachineCounts()

	if s.SnapshotPath != "" {
		if err := s.Registry.Dump(s.SnapshotPath, s.BackupPath); err != nil {
			slog.Warn("scheduler: persist registry failed", "err", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// fetchRequired asks every Requirement Adapter for its required count
// concurrently (spec §5: "fetching the batch queue... may be performed
// concurrently"), bounded by ctx's deadline. A per-adapter error aborts
// the whole fetch; an adapter returning nil (unknown) does not.
func (s *Scheduler) fetchRequired(ctx context.Context) (map[string]*int, error) {
	results := make([]*int, len(s.Requirements))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.Requirements {
		i, src := i, src
		g.Go(func() error {
			v, err := src.Adapter.RequiredDelta(gctx)
			if err != nil {
				return fmt.Errorf("requirement %s: %w", src.MachineType, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*int, len(s.Requirements))
	for i, src := range s.Requirements {
		out[src.MachineType] = results[i]
	}
	return out, nil
}

// buildDemand derives actual from the registry (spec §4.6 step 2: counting
// machines in states booting through working) for every machine type the
// Requirement Adapters cover.
func (s *Scheduler) buildDemand(required map[string]*int) map[string]roced.TypeDemand {
	demand := make(map[string]roced.TypeDemand, len(required))
	for machineType, req := range required {
		mt := machineType
		actual := 0
		for _, rec := range s.Registry.GetMachines(registry.Filter{MachineType: &mt}) {
			if st := rec.Status.Normalize(); st >= roced.StatusBooting && st <= roced.StatusWorking {
				actual++
			}
		}
		demand[machineType] = roced.TypeDemand{Required: req, Actual: actual}
	}
	return demand
}

// dispatch hands the Broker's per-site per-type orders to the matching
// Site Adapter (spec §4.6 step 4): a positive delta spawns, a negative
// delta selects that many working machines at the site to drain.
func (s *Scheduler) dispatch(ctx context.Context, orders map[string]map[string]int) {
	for siteName, byType := range orders {
		adapter, ok := s.Sites[siteName]
		for machineType, delta := range byType {
			if s.Metrics != nil {
				s.Metrics.RecordOrder(siteName, machineType, delta)
			}
			if !ok {
				slog.Warn("scheduler: order for unknown site adapter", "site", siteName, "machine_type", machineType, "delta", delta)
				continue
			}
			if delta > 0 {
				if err := adapter.Spawn(ctx, machineType, delta); err != nil {
					slog.Warn("scheduler: spawn failed", "site", siteName, "machine_type", machineType, "err", err)
					if s.Metrics != nil {
						s.Metrics.RecordAdapterFailure("site")
					}
				}
				continue
			}
			s.drainMachines(ctx, siteName, machineType, -delta)
		}
	}
}

// drainMachines selects up to count working machines of machineType at
// siteName (oldest status_last_update first) and issues a drain
// instruction through that site's Integration Adapter.
func (s *Scheduler) drainMachines(ctx context.Context, siteName, machineType string, count int) {
	integrationAdapter := s.integrationFor(siteName)
	if integrationAdapter == nil {
		slog.Warn("scheduler: shutdown order for site with no integration adapter", "site", siteName)
		return
	}

	status := roced.StatusWorking
	candidates := s.Registry.GetMachines(registry.Filter{Site: &siteName, Status: &status, MachineType: &machineType})
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return candidates[ids[i]].StatusLastUpdate.Before(candidates[ids[j]].StatusLastUpdate)
	})

	if count > len(ids) {
		count = len(ids)
	}
	for _, id := range ids[:count] {
		if err := integrationAdapter.DrainMachine(ctx, id); err != nil {
			slog.Warn("scheduler: drain failed", "machine_id", id, "err", err)
		}
	}
}

func (s *Scheduler) integrationFor(siteName string) *integration.Adapter {
	for _, a := range s.Integrations {
		if a.SiteName() == siteName {
			return a
		}
	}
	return nil
}

func (s *Scheduler) reportMachineCounts() {
	if s.Metrics == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, rec := range s.Registry.GetMachines(registry.Filter{}) {
		counts[[2]string{rec.Site, rec.Status.Normalize().String()}]++
	}
	for key, n := range counts {
		s.Metrics.SetMachineCount(key[0], key[1], n)
	}
}

func (s *Scheduler) recordCycleMetrics(start time.Time, outcome string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.ObserveCycle(s.Clock.Now().Sub(start), outcome)
}
