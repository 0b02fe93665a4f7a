// Package broker implements the Site Broker (spec §4.5): translation of a
// per-type required-delta into per-site per-type spawn/shutdown orders,
// cost-ranked. Site capacity (SiteInfo.MaxMachines) is not consulted: the
// whole delta goes to the first site that supports the machine type.
package broker

import (
	"log/slog"
	"sort"
	"time"

	"roced"
	"roced/internal/clock"
)

// Config holds the options named in spec §6 for a Broker.
type Config struct {
	MaxInstances  map[string]int // per machine type; 0/absent means unbounded
	ShutdownDelay time.Duration
}

// Broker turns per-type demand into per-site per-type signed orders. It
// holds the shutdown-delay arming timers across cycles, so a Broker
// instance must be reused call-to-call within one scheduler.
type Broker struct {
	cfg   Config
	clock clock.Clock
	armed map[string]time.Time // machineType -> when a shutdown was first desired
}

// New creates a Broker. A nil clock defaults to clock.RealClock{}.
func New(cfg Config, clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Broker{cfg: cfg, clock: clk, armed: make(map[string]time.Time)}
}

// Plan computes per-site per-type orders for one cycle (spec §4.5's
// five-step algorithm). demand maps machine type to its TypeDemand; sites
// is the candidate list with cost and capability.
func (b *Broker) Plan(demand map[string]roced.TypeDemand, sites []roced.SiteInfo) map[string]map[string]int {
	out := make(map[string]map[string]int)

	byCostAsc := append([]roced.SiteInfo(nil), sites...)
	sort.SliceStable(byCostAsc, func(i, j int) bool { return byCostAsc[i].Cost < byCostAsc[j].Cost })
	byCostDesc := append([]roced.SiteInfo(nil), sites...)
	sort.SliceStable(byCostDesc, func(i, j int) bool { return byCostDesc[i].Cost > byCostDesc[j].Cost })

	for machineType, d := range demand {
		if d.Required == nil {
			// spec §4.5 step 5: null required produces no orders either way.
			delete(b.armed, machineType)
			continue
		}

		required := *d.Required
		delta := required - d.Actual
		if maxInstances, capped := b.cfg.MaxInstances[machineType]; capped && maxInstances > 0 {
			delta = minInt(maxInstances-d.Actual, delta)
		}

		switch {
		case delta > 0:
			delete(b.armed, machineType)
			b.spawn(out, machineType, delta, byCostAsc)
		case delta < 0:
			b.maybeShutdown(out, machineType, delta, byCostDesc)
		default:
			delete(b.armed, machineType)
		}
	}
	return out
}

func (b *Broker) spawn(out map[string]map[string]int, machineType string, delta int, sitesCheapFirst []roced.SiteInfo) {
	for _, s := range sitesCheapFirst {
		if !s.Supports(machineType) {
			continue
		}
		addOrder(out, s.Name, machineType, delta)
		return
	}
	slog.Warn("broker: no site with capacity for spawn", "machine_type", machineType, "delta", delta)
}

func (b *Broker) maybeShutdown(out map[string]map[string]int, machineType string, delta int, sitesExpensiveFirst []roced.SiteInfo) {
	armedAt, isArmed := b.armed[machineType]
	now := b.clock.Now()
	if !isArmed {
		b.armed[machineType] = now
		if b.cfg.ShutdownDelay > 0 {
			return
		}
	} else if now.Sub(armedAt) <= b.cfg.ShutdownDelay {
		return
	}

	for _, s := range sitesExpensiveFirst {
		if !s.Supports(machineType) {
			continue
		}
		addOrder(out, s.Name, machineType, delta)
		delete(b.armed, machineType)
		return
	}
	slog.Warn("broker: no site with capacity for shutdown", "machine_type", machineType, "delta", delta)
}

func addOrder(out map[string]map[string]int, site, machineType string, delta int) {
	if out[site] == nil {
		out[site] = make(map[string]int)
	}
	out[site][machineType] = delta
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
