// Package integration implements the Integration Adapter (spec §4.4): the
// reconciler that drives the Machine Registry's lifecycle FSM from
// observed batch-system node state.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roced"
	"roced/internal/clock"
	"roced/internal/registry"
	"roced/pkg/batch"
)

// Config holds the options named in spec §6 for an Integration Adapter.
type Config struct {
	SiteName                  string
	SlurmPartition            string
	WaitPendingDisintegration time.Duration // slurm_wait_pd; accepted, not yet load-triggered (spec §9 note 3)
	WaitWorking               time.Duration // slurm_wait_working; accepted, not yet load-triggered (spec §9 note 3)
	Deadline                  time.Duration // slurm_deadline
}

// Adapter reconciles one site's machines against one batch-system client's
// node observations every cycle.
type Adapter struct {
	cfg    Config
	reg    *registry.Registry
	client batch.Client
	clock  clock.Clock

	OnEvent   func(kind, message string)
	OnFailure func(err error)
}

// New creates an Adapter for one site, wired to reg and client. A nil clock
// defaults to clock.RealClock{}.
func New(cfg Config, reg *registry.Registry, client batch.Client, clk clock.Clock) *Adapter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Adapter{cfg: cfg, reg: reg, client: client, clock: clk}
}

// SiteName returns the site this adapter reconciles (spec §6 "site_name").
func (a *Adapter) SiteName() string { return a.cfg.SiteName }

func (a *Adapter) emit(kind, message string) {
	if a.OnEvent != nil {
		a.OnEvent(kind, message)
	}
	slog.Debug("integration adapter event", "event", kind, "message", message)
}

func (a *Adapter) fail(err error) {
	if a.OnFailure != nil {
		a.OnFailure(err)
	}
	slog.Warn("integration adapter failure", "err", err)
}

// hostnameFor implements the deterministic host_ip -> batch hostname
// correlation (spec §4.4): dots become dashes, prefixed with "host-".
func hostnameFor(ip string) string {
	return "host-" + strings.ReplaceAll(ip, ".", "-")
}

// HandleEvent is the adapter's registry-event handler (subscribe it with
// eventbus.SubscriberFunc): on StatusChanged(*, *, up) for a machine at
// this adapter's site, transition it to integrating (spec §4.4 "Event
// handler").
func (a *Adapter) HandleEvent(e roced.Event) {
	if e.Kind != roced.EventStatusChanged || e.NewStatus != roced.StatusUp {
		return
	}
	rec, ok := a.reg.Get(e.MachineID)
	if !ok || rec.Site != a.cfg.SiteName {
		return
	}
	if err := a.reg.UpdateStatus(e.MachineID, roced.StatusIntegrating); err != nil {
		a.fail(fmt.Errorf("integration: advance %s to integrating: %w", e.MachineID, err))
	}
}

// Reconcile fetches the batch system's node list and advances every
// machine at this adapter's site through one cycle-idempotent step of the
// lifecycle FSM (spec §4.4). A fetch failure suppresses the entire pass —
// it is treated as "unknown", per spec §5.
func (a *Adapter) Reconcile(ctx context.Context) error {
	nodes, err := a.client.ListNodes(ctx)
	if err != nil {
		a.fail(fmt.Errorf("integration: list nodes: %w", err))
		return nil
	}

	site := a.cfg.SiteName
	machines := a.reg.GetMachines(registry.Filter{Site: &site})
	for id, rec := range machines {
		node, present := nodes[hostnameFor(rec.HostIP)]
		if err := a.reconcileOne(id, rec, node, present); err != nil {
			a.fail(fmt.Errorf("integration: reconcile %s: %w", id, err))
		}
	}
	return nil
}

func (a *Adapter) reconcileOne(id string, rec roced.MachineRecord, node batch.Node, present bool) error {
	switch rec.Status.Normalize() {
	case roced.StatusIntegrating:
		return a.reconcileIntegrating(id, node, present)
	case roced.StatusWorking:
		return a.reconcileWorking(id, node, present)
	case roced.StatusPendingDisintegration:
		return a.reconcilePendingDisintegration(id, present)
	case roced.StatusDisintegrating:
		return a.reg.UpdateStatus(id, roced.StatusDisintegrated)
	default:
		return nil
	}
}

func (a *Adapter) reconcileIntegrating(id string, node batch.Node, present bool) error {
	if present {
		slots := slotsFromNode(node)
		if _, _, err := a.reg.SetSlots(id, slots); err != nil {
			return err
		}
		if err := a.reg.SetFields(id, func(rec *roced.MachineRecord) { rec.MachineCores = len(slots) }); err != nil {
			return err
		}
		a.emit("machine.integrated", id)
		return a.reg.UpdateStatus(id, roced.StatusWorking)
	}

	elapsed, err := a.reg.TimeSinceLastChange(id)
	if err != nil {
		return err
	}
	if elapsed > a.cfg.Deadline {
		a.emit("machine.integration_timeout", id)
		return a.reg.UpdateStatus(id, roced.StatusDisintegrated)
	}
	return nil
}

func (a *Adapter) reconcileWorking(id string, node batch.Node, present bool) error {
	if !present {
		// May belong to another partition; spec §4.4 says do not transition.
		return nil
	}

	slots := slotsFromNode(node)
	oldLoad, newLoad, err := a.reg.SetSlots(id, slots)
	if err != nil {
		return err
	}
	// spec §4.4 / §9 note 5: update status_last_update whenever any slot is
	// allocated (load above zero), even absent a status transition —
	// preserved literally, including the resulting timestamp-drift it causes.
	if newLoad > 0 {
		if err := a.reg.TouchStatusLastUpdate(id, a.clock.Now()); err != nil {
			return err
		}
	}

	for _, s := range slots {
		if s.State == roced.SlotDraining || s.State == roced.SlotDrained {
			a.emit("machine.drain_detected", id)
			return a.reg.UpdateStatus(id, roced.StatusPendingDisintegration)
		}
	}
	return nil
}

func (a *Adapter) reconcilePendingDisintegration(id string, present bool) error {
	if present {
		return nil
	}
	return a.reg.UpdateStatus(id, roced.StatusDisintegrating)
}

func slotsFromNode(node batch.Node) []roced.Slot {
	slots := make([]roced.Slot, 0, node.CPUs)
	allocated := node.AllocCPUs
	for i := 0; i < node.CPUs; i++ {
		state := roced.SlotIdle
		switch {
		case node.State.Has(batch.NodeDraining):
			state = roced.SlotDraining
		case node.State.Has(batch.NodeDrained):
			state = roced.SlotDrained
		case allocated > 0:
			state = roced.SlotAllocated
			allocated--
		}
		slots = append(slots, roced.Slot{State: state})
	}
	return slots
}

// DrainMachine is the administrative drain instruction (spec §4.4): a
// no-op if the machine is already draining, otherwise it invokes the
// batch-system drain command.
func (a *Adapter) DrainMachine(ctx context.Context, id string) error {
	rec, ok := a.reg.Get(id)
	if !ok {
		return fmt.Errorf("integration: drain %s: %w", id, registry.ErrNotFound)
	}
	for _, s := range rec.SlotStatus {
		if s.State == roced.SlotDraining {
			return nil
		}
	}
	return a.client.DrainNode(ctx, hostnameFor(rec.HostIP))
}
