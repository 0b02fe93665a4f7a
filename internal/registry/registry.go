// Package registry implements the Machine Registry (spec §4.2): the
// authoritative, event-emitting store tracking every machine through its
// lifecycle. It is an explicit value owned by the Core Scheduler and passed
// to adapters by reference (spec §9 "Process-wide registry" design note) —
// there is no package-level singleton.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"roced"
	"roced/internal/clock"
	"roced/internal/eventbus"
)

// MonitoringSink receives a record of every status transition (spec §4.2
// "emits a monitoring record"). Implementations live in internal/monitoring;
// Registry only depends on this narrow interface.
type MonitoringSink interface {
	RecordStatusChange(site, machineID string, old, new roced.MachineStatus, at time.Time, elapsed time.Duration)
}

type noopSink struct{}

func (noopSink) RecordStatusChange(string, string, roced.MachineStatus, roced.MachineStatus, time.Time, time.Duration) {
}

// ErrDuplicateID is returned when NewMachine is called with an id already
// present in the registry (spec §3 invariant 4).
var ErrDuplicateID = fmt.Errorf("registry: duplicate machine id")

// ErrNotFound is returned when an operation targets an absent machine id.
var ErrNotFound = fmt.Errorf("registry: machine not found")

// Filter selects machines by conjunction (spec §4.2 get_machines). A nil
// field matches everything.
type Filter struct {
	Site        *string
	Status      *roced.MachineStatus
	MachineType *string
}

func (f Filter) matches(r roced.MachineRecord) bool {
	if f.Site != nil && r.Site != *f.Site {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.MachineType != nil && r.MachineType != *f.MachineType {
		return false
	}
	return true
}

// Registry is the in-memory machine store.
type Registry struct {
	mu       sync.Mutex
	machines map[string]roced.MachineRecord
	bus      *eventbus.Bus
	clock    clock.Clock
	sink     MonitoringSink
}

// New creates an empty registry. bus and sink may be nil, in which case
// events are dropped and no monitoring record is emitted — useful for
// tests that only exercise FSM mechanics.
func New(bus *eventbus.Bus, clk clock.Clock, sink MonitoringSink) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Registry{
		machines: make(map[string]roced.MachineRecord),
		bus:      bus,
		clock:    clk,
		sink:     sink,
	}
}

func (r *Registry) publish(e roced.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// NewMachine creates a record with empty history and publishes
// EventNewMachine. A supplied id must be unique; an omitted (empty) id is
// generated as a collision-free UUID.
func (r *Registry) NewMachine(id string) (string, error) {
	r.mu.Lock()
	if id == "" {
		for {
			candidate := uuid.NewString()
			if _, exists := r.machines[candidate]; !exists {
				id = candidate
				break
			}
		}
	} else if _, exists := r.machines[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	r.machines[id] = roced.MachineRecord{ID: id}
	r.mu.Unlock()

	r.publish(roced.Event{Kind: roced.EventNewMachine, MachineID: id})
	return id, nil
}

// RemoveMachine deletes the record and publishes EventMachineRemoved. It
// fails if the id is absent (spec §4.2).
func (r *Registry) RemoveMachine(id string) error {
	r.mu.Lock()
	if _, exists := r.machines[id]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.machines, id)
	r.mu.Unlock()

	r.publish(roced.Event{Kind: roced.EventMachineRemoved, MachineID: id})
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (roced.MachineRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.machines[id]
	return rec, ok
}

// GetMachines returns every record matching the filter's conjunction.
func (r *Registry) GetMachines(f Filter) map[string]roced.MachineRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]roced.MachineRecord)
	for id, rec := range r.machines {
		if f.matches(rec) {
			out[id] = rec
		}
	}
	return out
}

// TimeSinceLastChange returns the wall-clock delta since the last status
// write, or 0 if the machine has never had one (spec §4.2).
func (r *Registry) TimeSinceLastChange(id string) (time.Duration, error) {
	r.mu.Lock()
	rec, ok := r.machines[id]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.StatusLastUpdate.IsZero() {
		return 0, nil
	}
	return r.clock.Now().Sub(rec.StatusLastUpdate), nil
}

// UpdateStatus writes a new status, appends exactly one history entry,
// updates status_last_update, publishes StatusChanged, and emits a
// monitoring record (spec §4.2 invariant 2). old is the zero MachineStatus
// on the first transition a machine ever makes, and any such first
// transition is legal; subsequent transitions must satisfy
// MachineStatus.CanTransition.
func (r *Registry) UpdateStatus(id string, newStatus roced.MachineStatus) error {
	r.mu.Lock()
	rec, ok := r.machines[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	old := rec.Status
	if old != 0 && !old.CanTransition(newStatus) {
		r.mu.Unlock()
		return fmt.Errorf("registry: illegal transition %s -> %s for machine %s", old, newStatus, id)
	}

	now := r.clock.Now()
	var elapsed time.Duration
	if !rec.StatusLastUpdate.IsZero() {
		elapsed = now.Sub(rec.StatusLastUpdate)
	}

	rec.StatusHistory = append(rec.StatusHistory, roced.StatusChangeEntry{
		OldStatus:    old,
		NewStatus:    newStatus,
		Timestamp:    now,
		ElapsedInOld: elapsed,
	})
	rec.Status = newStatus
	rec.StatusLastUpdate = now
	r.machines[id] = rec
	site := rec.Site
	r.mu.Unlock()

	r.publish(roced.Event{Kind: roced.EventStatusChanged, MachineID: id, OldStatus: old, NewStatus: newStatus})
	r.sink.RecordStatusChange(site, id, old, newStatus, now, elapsed)
	return nil
}

// SetFields mutates non-status fields (site, machine type, host IP, ...)
// in place under the registry lock. mutate must not touch Status,
// StatusLastUpdate, or StatusHistory — use UpdateStatus for those.
func (r *Registry) SetFields(id string, mutate func(rec *roced.MachineRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.machines[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mutate(&rec)
	r.machines[id] = rec
	return nil
}

// SetSlots replaces slot_status, recomputes machine_cores and machine_load
// (spec §3 invariant 3: load = allocated slots / total slots, ill-defined
// when empty — reported as 0 in that case), and returns the load before
// and after the write so the caller can decide whether to touch
// status_last_update (spec §4.4: only bumped when load increases above
// zero — a decision that belongs to the Integration Adapter, not here).
func (r *Registry) SetSlots(id string, slots []roced.Slot) (oldLoad, newLoad float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.machines[id]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	oldLoad = rec.MachineLoad
	rec.SlotStatus = slots
	rec.MachineCores = len(slots)
	rec.MachineLoad = computeLoad(slots)
	r.machines[id] = rec
	return oldLoad, rec.MachineLoad, nil
}

func computeLoad(slots []roced.Slot) float64 {
	if len(slots) == 0 {
		return 0
	}
	allocated := 0
	for _, s := range slots {
		if s.State == roced.SlotAllocated {
			allocated++
		}
	}
	return float64(allocated) / float64(len(slots))
}

// TouchStatusLastUpdate bumps status_last_update to at without recording a
// status transition. Used by the Integration Adapter's documented
// "load-increase" timestamp quirk (spec §9 note 5).
func (r *Registry) TouchStatusLastUpdate(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.machines[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.StatusLastUpdate = at
	r.machines[id] = rec
	return nil
}
