// Package roced defines the shared types that flow between the Machine
// Registry, the Integration and Requirement Adapters, and the Site Broker.
package roced

import "time"

// MachineStatus is a position in the machine lifecycle FSM (spec §4.2).
type MachineStatus uint8

const (
	StatusBooting MachineStatus = iota + 1
	StatusUp
	StatusIntegrating
	StatusWorking
	StatusPendingDisintegration
	StatusDisintegrating
	StatusDisintegrated
	// StatusDown is an alias of StatusDisintegrated, kept distinct here only
	// so callers that read "down" out of external systems have a value to
	// parse into before normalizing it away.
	StatusDown
)

func (s MachineStatus) String() string {
	switch s {
	case StatusBooting:
		return "booting"
	case StatusUp:
		return "up"
	case StatusIntegrating:
		return "integrating"
	case StatusWorking:
		return "working"
	case StatusPendingDisintegration:
		return "pending-disintegration"
	case StatusDisintegrating:
		return "disintegrating"
	case StatusDisintegrated:
		return "disintegrated"
	case StatusDown:
		return "disintegrated"
	default:
		return "unknown"
	}
}

// Normalize collapses the down/disintegrated alias (spec §4.2).
func (s MachineStatus) Normalize() MachineStatus {
	if s == StatusDown {
		return StatusDisintegrated
	}
	return s
}

// CanTransition reports whether old -> new is a legal lifecycle move,
// including the two permitted regressions (pending-disintegration ->
// working re-activation, and the stuck/vanished timeout fast-forwards to
// disintegrated).
func (old MachineStatus) CanTransition(to MachineStatus) bool {
	old = old.Normalize()
	to = to.Normalize()
	switch old {
	case StatusBooting:
		return to == StatusUp
	case StatusUp:
		return to == StatusIntegrating
	case StatusIntegrating:
		return to == StatusWorking || to == StatusDisintegrated
	case StatusWorking:
		return to == StatusPendingDisintegration
	case StatusPendingDisintegration:
		return to == StatusWorking || to == StatusDisintegrating
	case StatusDisintegrating:
		return to == StatusDisintegrated
	case StatusDisintegrated:
		return false
	default:
		return false
	}
}

// SlotState is the allocation state of a single core.
type SlotState uint8

const (
	SlotAllocated SlotState = iota + 1
	SlotIdle
	SlotDraining
	SlotDrained
)

func (s SlotState) String() string {
	switch s {
	case SlotAllocated:
		return "allocated"
	case SlotIdle:
		return "idle"
	case SlotDraining:
		return "draining"
	case SlotDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Slot is one core's (state, activity) pair — spec §3 "slot_status".
type Slot struct {
	State    SlotState
	Activity string
}

// StatusChangeEntry is one append-only history record (spec §3 invariant 2).
type StatusChangeEntry struct {
	OldStatus      MachineStatus // zero value means "no previous status"
	NewStatus      MachineStatus
	Timestamp      time.Time
	ElapsedInOld   time.Duration
}

// MachineRecord is the authoritative per-machine record (spec §3).
type MachineRecord struct {
	ID                string
	Status            MachineStatus
	StatusLastUpdate  time.Time
	StatusHistory     []StatusChangeEntry
	Site              string
	SiteType          string
	MachineType       string
	MachineCores      int
	MachineLoad       float64
	HostIP            string
	Hostname          string
	Gateway           string // optional
	VPNAddress        string // optional
	SlotStatus        []Slot
}

// HasPrevious reports whether this is not the record's first status write.
func (e StatusChangeEntry) HasPrevious() bool {
	return e.OldStatus != 0
}

// EventKind identifies the kind of registry event (spec §4.1).
type EventKind uint8

const (
	EventNewMachine EventKind = iota + 1
	EventMachineRemoved
	EventStatusChanged
)

func (k EventKind) String() string {
	switch k {
	case EventNewMachine:
		return "new-machine"
	case EventMachineRemoved:
		return "machine-removed"
	case EventStatusChanged:
		return "status-changed"
	default:
		return "unknown"
	}
}

// Event is a single registry event delivered synchronously to subscribers.
type Event struct {
	Kind      EventKind
	MachineID string
	OldStatus MachineStatus // valid only for EventStatusChanged
	NewStatus MachineStatus // valid only for EventStatusChanged
}

// SiteInfo is a read-only input to the Site Broker (spec §3).
type SiteInfo struct {
	Name                string
	Cost                float64 // lower is cheaper
	MaxMachines         int     // 0 means unbounded
	SupportedTypes      map[string]bool
}

// Supports reports whether this site can host the given machine type.
func (s SiteInfo) Supports(machineType string) bool {
	return s.SupportedTypes[machineType]
}

// TypeDemand is the Broker's per-machine-type demand input (spec §3).
// Required == nil means "suppress new requests" (a failure state).
type TypeDemand struct {
	Required *int
	Actual   int
}

// Order is a single Broker directive: spawn (positive) or shut down
// (negative) signedCount machines of Type at Site.
type Order struct {
	Site        string
	MachineType string
	SignedCount int
}
