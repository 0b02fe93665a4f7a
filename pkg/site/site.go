// Package site defines the Site Adapter capability contract (spec §6):
// the external collaborator a Core Scheduler dispatches Broker orders to.
package site

import "context"

// Adapter spawns and terminates machines at one site and observes their
// host-level state. Implementations update the registry fields for
// machines they own as part of their own polling loop. The scheduler calls
// only Spawn; it never calls Terminate, and it shrinks a site by draining
// working machines through that site's Integration Adapter.
type Adapter interface {
	Name() string
	Spawn(ctx context.Context, machineType string, count int) error
	Terminate(ctx context.Context, machineID string) error
}
