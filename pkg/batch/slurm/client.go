// Package slurm implements the batch.Client contract against a Slurm
// scheduler, plus the classification and array-multiplicity helpers the
// Requirement Adapter needs (spec §4.3). The transport used to actually
// reach Slurm (SSH to sinfo/squeue, or a direct library call) is injected
// through Transport — spec §9 note 4 leaves that choice unspecified.
package slurm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"roced/pkg/batch"
)

// Transport performs the raw queries against a Slurm cluster. Two
// implementations are equally valid: one shelling out over SSH to sinfo and
// squeue, another linking a Slurm client library directly.
type Transport interface {
	ListJobs(ctx context.Context) ([]batch.Job, error)
	ListNodes(ctx context.Context) (map[string]batch.Node, error)
	DrainNode(ctx context.Context, name string) error
}

// Client adapts a Transport to batch.Client, rate-limiting calls so a
// misbehaving cycle cadence cannot hammer the cluster's scheduler daemon.
type Client struct {
	transport Transport
	limiter   *rate.Limiter
}

var _ batch.Client = (*Client)(nil)

// New wraps transport with a limiter allowing ratePerSecond calls, bursting
// up to burst.
func New(transport Transport, ratePerSecond float64, burst int) *Client {
	return &Client{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (c *Client) ListJobs(ctx context.Context) ([]batch.Job, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("slurm: rate limit wait: %w", err)
	}
	return c.transport.ListJobs(ctx)
}

func (c *Client) ListNodes(ctx context.Context) (map[string]batch.Node, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("slurm: rate limit wait: %w", err)
	}
	return c.transport.ListNodes(ctx)
}

func (c *Client) DrainNode(ctx context.Context, name string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slurm: rate limit wait: %w", err)
	}
	return c.transport.DrainNode(ctx, name)
}
