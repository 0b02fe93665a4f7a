// Package clockhealth periodically checks the scheduler host's wall clock
// against an NTP pool. The control loop's cycle timings, deadlines, and
// shutdown-delay timers all assume a sane wall clock; this package exposes
// that assumption as an observable health signal rather than silently
// trusting it.
package clockhealth

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"roced/internal/check"
	"roced/internal/clock"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 5 * time.Minute
	defaultThreshold = 500 * time.Millisecond
)

// Phase is the checker's own small FSM, distinct from the machine lifecycle.
type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	CheckError
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// Transition validates phase movement: any phase may move to Healthy,
// UnhealthyOffset or CheckError; any other target (Unchecked or a zero
// Phase) is rejected and p is returned unchanged.
func (p Phase) Transition(to Phase) Phase {
	ok := to == Healthy || to == UnhealthyOffset || to == CheckError
	check.Assertf(ok, "clockhealth transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

// Status is the outcome of the most recent check.
type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// Checker polls an NTP pool on an interval and reports clock-offset health.
type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock

	// CheckFunc overrides the NTP query, for tests.
	CheckFunc func() Status
}

// New creates a Checker against the default NTP pool.
func New(clk clock.Clock) *Checker {
	check.Assert(clk != nil, "clockhealth.New: clock must not be nil")
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		status:    Status{Phase: Unchecked},
		clock:     clk,
	}
}

// Run blocks, checking immediately and then on every interval, until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	if c.CheckFunc != nil {
		c.mu.Lock()
		c.status = c.CheckFunc()
		c.mu.Unlock()
		return
	}

	resp, err := ntp.Query(c.pool)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if err != nil {
		c.status = Status{Error: err.Error(), Phase: CheckError, CheckedAt: now}
		return
	}

	phase := UnhealthyOffset
	if resp.ClockOffset.Abs() < c.threshold {
		phase = Healthy
	}
	c.status = Status{Offset: resp.ClockOffset, Phase: phase, CheckedAt: now}
}

// Status returns the outcome of the most recent check.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
