package clockhealth

import (
	"context"
	"time"

	"testing"

	"roced/internal/clock/clocktest"
)

func TestCheckerUsesCheckFuncOverride(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	c := New(clk)

	want := Status{Offset: 10 * time.Millisecond, Phase: Healthy, CheckedAt: clk.Now()}
	c.CheckFunc = func() Status { return want }

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	defer cancel()

	deadline := time.After(2 * time.Second)
	for {
		if got := c.Status(); got.Phase == Healthy {
			if got.Offset != want.Offset {
				t.Fatalf("Offset = %s, want %s", got.Offset, want.Offset)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("checker never reported healthy status")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNewDefaultsToUnchecked(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	c := New(clk)
	if c.Status().Phase != Unchecked {
		t.Fatalf("initial phase = %s, want unchecked", c.Status().Phase)
	}
}

func TestTransitionRejectsZeroTarget(t *testing.T) {
	var p Phase
	got := Healthy.Transition(p)
	if got != Healthy {
		t.Fatalf("illegal transition target should be rejected, got %s", got)
	}
}
