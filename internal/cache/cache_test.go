package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"roced/internal/clock/clocktest"
)

func TestGetWithinValidityDoesNotCallFn(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	calls := 0
	w := New(func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}, 10*time.Second, 5*time.Second, clk)

	for i := 0; i < 3; i++ {
		v, err := w.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v != 42 {
			t.Fatalf("v = %d, want 42", v)
		}
		clk.Advance(time.Second)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (served from cache within validity)", calls)
	}
}

func TestGetPastValidityRefreshesOnSuccess(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	calls := 0
	w := New(func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}, 10*time.Second, 5*time.Second, clk)

	v, _ := w.Get(context.Background())
	if v != 1 {
		t.Fatalf("first call v = %d, want 1", v)
	}

	clk.Advance(11 * time.Second)
	v, err := w.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 2 {
		t.Fatalf("v = %d, want 2 (refreshed)", v)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestGetWithinRedundancyServesStaleOnFailure(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	fail := false
	wantErr := errors.New("transient")
	w := New(func(ctx context.Context) (int, error) {
		if fail {
			return 0, wantErr
		}
		return 7, nil
	}, 10*time.Second, 5*time.Second, clk)

	if v, err := w.Get(context.Background()); err != nil || v != 7 {
		t.Fatalf("seed call: v=%d err=%v", v, err)
	}

	clk.Advance(12 * time.Second) // past validity, within redundancy
	fail = true
	v, err := w.Get(context.Background())
	if err != nil {
		t.Fatalf("want stale value served, got error: %v", err)
	}
	if v != 7 {
		t.Fatalf("v = %d, want stale 7", v)
	}
}

func TestGetPastRedundancyPropagatesFailure(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	fail := false
	wantErr := errors.New("transient")
	w := New(func(ctx context.Context) (int, error) {
		if fail {
			return 0, wantErr
		}
		return 7, nil
	}, 10*time.Second, 5*time.Second, clk)

	if _, err := w.Get(context.Background()); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	clk.Advance(16 * time.Second) // past validity + redundancy
	fail = true
	if _, err := w.Get(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("want propagated error, got %v", err)
	}
}

func TestNegativeValidityAlwaysAttemptsRefresh(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	calls := 0
	w := New(func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}, -1, 5*time.Second, clk)

	v1, _ := w.Get(context.Background())
	v2, _ := w.Get(context.Background())
	if v1 == v2 {
		t.Fatalf("want a fresh call each time with validity=-1, got repeated value %d", v1)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestNegativeValidityStillHonoursRedundancyOnFailure(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	fail := false
	wantErr := errors.New("transient")
	w := New(func(ctx context.Context) (int, error) {
		if fail {
			return 0, wantErr
		}
		return 9, nil
	}, -1, 5*time.Second, clk)

	if v, err := w.Get(context.Background()); err != nil || v != 9 {
		t.Fatalf("seed call: v=%d err=%v", v, err)
	}

	clk.Advance(3 * time.Second) // within redundancy window
	fail = true
	v, err := w.Get(context.Background())
	if err != nil {
		t.Fatalf("want stale value within redundancy, got error: %v", err)
	}
	if v != 9 {
		t.Fatalf("v = %d, want stale 9", v)
	}

	clk.Advance(10 * time.Second) // now well past redundancy
	if _, err := w.Get(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("want propagated error past redundancy, got %v", err)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	calls := 0
	w := New(func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}, 100*time.Second, 100*time.Second, clk)

	w.Get(context.Background())
	w.Invalidate()
	w.Get(context.Background())

	if calls != 2 {
		t.Fatalf("calls = %d, want 2 after Invalidate", calls)
	}
}
