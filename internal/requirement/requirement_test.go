package requirement

import (
	"context"
	"errors"
	"testing"
	"time"

	"roced/internal/clock/clocktest"
	"roced/pkg/batch"
)

type fakeClient struct {
	jobs  []batch.Job
	err   error
	calls int
}

func (f *fakeClient) ListJobs(ctx context.Context) ([]batch.Job, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs, nil
}
func (f *fakeClient) ListNodes(ctx context.Context) (map[string]batch.Node, error) { return nil, nil }
func (f *fakeClient) DrainNode(ctx context.Context, name string) error             { return nil }

func TestRequiredDeltaComputesMachineCount(t *testing.T) {
	client := &fakeClient{jobs: []batch.Job{
		{Partition: "batch", State: batch.JobPending, MinCPUs: 4, ArrayTaskStr: "1-5"}, // 20 cpus
		{Partition: "batch", State: batch.JobRunning, MinCPUs: 4},                       // 4 cpus
		{Partition: "other", State: batch.JobRunning, MinCPUs: 999},                     // filtered out
	}}
	clk := clocktest.New(time.Unix(0, 0))
	a := New(Config{SlurmPartition: "batch", CoresPerMachine: 8}, client, 10*time.Second, 5*time.Second, clk)

	got, err := a.RequiredDelta(context.Background())
	if err != nil {
		t.Fatalf("RequiredDelta: %v", err)
	}
	if got == nil {
		t.Fatalf("want non-nil required delta")
	}
	// 24 cpus / 8 cores per machine = 3 machines
	if *got != 3 {
		t.Fatalf("RequiredDelta = %d, want 3", *got)
	}
}

func TestRequiredDeltaNilOnFetchFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("ssh: connection refused")}
	clk := clocktest.New(time.Unix(0, 0))
	a := New(Config{SlurmPartition: "batch", CoresPerMachine: 8}, client, 0, 0, clk)

	got, err := a.RequiredDelta(context.Background())
	if err != nil {
		t.Fatalf("RequiredDelta: want nil error wrapping failure as nil demand, got %v", err)
	}
	if got != nil {
		t.Fatalf("want nil required delta on fetch failure, got %v", *got)
	}
}

func TestRequiredDeltaCachesWithinValidity(t *testing.T) {
	client := &fakeClient{jobs: []batch.Job{{Partition: "batch", State: batch.JobRunning, MinCPUs: 8}}}
	clk := clocktest.New(time.Unix(0, 0))
	a := New(Config{SlurmPartition: "batch", CoresPerMachine: 8}, client, 30*time.Second, 10*time.Second, clk)

	if _, err := a.RequiredDelta(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.RequiredDelta(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Fatalf("ListJobs called %d times, want 1 (second call served from cache)", client.calls)
	}
}
