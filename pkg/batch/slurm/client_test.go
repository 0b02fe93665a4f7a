package slurm

import (
	"context"
	"errors"
	"testing"

	"roced/pkg/batch"
)

type fakeTransport struct {
	jobs      []batch.Job
	nodes     map[string]batch.Node
	drained   []string
	listErr   error
}

func (f *fakeTransport) ListJobs(ctx context.Context) ([]batch.Job, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.jobs, nil
}

func (f *fakeTransport) ListNodes(ctx context.Context) (map[string]batch.Node, error) {
	return f.nodes, nil
}

func (f *fakeTransport) DrainNode(ctx context.Context, name string) error {
	f.drained = append(f.drained, name)
	return nil
}

func TestClientPassesThroughToTransport(t *testing.T) {
	ft := &fakeTransport{
		jobs:  []batch.Job{{Partition: "batch"}},
		nodes: map[string]batch.Node{"n1": {Name: "n1"}},
	}
	c := New(ft, 100, 10)

	jobs, err := c.ListJobs(context.Background())
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs: jobs=%v err=%v", jobs, err)
	}

	nodes, err := c.ListNodes(context.Background())
	if err != nil || len(nodes) != 1 {
		t.Fatalf("ListNodes: nodes=%v err=%v", nodes, err)
	}

	if err := c.DrainNode(context.Background(), "n1"); err != nil {
		t.Fatalf("DrainNode: %v", err)
	}
	if len(ft.drained) != 1 || ft.drained[0] != "n1" {
		t.Fatalf("drained = %v, want [n1]", ft.drained)
	}
}

func TestClientPropagatesTransportError(t *testing.T) {
	wantErr := errors.New("boom")
	ft := &fakeTransport{listErr: wantErr}
	c := New(ft, 100, 10)

	if _, err := c.ListJobs(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestClientRespectsCancelledContext(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, 0.0001, 0) // effectively no tokens available
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ListJobs(ctx); err == nil {
		t.Fatalf("want error from cancelled context during rate-limit wait")
	}
}
