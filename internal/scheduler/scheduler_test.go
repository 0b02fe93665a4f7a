package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"roced"
	"roced/internal/broker"
	"roced/internal/clock/clocktest"
	"roced/internal/eventbus"
	"roced/internal/integration"
	"roced/internal/metrics"
	"roced/internal/registry"
	"roced/internal/requirement"
	"roced/pkg/batch"
	"roced/pkg/site"
)

type fakeBatchClient struct {
	jobs       []batch.Job
	nodes      map[string]batch.Node
	drainedIDs []string
}

func (f *fakeBatchClient) ListJobs(ctx context.Context) ([]batch.Job, error) { return f.jobs, nil }
func (f *fakeBatchClient) ListNodes(ctx context.Context) (map[string]batch.Node, error) {
	return f.nodes, nil
}
func (f *fakeBatchClient) DrainNode(ctx context.Context, name string) error {
	f.drainedIDs = append(f.drainedIDs, name)
	return nil
}

type fakeSiteAdapter struct {
	name         string
	spawnCalls   []int
	terminateIDs []string
}

func (f *fakeSiteAdapter) Name() string { return f.name }
func (f *fakeSiteAdapter) Spawn(ctx context.Context, machineType string, count int) error {
	f.spawnCalls = append(f.spawnCalls, count)
	return nil
}
func (f *fakeSiteAdapter) Terminate(ctx context.Context, machineID string) error {
	f.terminateIDs = append(f.terminateIDs, machineID)
	return nil
}

func newTestScheduler(t *testing.T, clk *clocktest.Clock, jobs []batch.Job, nodes map[string]batch.Node) (*Scheduler, *fakeSiteAdapter, *fakeBatchClient) {
	t.Helper()
	bus := eventbus.New()
	reg := registry.New(bus, clk, nil)

	client := &fakeBatchClient{jobs: jobs, nodes: nodes}
	reqAdapter := requirement.New(requirement.Config{
		SlurmPartition:  "batch",
		MachineType:     "small",
		CoresPerMachine: 4,
	}, client, 0, 0, clk)

	b := broker.New(broker.Config{ShutdownDelay: 0}, clk)
	m := metrics.NewWithRegistry(nil)

	s := New(reg, b, m, clk)
	s.CyclePeriod = time.Minute
	s.Requirements = []RequirementSource{{MachineType: "small", Adapter: reqAdapter}}
	s.SiteInfos = []roced.SiteInfo{{Name: "site1", Cost: 1, SupportedTypes: map[string]bool{"small": true}}}

	adapter := &fakeSiteAdapter{name: "site1"}
	s.Sites = map[string]site.Adapter{"site1": adapter}

	integrationAdapter := integration.New(integration.Config{SiteName: "site1", SlurmPartition: "batch", Deadline: time.Hour}, reg, client, clk)
	s.Integrations = []*integration.Adapter{integrationAdapter}

	return s, adapter, client
}

func TestRunCycleSpawnsWhenQueueDemandsMachines(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	jobs := []batch.Job{
		{Partition: "batch", State: batch.JobPending, MinCPUs: 8},
	}
	s, adapter, _ := newTestScheduler(t, clk, jobs, map[string]batch.Node{})

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(adapter.spawnCalls) != 1 || adapter.spawnCalls[0] != 2 {
		t.Fatalf("spawnCalls = %+v, want [2]", adapter.spawnCalls)
	}
}

func TestRunCycleNoOrdersWhenQueueEmpty(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	s, adapter, _ := newTestScheduler(t, clk, nil, map[string]batch.Node{})

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(adapter.spawnCalls) != 0 {
		t.Fatalf("spawnCalls = %+v, want none", adapter.spawnCalls)
	}
}

func TestRunCycleDrainsExcessWorkingMachines(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	s, _, client := newTestScheduler(t, clk, nil, map[string]batch.Node{})

	id, err := s.Registry.NewMachine("")
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if err := s.Registry.SetFields(id, func(rec *roced.MachineRecord) {
		rec.Site = "site1"
		rec.MachineType = "small"
		rec.HostIP = "10.0.0.9"
	}); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	for _, st := range []roced.MachineStatus{roced.StatusBooting, roced.StatusUp, roced.StatusIntegrating, roced.StatusWorking} {
		if err := s.Registry.UpdateStatus(id, st); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", st, err)
		}
	}

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(client.drainedIDs) != 1 || client.drainedIDs[0] != "host-10-0-0-9" {
		t.Fatalf("drainedIDs = %+v, want [host-10-0-0-9]", client.drainedIDs)
	}
}

func TestRunCyclePersistsSnapshot(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	s, _, _ := newTestScheduler(t, clk, nil, map[string]batch.Node{})
	dir := t.TempDir()
	s.SnapshotPath = dir + "/snapshot.json"
	s.BackupPath = dir + "/snapshot.bak.json"

	if _, err := s.Registry.NewMachine("m1"); err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if _, err := os.ReadFile(s.SnapshotPath); err != nil {
		t.Fatalf("snapshot file not written: %v", err)
	}
}
