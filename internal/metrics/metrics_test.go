package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveCycleIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveCycle(2*time.Second, "ok")

	var out dto.Metric
	if err := m.CyclesTotal.WithLabelValues("ok").Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.GetCounter().GetValue() != 1 {
		t.Fatalf("CyclesTotal = %v, want 1", out.GetCounter().GetValue())
	}

	var hist dto.Metric
	if err := m.CycleDuration.Write(&hist); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if hist.GetHistogram().GetSampleCount() != 1 || hist.GetHistogram().GetSampleSum() != 2 {
		t.Fatalf("CycleDuration count=%d sum=%v, want 1 and 2", hist.GetHistogram().GetSampleCount(), hist.GetHistogram().GetSampleSum())
	}
}

func TestRecordOrderLabelsSignBySignOfDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordOrder("site1", "small", 3)
	m.RecordOrder("site1", "small", -2)

	var spawn, shutdown dto.Metric
	if err := m.OrdersTotal.WithLabelValues("site1", "small", "spawn").Write(&spawn); err != nil {
		t.Fatal(err)
	}
	if err := m.OrdersTotal.WithLabelValues("site1", "small", "shutdown").Write(&shutdown); err != nil {
		t.Fatal(err)
	}
	if spawn.GetCounter().GetValue() != 3 {
		t.Fatalf("spawn = %v, want 3", spawn.GetCounter().GetValue())
	}
	if shutdown.GetCounter().GetValue() != 2 {
		t.Fatalf("shutdown = %v, want 2", shutdown.GetCounter().GetValue())
	}
}

func TestSetMachineCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.SetMachineCount("site1", "working", 5)

	var out dto.Metric
	if err := m.MachinesByStatus.WithLabelValues("site1", "working").Write(&out); err != nil {
		t.Fatal(err)
	}
	if out.GetGauge().GetValue() != 5 {
		t.Fatalf("gauge = %v, want 5", out.GetGauge().GetValue())
	}
}
