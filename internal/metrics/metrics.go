// Package metrics provides the control loop's Prometheus collectors: cycle
// duration, per-status machine counts, and orders emitted per cycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the Core Scheduler and its adapters touch.
type Metrics struct {
	CycleDuration    prometheus.Histogram
	CyclesTotal      *prometheus.CounterVec
	MachinesByStatus *prometheus.GaugeVec
	OrdersTotal      *prometheus.CounterVec
	AdapterFailures  *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration, useful for tests that create
// multiple instances in one process.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roced_cycle_duration_seconds",
			Help:    "Duration of one control-loop cycle.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roced_cycles_total",
			Help: "Total number of control-loop cycles completed, by outcome.",
		}, []string{"outcome"}),
		MachinesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roced_machines",
			Help: "Current machine count by site and lifecycle status.",
		}, []string{"site", "status"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roced_orders_total",
			Help: "Total spawn/shutdown orders emitted by the broker, by site, type and sign.",
		}, []string{"site", "machine_type", "sign"}),
		AdapterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roced_adapter_failures_total",
			Help: "Total adapter-reported failures, by adapter kind.",
		}, []string{"adapter"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CycleDuration,
			m.CyclesTotal,
			m.MachinesByStatus,
			m.OrdersTotal,
			m.AdapterFailures,
		)
	}
	return m
}

// ObserveCycle records one cycle's wall-clock duration and outcome.
func (m *Metrics) ObserveCycle(d time.Duration, outcome string) {
	m.CycleDuration.Observe(d.Seconds())
	m.CyclesTotal.WithLabelValues(outcome).Inc()
}

// SetMachineCount sets the current gauge for one (site, status) pair.
func (m *Metrics) SetMachineCount(site, status string, count int) {
	m.MachinesByStatus.WithLabelValues(site, status).Set(float64(count))
}

// RecordOrder records one emitted order.
func (m *Metrics) RecordOrder(site, machineType string, delta int) {
	sign := "spawn"
	if delta < 0 {
		sign = "shutdown"
	}
	m.OrdersTotal.WithLabelValues(site, machineType, sign).Add(float64(abs(delta)))
}

// RecordAdapterFailure increments the failure counter for one adapter kind.
func (m *Metrics) RecordAdapterFailure(adapter string) {
	m.AdapterFailures.WithLabelValues(adapter).Inc()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
