package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"roced"
	"roced/internal/broker"
	"roced/internal/clock"
	"roced/internal/clockhealth"
	"roced/internal/config"
	"roced/internal/eventbus"
	"roced/internal/housekeeping"
	"roced/internal/integration"
	"roced/internal/logging"
	"roced/internal/metrics"
	"roced/internal/monitoring"
	"roced/internal/registry"
	"roced/internal/requirement"
	"roced/internal/scheduler"
	"roced/pkg/batch"
	"roced/pkg/batch/slurm"
	"roced/pkg/site"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var metricsAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "roced",
		Short: "Elastic compute sizing daemon for batch-job worker pools",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, metricsAddr)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", config.Path(), "Configuration file path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address")
	return cmd
}

// run wires the configured control plane and drives it until ctx is
// cancelled (spec §5: shutdown lets the current cycle finish).
func run(ctx context.Context, configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var sink registry.MonitoringSink
	if cfg.SnapshotPath != "" {
		csvLog, err := monitoring.NewCSVLog(cfg.SnapshotPath + ".csv")
		if err != nil {
			slog.Warn("open status-change log", "path", cfg.SnapshotPath+".csv", "err", err)
		} else {
			sink = csvLog
		}
	}

	bus := eventbus.New()
	reg := registry.New(bus, clock.RealClock{}, sink)
	reg.Load(cfg.SnapshotPath, cfg.BackupPath)

	clockChecker := clockhealth.New(clock.RealClock{})
	go clockChecker.Run(ctx)
	go watchClockHealth(ctx, clockChecker)

	m := metrics.New()
	b := broker.New(broker.Config{MaxInstances: cfg.Broker.MaxInstances, ShutdownDelay: cfg.Broker.ShutdownDelay}, clock.RealClock{})

	sched := scheduler.New(reg, b, m, clock.RealClock{})
	sched.CyclePeriod = cfg.CyclePeriod
	sched.SnapshotPath = cfg.SnapshotPath
	sched.BackupPath = cfg.BackupPath
	sched.Sites = make(map[string]site.Adapter)

	for _, sc := range cfg.Sites {
		supported := make(map[string]bool, len(sc.SupportedTypes))
		for _, t := range sc.SupportedTypes {
			supported[t] = true
		}
		sched.SiteInfos = append(sched.SiteInfos, roced.SiteInfo{
			Name:           sc.Name,
			Cost:           sc.Cost,
			MaxMachines:    sc.MaxMachines,
			SupportedTypes: supported,
		})
	}

	for _, rc := range cfg.Requirements {
		client := newSlurmClient()
		for machineType, mt := range rc.Machines {
			adapter := requirement.New(requirement.Config{
				SlurmPartition:  rc.SlurmPartition,
				MachineType:     machineType,
				CoresPerMachine: mt.Cores,
			}, client, 30*time.Second, 5*time.Minute, clock.RealClock{})
			sched.Requirements = append(sched.Requirements, scheduler.RequirementSource{MachineType: machineType, Adapter: adapter})
		}
	}

	for _, ic := range cfg.Integrations {
		client := newSlurmClient()
		adapter := integration.New(integration.Config{
			SiteName:                  ic.SiteName,
			SlurmPartition:            ic.SlurmPartition,
			WaitPendingDisintegration: ic.SlurmWaitPD,
			WaitWorking:               ic.SlurmWaitWork,
			Deadline:                  ic.SlurmDeadline,
		}, reg, client, clock.RealClock{})
		bus.Subscribe(eventbus.SubscriberFunc(adapter.HandleEvent))
		sched.Integrations = append(sched.Integrations, adapter)
	}

	hk := housekeeping.New()
	if cfg.BackupPath != "" {
		dir := filepath.Dir(cfg.BackupPath)
		if err := hk.Schedule("0 3 * * *", "prune-backups", func() {
			if err := housekeeping.PruneOldBackups(dir, 30*24*time.Hour, time.Now()); err != nil {
				slog.Warn("housekeeping: prune backups", "err", err)
			}
		}); err != nil {
			slog.Warn("housekeeping: schedule prune", "err", err)
		}
	}
	hk.Start()
	defer hk.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// watchClockHealth logs whenever the host clock drifts out of tolerance; the
// registry's elapsed-time and shutdown-delay arithmetic both assume a sane
// wall clock (SPEC_FULL.md "DOMAIN STACK", internal/clockhealth).
func watchClockHealth(ctx context.Context, checker *clockhealth.Checker) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := checker.Status()
			if status.Phase == clockhealth.UnhealthyOffset || status.Phase == clockhealth.CheckError {
				slog.Warn("clock health degraded", "phase", status.Phase, "offset", status.Offset, "err", status.Error)
			}
		}
	}
}

func newSlurmClient() batch.Client {
	return slurm.New(nopTransport{}, 5, 10)
}

// nopTransport is a placeholder Transport until a concrete SSH or library
// backend is selected for a given deployment (spec §9 note 4).
type nopTransport struct{}

func (nopTransport) ListJobs(ctx context.Context) ([]batch.Job, error)           { return nil, nil }
func (nopTransport) ListNodes(ctx context.Context) (map[string]batch.Node, error) { return nil, nil }
func (nopTransport) DrainNode(ctx context.Context, name string) error             { return nil }
