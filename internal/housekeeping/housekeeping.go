// Package housekeeping schedules periodic maintenance that does not belong
// inside a control cycle: pruning old files, such as the registry snapshot
// backup, from a directory. The status-change CSV log is not rotated.
// cmd/roced runs this alongside the scheduler's main loop.
package housekeeping

import (
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron.Cron instance with the task set ROCED needs.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a Scheduler. Entries are added with Schedule before Start.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Schedule registers fn to run on the given standard 5-field cron spec.
// Errors from a malformed spec surface at registration time, not silently
// at run time.
func (s *Scheduler) Schedule(spec string, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		slog.Debug("housekeeping task starting", "task", name)
		fn()
		slog.Debug("housekeeping task finished", "task", name)
	})
	return err
}

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any running entry to finish and stops the scheduler.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// PruneOldBackups removes files under dir older than maxAge, matching the
// registry's rotation convention of a single prior-generation backup plus
// whatever daily monitoring files have accumulated.
func PruneOldBackups(dir string, maxAge time.Duration, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			path := dir + string(os.PathSeparator) + e.Name()
			if err := os.Remove(path); err != nil {
				slog.Warn("housekeeping: failed to prune old file", "path", path, "err", err)
			}
		}
	}
	return nil
}
