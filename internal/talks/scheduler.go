package talks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron"

	"github.com/starford/talkdrop/internal/schedule"
)

// Scheduler triggers refreshes: when a local schedule file changes and, if
// any source is remote, every interval.
type Scheduler struct {
	refresher  *Refresher
	sources    []schedule.Source
	interval   time.Duration
	debounce   time.Duration
	filesReady <-chan struct{}
	logger     *slog.Logger
}

// Run blocks until ctx is done. It waits for the initial filesystem scan
// before triggering anything.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.filesReady:
	case <-ctx.Done():
		return nil
	}

	if schedule.AnyRemote(s.sources) && s.interval > 0 {
		cron := gocron.NewScheduler(time.UTC)
		_, err := cron.Every(s.interval).WaitForSchedule().SingletonMode().Do(func() {
			s.refresh(ctx, "interval")
		})
		if err != nil {
			return fmt.Errorf("talks: schedule interval refresh: %w", err)
		}
		cron.StartAsync()
		defer cron.Stop()
		s.logger.Info("scheduler: remote refresh enabled", slog.Duration("interval", s.interval))
	}

	local := make(map[string]bool)
	for _, src := range s.sources {
		if !src.Remote() {
			local[filepath.Clean(src.Path)] = true
		}
	}
	if len(local) == 0 {
		<-ctx.Done()
		return nil
	}
	return s.watchLocal(ctx, local)
}

// watchLocal watches the parent directories of the local sources, so that
// editors replacing the file by rename are noticed too.
func (s *Scheduler) watchLocal(ctx context.Context, local map[string]bool) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("talks: schedule watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string]bool)
	for p := range local {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			// Refreshes from this source then only happen on the interval.
			s.logger.Warn("scheduler: cannot watch schedule directory",
				slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		dirs[dir] = true
	}

	// fire is armed by each change; a later change re-arms it.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !local[filepath.Clean(ev.Name)] || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("scheduler: schedule file changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			fire = time.After(s.debounce)
		case <-fire:
			fire = nil
			s.refresh(ctx, "local file")
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("scheduler: watch error", slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, reason string) {
	s.logger.Info("scheduler: refreshing", slog.String("reason", reason))
	// Failures are logged by the refresher and the previous schedule stays.
	_ = s.refresher.Refresh(ctx)
}
