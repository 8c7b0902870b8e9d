package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/config"
	"github.com/sprintpulse/sprintsync/internal/logging"
	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/syncer"
)

const reloadDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Run incremental syncs on an interval",
	Long: `Run an incremental sync of every project now and then every --interval
until interrupted. Logs go to log.file (rotated) or stderr.

The status map at status_map.path is reloaded when the file changes or the
process receives SIGHUP; stored statuses are then renormalized and metrics
recomputed without waiting for the next sync.

Examples:
  sprintsync watch
  sprintsync watch --interval 5m --project WEB
  SPRINTSYNC_LOG_FILE=/var/log/sprintsync.log sprintsync watch`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "Time between syncs (default: sync.interval)")
	watchCmd.Flags().StringSlice("project", nil, "Jira project key (repeatable, default: jira.projects)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	interval, _ := cmd.Flags().GetDuration("interval")
	projectFlags, _ := cmd.Flags().GetStringSlice("project")
	if interval <= 0 {
		interval = config.Sync().Interval
	}
	if interval < time.Minute {
		WarnError("interval %s is below one minute, using 1m", interval)
		interval = time.Minute
	}

	ls := config.Log()
	log, closer, err := logging.New(logging.Options{
		File:       ls.File,
		Level:      ls.Level,
		Format:     ls.Format,
		MaxSizeMB:  ls.MaxSizeMB,
		MaxBackups: ls.MaxBackups,
	}, os.Stderr)
	if err != nil {
		FatalError("log: %v", err)
	}
	defer func() { _ = closer.Close() }()

	projects := resolveProjects(projectFlags)
	holder := newStatusHolder()
	s := openStore()
	engine := newEngine(s, holder)
	engine.Logger = log
	engine.OnMessage = func(msg string) { log.Info(msg) }
	engine.OnWarning = nil

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, watchSignals...)
	defer signal.Stop(sigs)

	w := &watchLoop{
		engine:        engine,
		store:         s,
		holder:        holder,
		statusMapPath: config.StatusMapPath(),
		projects:      projects,
		interval:      interval,
		log:           log,
	}
	if err := w.run(rootCtx, sigs); err != nil {
		FatalError("%v", err)
	}
}

// watchLoop serializes syncs and status map reloads on one goroutine so a
// reload never renormalizes while a sync is writing.
type watchLoop struct {
	engine        *syncer.Engine
	store         storage.Store
	holder        *statusmap.Holder
	statusMapPath string
	projects      []string
	interval      time.Duration
	log           *slog.Logger

	// onCycle is called after every sync cycle (tests).
	onCycle func([]syncer.ProjectResult)
}

func (w *watchLoop) run(ctx context.Context, sigs <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloads := make(chan struct{}, 1)
	requestReload := func() {
		select {
		case reloads <- struct{}{}:
		default:
		}
	}

	if w.statusMapPath != "" {
		debouncer := NewDebouncer(reloadDebounce, requestReload)
		defer debouncer.Stop()
		stop, err := w.watchStatusMap(ctx, debouncer.Trigger)
		if err != nil {
			w.log.Warn("status map watcher unavailable, reload with SIGHUP", "path", w.statusMapPath, "error", err)
		} else {
			defer stop()
		}
	}

	w.log.Info("watch started", "projects", w.projects, "interval", w.interval.String())
	w.cycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watch stopped")
			return nil
		case sig := <-sigs:
			if isReloadSignal(sig) {
				w.log.Info("reload requested", "signal", sig.String())
				requestReload()
				continue
			}
			w.log.Info("shutting down", "signal", sig.String())
			return nil
		case <-reloads:
			w.reload(ctx)
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *watchLoop) cycle(ctx context.Context) {
	start := time.Now()
	results := w.engine.SyncAll(ctx, w.projects, syncer.SyncOptions{})
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			w.log.Error("sync failed", "project", r.ProjectKey, "error", r.Err)
			continue
		}
		attrs := []any{
			"project", r.ProjectKey,
			"mode", string(r.Result.Mode),
			"fetched", r.Result.Stats.Fetched,
			"changed", r.Result.Stats.Issues.Changed(),
			"status_changes", r.Result.Stats.StatusChanges,
			"duration", r.Result.Duration.String(),
		}
		for _, warning := range r.Result.Warnings {
			w.log.Warn(warning, "project", r.ProjectKey)
		}
		w.log.Info("sync finished", attrs...)
	}
	w.log.Info("cycle finished", "projects", len(results), "failed", failed, "took", time.Since(start).Round(time.Millisecond).String())
	if w.onCycle != nil {
		w.onCycle(results)
	}
}

// reload swaps in the status map from disk and renormalizes every project.
// A broken file keeps the previous map.
func (w *watchLoop) reload(ctx context.Context) {
	if err := w.holder.Reload(w.statusMapPath); err != nil {
		w.log.Error("status map reload failed, keeping previous map", "path", w.statusMapPath, "error", err)
		return
	}
	w.log.Info("status map reloaded", "path", w.statusMapPath, "entries", w.holder.Get().Len())

	calc := w.engine.Metrics
	if calc == nil {
		calc = metrics.NewCalculator()
	}
	for _, key := range w.projects {
		issues, changes, err := w.store.UpdateNormalizedStatuses(ctx, key, w.holder.Normalize)
		if err != nil {
			w.log.Error("renormalize failed", "project", key, "error", err)
			continue
		}
		if _, err := calc.CalculateAllMetrics(ctx, w.store, key); err != nil {
			w.log.Error("metrics recompute failed", "project", key, "error", err)
			continue
		}
		w.log.Info("renormalized", "project", key, "issues", issues, "status_changes", changes)
	}
}

// watchStatusMap watches the directory holding the status map; editors
// often replace the file rather than write it in place.
func (w *watchLoop) watchStatusMap(ctx context.Context, onChange func()) (func(), error) {
	target, err := filepath.Abs(w.statusMapPath)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					w.log.Debug("status map changed", "op", event.Op.String())
					onChange()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("status map watcher error", "error", err)
			}
		}
	}()
	return func() {
		_ = fw.Close()
		<-done
	}, nil
}
