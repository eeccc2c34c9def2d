package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 250 * time.Millisecond

// WatchTeam watches .minds/team.yaml and calls onReload with each
// successfully re-loaded roster. A bad edit logs the config error and
// keeps the previous team. Blocks until ctx is done.
func WatchTeam(ctx context.Context, mindsDir string, defaultMax int, onReload func(*Team)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(mindsDir); err != nil {
		return err
	}

	target := filepath.Join(mindsDir, "team.yaml")
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			team, err := LoadTeam(mindsDir, defaultMax)
			if err != nil {
				slog.Error("team config reload failed, keeping previous roster", "error", err)
				continue
			}
			slog.Info("team config reloaded", "members", len(team.Members()))
			onReload(team)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
