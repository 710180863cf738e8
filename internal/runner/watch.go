package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
)

// readyWatcher wakes the runner when a READY marker lands in a job directory.
// It watches the jobs directory for new job folders and each folder that does
// not yet hold a terminal marker.
type readyWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	wake    func()
	logger  *slog.Logger
}

func newReadyWatcher(root string, wake func(), logger *slog.Logger) (*readyWatcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	rw := &readyWatcher{root: root, watcher: w, wake: wake, logger: logger}

	summaries, err := jobs.List(root, "")
	if err == nil {
		for _, s := range summaries {
			if s.State == jobs.StateIncomplete || s.State == jobs.StateReady {
				rw.watchJob(s.Layout.Dir())
			}
		}
	}
	return rw, nil
}

func (rw *readyWatcher) watchJob(dir string) {
	if err := rw.watcher.Add(dir); err != nil {
		rw.logger.Debug("job directory not watched", logging.String("job_dir", dir), logging.Error(err))
	}
}

func (rw *readyWatcher) run(ctx context.Context) {
	defer rw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handle(event)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Debug("job directory watch error", logging.Error(err))
		}
	}
}

func (rw *readyWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	dir, name := filepath.Split(event.Name)
	if filepath.Clean(dir) == filepath.Clean(rw.root) {
		if event.Has(fsnotify.Create) && jobs.ValidKey(name) {
			rw.watchJob(event.Name)
		}
		return
	}
	if name == jobs.MarkerReady && event.Has(fsnotify.Create) {
		rw.wake()
		return
	}
	if name == jobs.MarkerWorking && event.Has(fsnotify.Create) {
		// Claimed; later markers do not concern the runner.
		_ = rw.watcher.Remove(filepath.Clean(dir))
	}
}
