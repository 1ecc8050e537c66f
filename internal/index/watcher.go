package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ErrWatchFailed wraps every condition after which the index can no longer
// be trusted to follow the filesystem.
var ErrWatchFailed = errors.New("index: watch failed")

// Watcher drives an Index from recursive fsnotify events below root.
type Watcher struct {
	root   string
	ix     *Index
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	live      atomic.Bool
}

// NewWatcher creates a watcher for root. Run must be called to start it.
func NewWatcher(root string, ix *Index, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("index: resolve root: %w", err)
	}
	return &Watcher{
		root:   abs,
		ix:     ix,
		logger: logger,
		ready:  make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Ready is closed once the initial recursive scan has completed.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run scans root, signals readiness and then applies change events until
// ctx is cancelled. Any returned error wraps ErrWatchFailed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatchFailed, err)
	}
	defer fw.Close()

	if err := w.scan(fw, w.root); err != nil {
		return fmt.Errorf("%w: initial scan of %s: %v", ErrWatchFailed, w.root, err)
	}
	w.live.Store(true)
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Info("watcher: initial scan complete",
		slog.String("root", w.root),
		slog.Int("entries", w.ix.Len()))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrWatchFailed)
			}
			if err := w.handle(fw, ev); err != nil {
				return err
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("%w: error stream closed", ErrWatchFailed)
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
			return fmt.Errorf("%w: %v", ErrWatchFailed, watchErr)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) error {
	path := ev.Name
	if path != w.root && ignored(filepath.Base(path)) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			// Gone again before we got to it; the removal event follows.
			w.logger.Debug("watcher: stat failed", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				if err := w.scan(fw, path); err != nil {
					w.logger.Warn("watcher: scan new dir failed",
						slog.String("path", path),
						slog.String("error", err.Error()))
				}
			}
			return nil
		}
		w.ix.AddFile(path, info)
		if ev.Has(fsnotify.Create) {
			w.logChange("watcher: added file", path)
		} else {
			w.logChange("watcher: changed file", path)
		}

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if path == w.root {
			w.logger.Error("watcher: root directory went away", slog.String("root", w.root))
			return fmt.Errorf("%w: root %s removed", ErrWatchFailed, w.root)
		}
		if e, ok := w.ix.Get(path); ok && e.IsDir {
			_ = fw.Remove(path)
			w.ix.RemoveDir(path)
			w.logChange("watcher: removed directory", path)
			return nil
		}
		w.ix.RemoveFile(path)
		w.logChange("watcher: removed file", path)
	}
	return nil
}

// scan adds dir and every directory below it to fw and records all entries
// it finds. Each directory is watched before it is listed, so files created
// concurrently are seen either by the walk or as an event.
func (w *Watcher) scan(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			w.logger.Warn("watcher: walk failed", slog.String("path", path), slog.String("error", walkErr.Error()))
			return nil
		}
		if path != w.root && ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				if path == dir {
					return err
				}
				w.logger.Warn("watcher: add watch failed", slog.String("path", path), slog.String("error", err.Error()))
				return filepath.SkipDir
			}
			w.ix.AddDir(path)
			w.logChange("watcher: added directory", path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		w.ix.AddFile(path, info)
		w.logChange("watcher: added file", path)
		return nil
	})
}

// logChange logs live changes at info and the startup backfill at debug.
func (w *Watcher) logChange(msg, path string) {
	level := slog.LevelDebug
	if w.live.Load() {
		level = slog.LevelInfo
	}
	w.logger.Log(context.Background(), level, msg, slog.String("path", path))
}

// ignored reports whether a name is hidden (.DS_Store, atomic-write temp
// files, the upload staging directory).
func ignored(name string) bool {
	return strings.HasPrefix(name, ".")
}
