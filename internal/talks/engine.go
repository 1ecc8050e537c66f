package talks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/talkdrop/internal/index"
	"github.com/starford/talkdrop/internal/schedule"
	"github.com/starford/talkdrop/internal/storage"
)

// Config configures an Engine.
type Config struct {
	Sources        []schedule.Source
	Fetch          schedule.Options
	RemoteInterval time.Duration
	LocalDebounce  time.Duration
	HashWorkers    int
	// Now is the clock used to name comments. Defaults to time.Now.
	Now func() time.Time
	// OnFileChange is called after every file index mutation.
	OnFileChange func(index.Change)
	// OnScheduleUpdate is called after every installed refresh.
	OnScheduleUpdate func(Update)
}

// Engine owns the file index, its watcher, the talk store and the refresh
// machinery. Separate engines share no state.
type Engine struct {
	Index     *index.Index
	Watcher   *index.Watcher
	Store     *Store
	Refresher *Refresher
	Scheduler *Scheduler

	fs     storage.Provider
	logger *slog.Logger
}

// NewEngine wires an engine over the talk root held by fs.
func NewEngine(cfg Config, fs storage.Provider, logger *slog.Logger) (*Engine, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("talks: no schedule sources configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LocalDebounce <= 0 {
		cfg.LocalDebounce = 200 * time.Millisecond
	}

	opts := []index.Option{index.WithHashWorkers(cfg.HashWorkers)}
	if cfg.OnFileChange != nil {
		opts = append(opts, index.WithNotify(cfg.OnFileChange))
	}
	ix := index.New(logger, opts...)
	w, err := index.NewWatcher(fs.Root(), ix, logger)
	if err != nil {
		return nil, fmt.Errorf("talks: %w", err)
	}

	store := NewStore(w.Ready())
	d := &deps{ix: ix, fs: fs, now: cfg.Now, logger: logger}
	r := &Refresher{
		fetcher:  schedule.NewFetcher(cfg.Fetch, logger),
		sources:  cfg.Sources,
		store:    store,
		d:        d,
		logger:   logger,
		onUpdate: cfg.OnScheduleUpdate,
	}
	return &Engine{
		Index:     ix,
		Watcher:   w,
		Store:     store,
		Refresher: r,
		Scheduler: &Scheduler{
			refresher:  r,
			sources:    cfg.Sources,
			interval:   cfg.RemoteInterval,
			debounce:   cfg.LocalDebounce,
			filesReady: w.Ready(),
			logger:     logger,
		},
		fs:     fs,
		logger: logger,
	}, nil
}

// Run starts the watcher and the first refresh concurrently, then keeps
// refreshing on schedule until ctx is done. A watcher failure is returned
// and wraps index.ErrWatchFailed.
func (e *Engine) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Watcher.Run(gCtx)
	})
	g.Go(func() error {
		// A failed first refresh leaves an empty collection; the scheduler
		// retries on the next trigger.
		_ = e.Refresher.Refresh(gCtx)
		return e.Scheduler.Run(gCtx)
	})
	err := g.Wait()
	e.Index.Wait()
	return err
}

// WaitReady blocks until both readiness gates are open.
func (e *Engine) WaitReady(ctx context.Context) error {
	return e.Store.Wait(ctx)
}

// Orphans lists first-level directories under the root that no current
// talk owns.
func (e *Engine) Orphans(ctx context.Context) ([]string, error) {
	talks, err := e.Store.All(ctx)
	if err != nil {
		return nil, err
	}
	dirs, err := e.fs.ListDirs()
	if err != nil {
		return nil, fmt.Errorf("talks: orphans: %w", err)
	}
	owned := make(map[string]bool, len(talks))
	for _, t := range talks {
		owned[t.ID] = true
	}
	var out []string
	for _, dir := range dirs {
		if !owned[dir] {
			out = append(out, dir)
		}
	}
	return out, nil
}
