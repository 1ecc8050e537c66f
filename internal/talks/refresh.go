package talks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/talkdrop/internal/schedule"
)

// Update summarises an installed refresh.
type Update struct {
	Version string
	Talks   int
}

// Refresher rebuilds the talk collection from the schedule sources.
// Refreshes are serialized: a call made while another is running waits
// for it and then runs on its own.
type Refresher struct {
	fetcher  *schedule.Fetcher
	sources  []schedule.Source
	store    *Store
	d        *deps
	logger   *slog.Logger
	onUpdate func(Update)

	mu sync.Mutex
}

// Refresh fetches every source, builds a new collection off to the side,
// provisions a directory per talk and installs the collection. On any
// failure the previously installed collection stays in place. The talks
// gate opens after the first attempt whatever its outcome.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.store.openTalksGate()

	start := time.Now()
	results, err := r.fetcher.FetchAll(ctx, r.sources)
	if err != nil {
		r.logger.Error("refresh: fetch failed, keeping previous schedule", slog.String("error", err.Error()))
		return fmt.Errorf("talks: refresh: %w", err)
	}

	var (
		talks     []*Talk
		fragments []string
	)
	for _, res := range results {
		if v, err := res.Document.Version(); err != nil {
			r.logger.Warn("refresh: no version", slog.String("source", res.Source.Location), slog.String("error", err.Error()))
		} else {
			fragments = append(fragments, v)
		}
		for _, de := range res.Document.Events() {
			if !validID(de.Event.GUID) {
				r.logger.Warn("refresh: skipping talk with unusable id",
					slog.String("source", res.Source.Location), slog.String("id", de.Event.GUID))
				continue
			}
			talks = append(talks, newTalk(r.d, de))
		}
	}

	for _, t := range talks {
		if err := r.d.fs.EnsureDir(t.ID); err != nil {
			r.logger.Error("refresh: provisioning failed, keeping previous schedule",
				slog.String("id", t.ID), slog.String("error", err.Error()))
			return fmt.Errorf("talks: refresh: %w", err)
		}
	}

	c := newCollection(talks, fragments)
	r.store.install(c)
	r.logger.Info("refresh: installed schedule",
		slog.Int("talks", len(talks)),
		slog.String("version", c.version),
		slog.Duration("took", time.Since(start)),
	)
	if r.onUpdate != nil {
		r.onUpdate(Update{Version: c.version, Talks: len(talks)})
	}
	return nil
}

// validID reports whether id can name a directory directly below the root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.HasPrefix(id, ".") &&
		!strings.ContainsAny(id, `/\`) &&
		filepath.Base(id) == id
}
