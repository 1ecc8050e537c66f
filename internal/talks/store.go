package talks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/talkdrop/internal/apperr"
)

// collection is one immutable generation of the talk index. It is replaced
// as a whole on every successful refresh.
type collection struct {
	talks   []*Talk
	sorted  []*Talk
	byID    map[string]*Talk
	version string
	hasVer  bool
}

func newCollection(talks []*Talk, fragments []string) *collection {
	c := &collection{
		talks: talks,
		byID:  make(map[string]*Talk, len(talks)),
	}
	for _, t := range talks {
		if _, dup := c.byID[t.ID]; !dup {
			c.byID[t.ID] = t
		}
	}
	c.sorted = slices.Clone(talks)
	slices.SortStableFunc(c.sorted, func(a, b *Talk) int {
		return strings.Compare(a.SortTitle, b.SortTitle)
	})
	// Every built collection comes from a completed refresh, so the version
	// is present even when no source supplied a fragment.
	frags := slices.Clone(fragments)
	slices.Sort(frags)
	c.version = strings.Join(frags, "; ")
	c.hasVer = true
	return c
}

// Store is the talk index. Every read first waits for both readiness gates:
// the first schedule refresh and the initial filesystem scan.
type Store struct {
	cur        atomic.Pointer[collection]
	talksReady chan struct{}
	talksOnce  sync.Once
	filesReady <-chan struct{}
}

// NewStore creates an empty store gated on filesReady.
func NewStore(filesReady <-chan struct{}) *Store {
	s := &Store{
		talksReady: make(chan struct{}),
		filesReady: filesReady,
	}
	s.cur.Store(&collection{byID: map[string]*Talk{}})
	return s
}

func (s *Store) install(c *collection) { s.cur.Store(c) }

func (s *Store) openTalksGate() { s.talksOnce.Do(func() { close(s.talksReady) }) }

// Ready reports whether both gates are open.
func (s *Store) Ready() bool {
	select {
	case <-s.talksReady:
	default:
		return false
	}
	select {
	case <-s.filesReady:
		return true
	default:
		return false
	}
}

// Wait blocks until both gates are open or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	for _, gate := range []<-chan struct{}{s.talksReady, s.filesReady} {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("talks: %w: %w", apperr.ErrNotReady, ctx.Err())
		}
	}
	return nil
}

func (s *Store) current(ctx context.Context) (*collection, error) {
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.cur.Load(), nil
}

// All returns every talk in feed order.
func (s *Store) All(ctx context.Context) ([]*Talk, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(c.talks), nil
}

// AllSorted returns every talk ordered by sort title. Talks with equal sort
// titles keep their feed order.
func (s *Store) AllSorted(ctx context.Context) ([]*Talk, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(c.sorted), nil
}

// FindByID returns the talk with the given id.
func (s *Store) FindByID(ctx context.Context, id string) (*Talk, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("talks: id %q: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

// FindBySlug returns the first talk in feed order whose slug matches.
// Slugs are not unique across talks.
func (s *Store) FindBySlug(ctx context.Context, slug string) (*Talk, error) {
	c, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range c.talks {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, fmt.Errorf("talks: slug %q: %w", slug, apperr.ErrNotFound)
}

// ScheduleVersion returns the diagnostic version string of the installed
// schedule. It does not wait for the gates.
func (s *Store) ScheduleVersion() (string, bool) {
	c := s.cur.Load()
	return c.version, c.hasVer
}

// Len returns the number of installed talks without waiting.
func (s *Store) Len() int {
	return len(s.cur.Load().talks)
}
