// Package index keeps an in-memory map of every file and directory below a
// root directory, maintained incrementally from filesystem notifications.
package index

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/talkdrop/internal/checksum"
)

// CommentSuffix marks a file as a text comment rather than an upload.
const CommentSuffix = ".comment.txt"

// Stat is a snapshot of file stats captured when a notification was handled.
// A pending hash is applied only while the entry still holds the same *Stat.
type Stat struct {
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

func newStat(info fs.FileInfo) *Stat {
	if info == nil {
		return &Stat{}
	}
	return &Stat{Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()}
}

// Entry is the metadata held for one path.
type Entry struct {
	Path      string
	IsDir     bool
	IsComment bool
	Stat      *Stat  // nil for directories
	Hash      string // empty until the hash job for Stat completes
}

// ChangeKind names an index mutation.
type ChangeKind string

const (
	FileAdded   ChangeKind = "file.added"
	FileChanged ChangeKind = "file.changed"
	FileRemoved ChangeKind = "file.removed"
	DirAdded    ChangeKind = "dir.added"
	DirRemoved  ChangeKind = "dir.removed"
)

// Change describes one applied mutation.
type Change struct {
	Kind ChangeKind
	Path string
}

// HashFunc computes the content digest of the file at path.
type HashFunc func(path string) (string, error)

// Option configures an Index.
type Option func(*Index)

// WithHashFunc replaces the default streaming SHA-256 hasher.
func WithHashFunc(fn HashFunc) Option {
	return func(ix *Index) { ix.hash = fn }
}

// WithHashWorkers bounds the number of files hashed concurrently.
func WithHashWorkers(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// WithNotify registers fn to be called after each mutation, outside the lock.
func WithNotify(fn func(Change)) Option {
	return func(ix *Index) { ix.notify = fn }
}

// Index maps absolute paths to entries. The generation counter increases on
// every mutation so derived views can tell when they are stale.
type Index struct {
	logger  *slog.Logger
	hash    HashFunc
	workers int
	sem     *semaphore.Weighted
	notify  func(Change)
	pending sync.WaitGroup

	mu         sync.RWMutex
	entries    map[string]*Entry
	generation uint64
}

// New creates an empty index.
func New(logger *slog.Logger, opts ...Option) *Index {
	ix := &Index{
		logger:  logger,
		hash:    checksum.File,
		workers: 4,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.sem = semaphore.NewWeighted(int64(ix.workers))
	return ix
}

// IsComment reports whether name carries the comment suffix.
func IsComment(name string) bool {
	return strings.HasSuffix(name, CommentSuffix)
}

// AddFile records a created or modified file and schedules hashing of its
// content. It returns the stats snapshot the hash job is tagged with.
func (ix *Index) AddFile(path string, info fs.FileInfo) *Stat {
	p := absPath(path)
	st := newStat(info)

	ix.mu.Lock()
	kind := FileAdded
	if e, ok := ix.entries[p]; ok && !e.IsDir {
		kind = FileChanged
	}
	ix.entries[p] = &Entry{Path: p, IsComment: IsComment(p), Stat: st}
	ix.generation++
	ix.mu.Unlock()

	ix.emit(Change{Kind: kind, Path: p})
	ix.enqueueHash(p, st)
	return st
}

// RemoveFile drops the entry for a deleted file.
func (ix *Index) RemoveFile(path string) {
	p := absPath(path)

	ix.mu.Lock()
	_, existed := ix.entries[p]
	delete(ix.entries, p)
	ix.generation++
	ix.mu.Unlock()

	if existed {
		ix.emit(Change{Kind: FileRemoved, Path: p})
	}
}

// AddDir records a directory marker.
func (ix *Index) AddDir(path string) {
	p := absPath(path)

	ix.mu.Lock()
	ix.entries[p] = &Entry{Path: p, IsDir: true}
	ix.generation++
	ix.mu.Unlock()

	ix.emit(Change{Kind: DirAdded, Path: p})
}

// RemoveDir drops a directory and everything recorded below it. A directory
// moved out of the tree produces no per-child notifications.
func (ix *Index) RemoveDir(path string) {
	p := absPath(path)
	prefix := p + string(filepath.Separator)

	ix.mu.Lock()
	delete(ix.entries, p)
	for k := range ix.entries {
		if strings.HasPrefix(k, prefix) {
			delete(ix.entries, k)
		}
	}
	ix.generation++
	ix.mu.Unlock()

	ix.emit(Change{Kind: DirRemoved, Path: p})
}

// ApplyHash stores sum for path if the entry still exists and still holds
// the exact stats snapshot the hash was computed against.
func (ix *Index) ApplyHash(path string, st *Stat, sum string) bool {
	p := absPath(path)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[p]
	if !ok || e.Stat != st {
		return false
	}
	e.Hash = sum
	ix.generation++
	return true
}

// Get returns a copy of the entry at path.
func (ix *Index) Get(path string) (Entry, bool) {
	p := absPath(path)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[p]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Under returns copies of the entries strictly below dir that satisfy keep,
// ordered by path. Containment is anchored on a path-segment boundary, so
// "/root/1" does not contain "/root/10/x".
func (ix *Index) Under(dir string, keep func(Entry) bool) []Entry {
	prefix := absPath(dir) + string(filepath.Separator)

	ix.mu.RLock()
	var out []Entry
	for p, e := range ix.entries {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if keep != nil && !keep(*e) {
			continue
		}
		out = append(out, *e)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Dirs returns every recorded directory path, sorted.
func (ix *Index) Dirs() []string {
	ix.mu.RLock()
	var out []string
	for p, e := range ix.entries {
		if e.IsDir {
			out = append(out, p)
		}
	}
	ix.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Generation returns the current value of the staleness counter.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.generation
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Wait blocks until every scheduled hash job has finished.
func (ix *Index) Wait() {
	ix.pending.Wait()
}

// enqueueHash blocks until a hash worker slot is free, so a burst of
// events never holds more goroutines than there are workers.
func (ix *Index) enqueueHash(path string, st *Stat) {
	if err := ix.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	ix.pending.Add(1)
	go func() {
		defer ix.pending.Done()
		defer ix.sem.Release(1)

		sum, err := ix.hash(path)
		if err != nil {
			ix.logger.Warn("hash: failed", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		if !ix.ApplyHash(path, st, sum) {
			ix.logger.Debug("hash: discarded stale result", slog.String("path", path))
		}
	}()
}

func (ix *Index) emit(c Change) {
	if ix.notify != nil {
		ix.notify(c)
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
