// Package talks maintains the in-memory collection of scheduled talks and
// their per-talk directories of uploads and comments.
package talks

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/starford/talkdrop/internal/apperr"
	"github.com/starford/talkdrop/internal/index"
	"github.com/starford/talkdrop/internal/parser"
	"github.com/starford/talkdrop/internal/storage"
)

// maxNameRetries bounds the search for a free comment file name.
const maxNameRetries = 1000

// deps is shared by every talk built by one Engine.
type deps struct {
	ix     *index.Index
	fs     storage.Provider
	now    func() time.Time
	logger *slog.Logger
}

// Talk is one scheduled program entry. Talks are rebuilt on every schedule
// refresh and never modified afterwards, except for their cached file views.
type Talk struct {
	ID        string
	Date      time.Time
	Start     string
	Duration  string
	Room      string
	Title     string
	SortTitle string
	Subtitle  string
	Slug      string
	Track     string
	Type      string
	Language  string
	Abstract  string
	URL       string
	Day       int
	Speakers  []string
	// FilePath is the absolute directory holding this talk's files.
	FilePath string

	d        *deps
	files    genCache[[]File]
	comments genCache[[]File]
}

// File is an entry of a talk directory.
type File struct {
	// Name is the path relative to the talk directory.
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	Hash    string
}

// Comment is the body of one comment file.
type Comment struct {
	Name string
	Time time.Time
	Body string
}

// Upload is a received file waiting in the temporary upload directory.
type Upload struct {
	TempPath string
	Name     string
}

func newTalk(d *deps, de parser.DayEvent) *Talk {
	ev := de.Event
	title := strings.TrimSpace(ev.Title)
	return &Talk{
		ID:        ev.GUID,
		Date:      ev.ParsedDate(),
		Start:     ev.Start,
		Duration:  ev.Duration,
		Room:      ev.Room,
		Title:     title,
		SortTitle: SortTitle(title),
		Subtitle:  ev.Subtitle,
		Slug:      slug.MakeLang(title, ev.Language),
		Track:     ev.Track,
		Type:      ev.Type,
		Language:  ev.Language,
		Abstract:  ev.Abstract,
		URL:       ev.URL,
		Day:       de.Day,
		Speakers:  ev.Speakers(),
		FilePath:  filepath.Join(d.fs.Root(), ev.GUID),
		d:         d,
	}
}

// Files returns the uploads of this talk, excluding directories and comments.
// The result is cached until the file index changes.
func (t *Talk) Files() []File {
	return t.files.get(t.d.ix.Generation(), func() []File {
		return t.collect(func(e index.Entry) bool { return !e.IsDir && !e.IsComment })
	})
}

// CommentFiles returns the comment files of this talk, oldest first.
func (t *Talk) CommentFiles() []File {
	return t.comments.get(t.d.ix.Generation(), func() []File {
		return t.collect(func(e index.Entry) bool { return !e.IsDir && e.IsComment })
	})
}

func (t *Talk) collect(keep func(index.Entry) bool) []File {
	entries := t.d.ix.Under(t.FilePath, keep)
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		rel, err := filepath.Rel(t.FilePath, e.Path)
		if err != nil {
			continue
		}
		f := File{Name: filepath.ToSlash(rel), Path: e.Path, Hash: e.Hash}
		if e.Stat != nil {
			f.Size = e.Stat.Size
			f.ModTime = e.Stat.ModTime
		}
		out = append(out, f)
	}
	return out
}

// Comments reads every comment of this talk. Bodies are never cached.
// A comment file that disappears or cannot be read is logged and skipped.
func (t *Talk) Comments() ([]Comment, error) {
	files := t.CommentFiles()
	out := make([]Comment, 0, len(files))
	for _, f := range files {
		data, err := t.d.fs.Read(t.rel(f.Name))
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				t.d.logger.Debug("talk: comment vanished", slog.String("path", f.Path))
			} else {
				t.d.logger.Warn("talk: comment unreadable", slog.String("path", f.Path), slog.String("error", err.Error()))
			}
			continue
		}
		out = append(out, Comment{Name: f.Name, Time: commentTime(f), Body: string(data)})
	}
	return out, nil
}

// AddComment stores text as a new comment file named after the current time
// in milliseconds. The index is updated before returning so an immediate
// Comments call sees the new comment.
func (t *Talk) AddComment(text string) (Comment, error) {
	ms := t.d.now().UnixMilli()
	for range maxNameRetries {
		name := strconv.FormatInt(ms, 10) + index.CommentSuffix
		err := t.d.fs.WriteNew(t.rel(name), []byte(text))
		if errors.Is(err, apperr.ErrAlreadyExists) {
			ms++
			continue
		}
		if err != nil {
			return Comment{}, fmt.Errorf("talks: add comment: %w", err)
		}
		if err := t.register(name); err != nil {
			return Comment{}, err
		}
		return Comment{Name: name, Time: time.UnixMilli(ms), Body: text}, nil
	}
	return Comment{}, fmt.Errorf("talks: add comment: no free name: %w", apperr.ErrConflict)
}

// AddFiles moves uploads into the talk directory under their original base
// names, replacing files of the same name.
func (t *Talk) AddFiles(uploads []Upload) ([]string, error) {
	names := make([]string, 0, len(uploads))
	for _, u := range uploads {
		name, err := cleanName(u.Name)
		if err != nil {
			return names, err
		}
		if err := t.d.fs.Import(u.TempPath, t.rel(name)); err != nil {
			return names, fmt.Errorf("talks: add file %s: %w", name, err)
		}
		if err := t.register(name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// WriteFile stores data as an upload named name.
func (t *Talk) WriteFile(name string, data []byte) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if err := t.d.fs.Write(t.rel(name), data); err != nil {
		return "", fmt.Errorf("talks: write file %s: %w", name, err)
	}
	return name, t.register(name)
}

// Open opens a file of this talk for reading.
func (t *Talk) Open(name string) (io.ReadSeekCloser, fs.FileInfo, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, nil, fmt.Errorf("talks: open %q: %w", name, apperr.ErrNotFound)
	}
	return t.d.fs.Open(filepath.Join(t.ID, clean))
}

// register records a file written by the application without waiting for
// the watcher to report it.
func (t *Talk) register(name string) error {
	rel := t.rel(name)
	info, err := t.d.fs.Stat(rel)
	if err != nil {
		return fmt.Errorf("talks: stat %s: %w", name, err)
	}
	abs, err := t.d.fs.Abs(rel)
	if err != nil {
		return err
	}
	t.d.ix.AddFile(abs, info)
	return nil
}

func (t *Talk) rel(name string) string {
	return filepath.Join(t.ID, filepath.FromSlash(name))
}

// ErrInvalidName is returned for upload names that cannot be stored.
var ErrInvalidName = errors.New("talks: invalid file name")

// cleanName reduces an uploaded name to its base. Hidden names are refused
// because the watcher ignores them, comment names because only AddComment
// may create comments.
func cleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" || strings.HasPrefix(base, ".") || index.IsComment(base) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

func commentTime(f File) time.Time {
	stamp := strings.TrimSuffix(filepath.Base(f.Name), index.CommentSuffix)
	if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return f.ModTime
}
