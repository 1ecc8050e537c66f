// Package talkservice assembles the JSON views of talks for the HTTP and
// MCP surfaces and forwards writes to the talk model.
package talkservice

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/starford/talkdrop/internal/models"
	"github.com/starford/talkdrop/internal/talks"
)

// Service exposes talk views.
type Service struct {
	store *talks.Store
}

// NewService creates a service over store.
func NewService(store *talks.Store) *Service {
	return &Service{store: store}
}

// Ready reports whether both readiness gates are open.
func (s *Service) Ready() bool { return s.store.Ready() }

// ListTalks returns all talks ordered by sort title.
func (s *Service) ListTalks(ctx context.Context, authorized bool) (*models.TalkList, error) {
	all, err := s.store.AllSorted(ctx)
	if err != nil {
		return nil, err
	}
	out := &models.TalkList{Talks: make([]models.TalkSummary, 0, len(all)), IsAuthorized: authorized}
	for _, t := range all {
		out.Talks = append(out.Talks, summary(t))
	}
	return out, nil
}

// GetTalk returns the detail view of a talk.
func (s *Service) GetTalk(ctx context.Context, id string, authorized bool) (*models.TalkDetail, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail(t, authorized)
}

// GetTalkBySlug returns the detail view of the first talk with slug.
func (s *Service) GetTalkBySlug(ctx context.Context, slug string, authorized bool) (*models.TalkDetail, error) {
	t, err := s.store.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return detail(t, authorized)
}

// Comments returns every comment of a talk.
func (s *Service) Comments(ctx context.Context, id string) ([]models.CommentView, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return comments(t)
}

// AddComment stores a comment on a talk.
func (s *Service) AddComment(ctx context.Context, id, text string) (*models.CommentView, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := t.AddComment(text)
	if err != nil {
		return nil, err
	}
	return &models.CommentView{Name: c.Name, Body: c.Body, Created: c.Time}, nil
}

// AddFiles moves uploads into a talk directory.
func (s *Service) AddFiles(ctx context.Context, id string, uploads []talks.Upload) ([]string, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.AddFiles(uploads)
}

// WriteFile stores data as an upload of a talk.
func (s *Service) WriteFile(ctx context.Context, id, name string, data []byte) (string, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return t.WriteFile(name, data)
}

// OpenFile opens an upload of a talk.
func (s *Service) OpenFile(ctx context.Context, id, name string) (io.ReadSeekCloser, fs.FileInfo, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t.Open(name)
}

// ScheduleVersion returns the installed schedule version.
func (s *Service) ScheduleVersion() models.ScheduleVersion {
	v, ok := s.store.ScheduleVersion()
	return models.ScheduleVersion{Version: v, Available: ok}
}

func summary(t *talks.Talk) models.TalkSummary {
	speakers := t.Speakers
	if speakers == nil {
		speakers = []string{}
	}
	return models.TalkSummary{
		ID:           t.ID,
		Title:        t.Title,
		Subtitle:     t.Subtitle,
		Slug:         t.Slug,
		Speakers:     speakers,
		Room:         t.Room,
		Date:         t.Date,
		Day:          t.Day,
		FileCount:    len(t.Files()),
		CommentCount: len(t.CommentFiles()),
		URL:          "/talks/" + url.PathEscape(t.ID),
	}
}

func detail(t *talks.Talk, authorized bool) (*models.TalkDetail, error) {
	d := &models.TalkDetail{
		TalkSummary:  summary(t),
		IsAuthorized: authorized,
		Duration:     t.Duration,
		Track:        t.Track,
		Type:         t.Type,
		Language:     t.Language,
		Abstract:     t.Abstract,
		ScheduleURL:  t.URL,
		Files:        []models.FileView{},
	}
	for _, f := range t.Files() {
		v := models.FileView{
			RedactedName: RedactName(f.Name),
			Meta:         models.FileMeta{Size: f.Size, Modified: f.ModTime, Hash: f.Hash},
		}
		if authorized {
			v.Name = f.Name
			v.URL = d.URL + "/files/" + url.PathEscape(f.Name)
		}
		d.Files = append(d.Files, v)
	}
	if authorized {
		cs, err := comments(t)
		if err != nil {
			return nil, err
		}
		d.Comments = cs
	}
	return d, nil
}

func comments(t *talks.Talk) ([]models.CommentView, error) {
	cs, err := t.Comments()
	if err != nil {
		return nil, err
	}
	out := make([]models.CommentView, 0, len(cs))
	for _, c := range cs {
		out = append(out, models.CommentView{Name: c.Name, Body: c.Body, Created: c.Time})
	}
	return out, nil
}

// RedactName hides a file name from unauthorized callers while keeping its
// extension, e.g. "slides-final.pdf" becomes "s***.pdf".
func RedactName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return "***" + ext
	}
	first := []rune(stem)[0]
	return string(first) + "***" + ext
}
