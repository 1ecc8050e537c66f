package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/talkdrop/internal/talkservice"
)

// Options configures the router.
type Options struct {
	// AuthEnabled controls whether a token is needed for protected routes.
	AuthEnabled bool
	Token       string
	// UploadDir receives multipart uploads before they are moved into a
	// talk directory.
	UploadDir string
	// Events, if non-nil, is mounted at GET /events.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *talkservice.Service, opts Options) chi.Router {
	h := NewHandler(svc, opts.UploadDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	r.Get("/health/ready", h.Ready)

	r.Get("/talks", h.ListTalks)
	r.Get("/talks/by-slug/{slug}", h.GetTalkBySlug)
	r.Route("/talks/{id}", func(r chi.Router) {
		r.Get("/", h.GetTalk)
		r.Post("/comments", h.AddComment)
		r.Post("/files", h.Upload)
		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)
			r.Get("/comments", h.ListComments)
			r.Get("/files/{name}", h.ServeFile)
		})
	})

	r.Get("/schedule/version", h.ScheduleVersion)

	// File events carry file names, so the stream is protected.
	if opts.Events != nil {
		r.With(RequireAuth).Get("/events", opts.Events.ServeHTTP)
	}
	return r
}
