package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/talkdrop/internal/talkservice"
)

const maxCommentBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc       *talkservice.Service
	uploadDir string
}

// NewHandler creates a new Handler.
func NewHandler(svc *talkservice.Service, uploadDir string) *Handler {
	return &Handler{svc: svc, uploadDir: uploadDir}
}

// Ready handles GET /health/ready.
//
//	@Summary		Readiness probe
//	@Tags			health
//	@Produce		json
//	@Success		200
//	@Failure		503	{object}	errResponse
//	@Router			/health/ready [get]
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListTalks handles GET /talks.
//
//	@Summary		List talks ordered by title
//	@Tags			talks
//	@Produce		json
//	@Success		200	{object}	TalkList
//	@Router			/talks [get]
func (h *Handler) ListTalks(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListTalks(r.Context(), Authorized(r))
	if err != nil {
		writeError(w, "list talks", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetTalk handles GET /talks/{id}.
//
//	@Summary		Get a talk with its files
//	@Tags			talks
//	@Produce		json
//	@Param			id	path		string	true	"Talk id"
//	@Success		200	{object}	TalkDetail
//	@Failure		404	{object}	errResponse
//	@Router			/talks/{id} [get]
func (h *Handler) GetTalk(w http.ResponseWriter, r *http.Request) {
	talk, err := h.svc.GetTalk(r.Context(), chi.URLParam(r, "id"), Authorized(r))
	if err != nil {
		writeError(w, "get talk", err)
		return
	}
	writeJSON(w, http.StatusOK, talk)
}

// GetTalkBySlug handles GET /talks/by-slug/{slug}.
//
//	@Summary		Get the first talk with a slug
//	@Tags			talks
//	@Produce		json
//	@Param			slug	path		string	true	"Talk slug"
//	@Success		200		{object}	TalkDetail
//	@Failure		404		{object}	errResponse
//	@Router			/talks/by-slug/{slug} [get]
func (h *Handler) GetTalkBySlug(w http.ResponseWriter, r *http.Request) {
	talk, err := h.svc.GetTalkBySlug(r.Context(), chi.URLParam(r, "slug"), Authorized(r))
	if err != nil {
		writeError(w, "get talk by slug", err)
		return
	}
	writeJSON(w, http.StatusOK, talk)
}

// ListComments handles GET /talks/{id}/comments.
//
//	@Summary		Read the comments of a talk
//	@Tags			comments
//	@Produce		json
//	@Param			id	path		string	true	"Talk id"
//	@Success		200	{object}	CommentListResponse
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/talks/{id}/comments [get]
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list comments", err)
		return
	}
	writeJSON(w, http.StatusOK, CommentListResponse{Comments: comments})
}

// AddComment handles POST /talks/{id}/comments. Accepts a JSON body or a
// form field named "comment".
//
//	@Summary		Add a comment to a talk
//	@Tags			comments
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Talk id"
//	@Param			body	body		AddCommentRequest	true	"Comment"
//	@Success		201		{object}	models.CommentView
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/talks/{id}/comments [post]
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommentBytes)

	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req AddCommentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		text = req.Body
	} else {
		text = r.FormValue("comment")
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("comment is required"))
		return
	}

	comment, err := h.svc.AddComment(r.Context(), chi.URLParam(r, "id"), text)
	if err != nil {
		writeError(w, "add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// ScheduleVersion handles GET /schedule/version.
//
//	@Summary		Installed schedule version
//	@Tags			schedule
//	@Produce		json
//	@Success		200	{object}	models.ScheduleVersion
//	@Router			/schedule/version [get]
func (h *Handler) ScheduleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ScheduleVersion())
}
