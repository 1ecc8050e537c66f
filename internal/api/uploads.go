package api

import (
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/talkdrop/internal/talks"
)

const (
	maxUploadBytes = 512 << 20 // 512 MB per request
	maxMemoryBytes = 32 << 20
)

// Upload handles POST /talks/{id}/files (multipart/form-data, one or more
// "files" fields). Parts are staged in the upload directory and then moved
// into the talk directory.
//
//	@Summary		Attach files to a talk
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		path		string	true	"Talk id"
//	@Param			files	formData	file	true	"Files to attach"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/talks/{id}/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'files' field in multipart form"))
		return
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, "create upload dir", err)
		return
	}

	uploads := make([]talks.Upload, 0, len(headers))
	defer func() {
		// Whatever was not moved into a talk directory is discarded.
		for _, u := range uploads {
			_ = os.Remove(u.TempPath)
		}
	}()
	for _, fh := range headers {
		tmp, err := h.stage(fh)
		if err != nil {
			writeError(w, "stage upload", err)
			return
		}
		uploads = append(uploads, talks.Upload{TempPath: tmp, Name: fh.Filename})
	}

	names, err := h.svc.AddFiles(r.Context(), chi.URLParam(r, "id"), uploads)
	if err != nil {
		writeError(w, "add files", err)
		return
	}
	slog.Info("upload: files attached", slog.String("talk", chi.URLParam(r, "id")), slog.Any("files", names))
	writeJSON(w, http.StatusCreated, UploadResponse{Files: names})
}

func (h *Handler) stage(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp := filepath.Join(h.uploadDir, uuid.NewString())
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// ServeFile handles GET /talks/{id}/files/{name}.
//
//	@Summary		Download a file of a talk
//	@Tags			files
//	@Param			id		path	string	true	"Talk id"
//	@Param			name	path	string	true	"File name"
//	@Success		200
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/talks/{id}/files/{name} [get]
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	rc, info, err := h.svc.OpenFile(r.Context(), chi.URLParam(r, "id"), name)
	if err != nil {
		writeError(w, "serve file", err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()}))
	http.ServeContent(w, r, info.Name(), info.ModTime(), rc)
}
