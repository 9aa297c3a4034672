package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/caminocomms/flames-selfie-test/internal/storage"
)

// Blob serves a filesystem-backed object behind a signed link.
func (a *App) Blob(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.error(w, http.StatusNotFound, "not_found", "Not found")
		return
	}
	key, filename, err := a.Files.Verify(chi.URLParam(r, "*"), r.URL.Query())
	switch {
	case errors.Is(err, storage.ErrLinkExpired):
		a.error(w, http.StatusGone, "expired", "Link has expired")
		return
	case err != nil:
		a.error(w, http.StatusForbidden, "forbidden", "Invalid signature")
		return
	}
	data, err := a.Files.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "Not found")
			return
		}
		a.fail(w, r, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if filename != "" {
		w.Header().Set("Content-Disposition", storage.AttachmentDisposition(filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
