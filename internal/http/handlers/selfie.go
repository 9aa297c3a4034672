package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/caminocomms/flames-selfie-test/internal/middleware"
	"github.com/caminocomms/flames-selfie-test/internal/photo"
	"github.com/caminocomms/flames-selfie-test/internal/selfie"
)

const (
	// multipartSlack covers boundaries and the small form fields next to the photo.
	multipartSlack   = 1 << 20
	multipartMemory  = 12 << 20
	maxRequestIDSize = 128
)

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, photo.MaxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Image is too large. Maximum size is 10MB.")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("photo")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "photo is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, photo.MaxUploadBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid image file.")
		return
	}

	requestID := strings.TrimSpace(r.FormValue("client_request_id"))
	if len(requestID) > maxRequestIDSize {
		a.error(w, http.StatusBadRequest, "bad_request", "client_request_id is too long")
		return
	}

	res, err := a.Selfies.Submit(r.Context(), selfie.Submission{
		ClientIP:        middleware.ClientIPFromContext(r.Context()),
		UserAgent:       r.UserAgent(),
		ClientRequestID: requestID,
		Photo:           data,
		DeclaredMIME:    header.Header.Get("Content-Type"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	payload := selfie.BuildPayload(res.Job, a.Selfies.Now(), a.baseURL(r))
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		a.json(w, http.StatusOK, payload)
		return
	}
	a.json(w, http.StatusAccepted, payload)
}

func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	job, err := a.Selfies.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, selfie.BuildPayload(job, a.Selfies.Now(), a.baseURL(r)))
}

func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	a.redirectToImage(w, r, true)
}

func (a *App) Image(w http.ResponseWriter, r *http.Request) {
	a.redirectToImage(w, r, false)
}

func (a *App) redirectToImage(w http.ResponseWriter, r *http.Request, download bool) {
	link, err := a.Selfies.ImageLink(r.Context(), chi.URLParam(r, "id"), download)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, link, http.StatusTemporaryRedirect)
}
