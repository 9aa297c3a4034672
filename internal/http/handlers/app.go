package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/admission"
	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/selfie"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
)

// queueFullRetryAfter is the Retry-After hint sent when the generation queue is full.
const queueFullRetryAfter = 5

type App struct {
	Selfies   *selfie.Service
	Admission *admission.Controller
	Metrics   *metrics.Metrics
	// Files is set only when blobs live on the local filesystem.
	Files         *storage.FileStore
	PublicBaseURL string
	TrustProxy    bool
	Logger        zerolog.Logger
}

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, detail string) {
	a.json(w, code, errorResponse{Detail: detail, Code: errCode})
}

// fail maps a service error onto its HTTP response.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	var limited *domain.RateLimitedError
	switch {
	case errors.As(err, &validation):
		a.error(w, http.StatusBadRequest, "invalid_image", validation.Message)
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		a.error(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
	case errors.Is(err, domain.ErrOverloaded):
		w.Header().Set("Retry-After", strconv.Itoa(queueFullRetryAfter))
		a.error(w, http.StatusTooManyRequests, "queue_full", "Too many requests, please try again soon")
	case errors.Is(err, domain.ErrPayloadTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Image is too large. Maximum size is 10MB.")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "Result not found")
	case errors.Is(err, domain.ErrGone):
		a.error(w, http.StatusGone, "expired", "Result link has expired")
	case errors.Is(err, domain.ErrNotReady):
		a.error(w, http.StatusConflict, "not_ready", "Result not ready")
	case errors.Is(err, domain.ErrStorageUnavailable):
		a.error(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage is not configured")
	case errors.Is(err, domain.ErrUnavailable):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "Service is temporarily unavailable")
	default:
		logger := zerolog.Ctx(r.Context())
		if logger.GetLevel() == zerolog.Disabled {
			logger = &a.Logger
		}
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}

// baseURL is the absolute prefix for links handed to clients.
func (a *App) baseURL(r *http.Request) string {
	if a.PublicBaseURL != "" {
		return strings.TrimRight(a.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if a.TrustProxy {
		if proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0]); proto == "http" || proto == "https" {
			scheme = proto
		}
	}
	return scheme + "://" + r.Host
}
