package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/http/handlers"
	"github.com/caminocomms/flames-selfie-test/internal/middleware"
)

// Options carries the request-filtering settings of the router.
type Options struct {
	AllowedOrigins    []string
	AllowedHosts      []string
	TrustProxyHeaders bool
	Logger            zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.SecurityHeaders,
		middleware.TrustedHosts(opts.AllowedHosts),
		middleware.CORS(opts.AllowedOrigins),
		middleware.ClientIP(opts.TrustProxyHeaders),
	)

	r.Get("/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.MetricsHandler())

	r.Route("/api/selfie", func(r chi.Router) {
		r.With(middleware.EnforceOrigin(opts.AllowedOrigins, opts.AllowedHosts)).Post("/generate", app.Generate)
		r.Get("/result/{id}", app.Result)
		r.Get("/result/{id}/download", app.Download)
		r.Get("/result/{id}/image", app.Image)
	})

	if app.Files != nil {
		r.Get("/blobs/*", app.Blob)
	}

	return r
}
