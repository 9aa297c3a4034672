package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/caminocomms/flames-selfie-test/internal/admission"
	"github.com/caminocomms/flames-selfie-test/internal/bootstrap"
	"github.com/caminocomms/flames-selfie-test/internal/http/handlers"
	httpapi "github.com/caminocomms/flames-selfie-test/internal/http/httpapi"
	"github.com/caminocomms/flames-selfie-test/internal/infra"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/photo"
	"github.com/caminocomms/flames-selfie-test/internal/providers/image"
	"github.com/caminocomms/flames-selfie-test/internal/ratelimit"
	"github.com/caminocomms/flames-selfie-test/internal/selfie"
	"github.com/caminocomms/flames-selfie-test/internal/sweeper"
	"github.com/caminocomms/flames-selfie-test/internal/worker"
)

const limiterPruneInterval = 5 * time.Minute

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open result store")
	}
	defer store.Close()

	blobs, files, err := bootstrap.OpenBlobs(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to configure blob storage")
	}

	frame, err := photo.LoadFrame(cfg.FrameAssetPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load frame asset")
	}

	generator, err := bootstrap.NewGenerator(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image generator")
	}

	m := metrics.New()
	ctrl := admission.New(cfg.GenMaxConcurrency, cfg.GenMaxQueue)
	ctrl.OnChange(m.SetQueue)

	limiter := ratelimit.New(cfg.RateLimitPerMin, cfg.RateLimitPerDay)
	go limiter.Run(ctx, limiterPruneInterval)

	runner := &worker.Runner{
		Repo:       store.Jobs,
		Blobs:      blobs,
		Generator:  generator,
		Downloader: image.NewDownloader(&http.Client{Timeout: 60 * time.Second}, 25<<20),
		Frame:      frame,
		Metrics:    m,
		Logger:     logger,
		SourceTTL:  cfg.SignedURLTTL,
	}
	pool := worker.NewPool(ctx, runner)

	sw := sweeper.New(store.Jobs, blobs, cfg.SweepInterval, m, logger)
	go sw.Run(ctx)

	svc := selfie.NewService(store.Jobs, blobs, limiter, ctrl, pool, m, logger, selfie.Options{
		TTL:               cfg.SelfieTTL,
		ProcessingTimeout: cfg.ProcessingTimeout,
		LinkTTL:           cfg.SignedURLTTL,
	})

	app := &handlers.App{
		Selfies:       svc,
		Admission:     ctrl,
		Metrics:       m,
		Files:         files,
		PublicBaseURL: cfg.PublicBaseURL,
		TrustProxy:    cfg.TrustProxyHeaders,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:    cfg.AllowedOrigins,
		AllowedHosts:      cfg.AllowedHosts,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            logger,
	})

	server := infra.NewHTTPServer(cfg, router, logger)
	logger.Info().
		Str("addr", server.Addr()).
		Str("store", cfg.StoreDriver).
		Str("storage", cfg.StorageDriver).
		Msg("API listening")
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}
	logger.Info().Msg("shutting down")

	// Requests are drained; stop accepting jobs and give running ones the
	// same grace period.
	pool.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := pool.Wait(drainCtx); err != nil {
		logger.Warn().Err(err).Int("inflight", ctrl.InFlight()).Msg("abandoning in-flight generation jobs")
	}
	logger.Info().Msg("server stopped")
}
