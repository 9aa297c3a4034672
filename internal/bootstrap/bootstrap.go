// Package bootstrap opens the configured backends for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/adapter/repo"
	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/infra"
	"github.com/caminocomms/flames-selfie-test/internal/infra/credentials"
	"github.com/caminocomms/flames-selfie-test/internal/providers/fal"
	"github.com/caminocomms/flames-selfie-test/internal/providers/image"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
)

// ErrMissingFalKey is returned outside development when no fal key is configured.
var ErrMissingFalKey = errors.New("bootstrap: FAL_KEY is not configured")

// Store is an opened Result Store and the connections it owns.
type Store struct {
	Jobs domain.JobRepository
	// SQL is set only for the postgres driver.
	SQL *infra.SQLRunner

	closers []func()
}

// Close releases the underlying connections.
func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStore connects the Result Store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &Store{Jobs: repo.NewJobRepository(runner), SQL: runner, closers: []func(){pool.Close}}, nil
	case infra.StoreDriverRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Store{Jobs: repo.NewJobRepositoryRedis(client), closers: []func(){func() { _ = client.Close() }}}, nil
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory store, results will not survive a restart")
		return &Store{Jobs: repo.NewJobRepositoryMemory()}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenBlobs builds the blob store selected by cfg.StorageDriver. The second
// return value is non-nil only for the filesystem driver, whose links are
// served by the API itself.
func OpenBlobs(ctx context.Context, cfg *infra.Config) (storage.BlobStore, *storage.FileStore, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case infra.StorageDriverFilesystem:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		base := cfg.PublicBaseURL
		if base == "" {
			base = "http://localhost:" + cfg.Port
		}
		files, err := storage.NewFileStore(path, base+"/blobs", []byte(cfg.BlobSigningKey))
		if err != nil {
			return nil, nil, err
		}
		return files, files, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown storage driver %q", cfg.StorageDriver)
	}
}

// NewGenerator returns the fal client. Without a configured key it falls back
// to the key stored in integration_tokens, then, in development only, to the
// synthetic generator.
func NewGenerator(ctx context.Context, cfg *infra.Config, store *Store, logger zerolog.Logger) (image.Generator, error) {
	key := cfg.FalKey
	if key == "" && store != nil && store.SQL != nil {
		stored, err := credentials.NewStore(store.SQL).FalAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: failed to load fal key from store")
		}
		key = stored
	}
	if key == "" {
		if cfg.IsDevelopment() {
			logger.Warn().Msg("bootstrap: fal key missing, using synthetic generation")
			return image.NewSynthetic(), nil
		}
		return nil, ErrMissingFalKey
	}
	return fal.NewClient(fal.Options{
		APIKey:            key,
		QueueURL:          cfg.FalQueueURL,
		Model:             cfg.FalModel,
		HTTPClient:        &http.Client{Timeout: cfg.FalTimeout},
		Logger:            &logger,
		PollInterval:      cfg.FalPollInterval,
		RequestsPerSecond: cfg.FalRequestsPerSecond,
		Burst:             cfg.GenMaxConcurrency,
	})
}
