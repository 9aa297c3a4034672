// Package sweeper deletes expired selfie records and their blobs.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
)

const deleteConcurrency = 4

// KeyFailure is a blob that could not be deleted.
type KeyFailure struct {
	Key string
	Err error
}

// Report summarizes one sweep.
type Report struct {
	Jobs    int
	Deleted []string
	Failed  []KeyFailure
}

type blobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Sweeper periodically removes expired jobs.
type Sweeper struct {
	repo     domain.JobRepository
	blobs    blobDeleter
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// New returns a sweeper. metrics may be nil.
func New(repo domain.JobRepository, blobs storage.BlobStore, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		repo:     repo,
		blobs:    blobs,
		interval: interval,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.iterate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) iterate(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.SweepFailed()
			s.logger.Error().Interface("panic", rec).Msg("sweeper: recovered panic")
		}
	}()
	report, err := s.SweepOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.metrics.SweepFailed()
		s.logger.Error().Err(err).Msg("sweeper: sweep failed")
		return
	}
	if report.Jobs > 0 || len(report.Failed) > 0 {
		s.logger.Info().
			Int("jobs", report.Jobs).
			Int("blobs_deleted", len(report.Deleted)).
			Int("blobs_failed", len(report.Failed)).
			Msg("sweeper: swept expired jobs")
	}
}

// SweepOnce deletes the blobs of every expired job and then the jobs themselves.
// A blob that fails to delete is reported but does not keep its job alive.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	jobs, err := s.repo.ListExpired(ctx, s.now())
	if err != nil {
		return Report{}, fmt.Errorf("list expired: %w", err)
	}
	if len(jobs) == 0 {
		return Report{}, nil
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	ids := make([]string, 0, len(jobs))
	for i := range jobs {
		ids = append(ids, jobs[i].ID)
		for _, key := range jobs[i].ObjectKeys() {
			key := key // per-iteration copy (go 1.21 loop semantics)
			g.Go(func() error {
				err := s.blobs.Delete(gctx, key)
				mu.Lock()
				defer mu.Unlock()
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					report.Failed = append(report.Failed, KeyFailure{Key: key, Err: err})
					s.logger.Warn().Err(err).Str("key", key).Msg("sweeper: blob delete failed")
					return nil
				}
				report.Deleted = append(report.Deleted, key)
				return nil
			})
		}
	}
	_ = g.Wait()

	n, err := s.repo.DeleteMany(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("delete expired: %w", err)
	}
	report.Jobs = n
	s.metrics.Swept(report.Jobs, len(report.Deleted), len(report.Failed))
	return report, nil
}
