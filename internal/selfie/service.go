// Package selfie implements submission and result retrieval for selfie jobs.
package selfie

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/admission"
	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/photo"
	"github.com/caminocomms/flames-selfie-test/internal/ratelimit"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
	"github.com/caminocomms/flames-selfie-test/internal/worker"
)

// Scheduler hands an admitted task to the background pool.
type Scheduler interface {
	Schedule(task worker.Task) error
}

// Options holds the timing knobs of the service.
type Options struct {
	TTL               time.Duration
	ProcessingTimeout time.Duration
	LinkTTL           time.Duration
}

// Service coordinates the store, limiter, admission controller and worker pool.
type Service struct {
	repo      domain.JobRepository
	blobs     storage.BlobStore
	limiter   *ratelimit.Limiter
	admission *admission.Controller
	scheduler Scheduler
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

// NewService wires the service. blobs may be nil, in which case submissions
// and image links fail with domain.ErrStorageUnavailable.
func NewService(
	repo domain.JobRepository,
	blobs storage.BlobStore,
	limiter *ratelimit.Limiter,
	ctrl *admission.Controller,
	scheduler Scheduler,
	m *metrics.Metrics,
	logger zerolog.Logger,
	opts Options,
) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 10 * time.Minute
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = time.Hour
	}
	return &Service{
		repo:      repo,
		blobs:     blobs,
		limiter:   limiter,
		admission: ctrl,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Submission is one uploaded photo with the caller's identity.
type Submission struct {
	ClientIP        string
	UserAgent       string
	ClientRequestID string
	Photo           []byte
	DeclaredMIME    string
}

// SubmitResult is the job a submission resolved to. Replayed is set when an
// earlier submission with the same idempotency key already owns the job.
type SubmitResult struct {
	Job      *domain.Job
	Replayed bool
}

// Submit admits a photo for generation. A repeated idempotency key returns the
// existing job before any rate limiting or admission happens.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if s.blobs == nil {
		return nil, domain.ErrStorageUnavailable
	}
	clientHash := HashClient(sub.ClientIP)
	requestID := strings.TrimSpace(sub.ClientRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	key := domain.IdempotencyKey{ClientHash: clientHash, ClientRequestID: requestID}

	existing, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err == nil {
		s.metrics.JobReplayed()
		return &SubmitResult{Job: existing, Replayed: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if err := s.limiter.Check(clientHash); err != nil {
		s.metrics.JobRejected("rate_limited")
		return nil, err
	}
	ticket, err := s.admission.Admit()
	if err != nil {
		s.metrics.JobRejected("queue_full")
		return nil, err
	}
	scheduled := false
	defer func() {
		if !scheduled {
			ticket.Release()
		}
	}()

	if len(sub.Photo) > photo.MaxUploadBytes {
		s.metrics.JobRejected("too_large")
		return nil, domain.ErrPayloadTooLarge
	}
	mimeType := photo.ResolveMIME(sub.DeclaredMIME, sub.Photo)
	if _, err := photo.Validate(sub.Photo, mimeType); err != nil {
		s.metrics.JobRejected("invalid")
		return nil, err
	}

	now := s.now()
	job := &domain.Job{
		ID:              uuid.NewString(),
		Status:          domain.JobStatusProcessing,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.opts.TTL),
		ClientHash:      clientHash,
		ClientRequestID: requestID,
		UserAgentHash:   HashUserAgent(sub.UserAgent),
		PromptVersion:   domain.PromptVersion,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// A concurrent submission with the same key won the insert.
			winner, lookupErr := s.repo.GetByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup after duplicate: %w", lookupErr)
			}
			s.metrics.JobReplayed()
			return &SubmitResult{Job: winner, Replayed: true}, nil
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	err = s.scheduler.Schedule(worker.Task{
		JobID:       job.ID,
		Photo:       sub.Photo,
		MIME:        mimeType,
		Ticket:      ticket,
		SubmittedAt: now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("selfie: schedule failed")
		if _, markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID, domain.MessageGenerationFailed, string(domain.ErrorCodeScheduleFailed)); markErr != nil {
			s.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("selfie: mark failed")
		}
		return nil, fmt.Errorf("schedule job: %w: %w", domain.ErrUnavailable, err)
	}
	scheduled = true
	s.metrics.JobAdmitted()
	s.logger.Info().Str("job_id", job.ID).Msg("selfie: job admitted")
	return &SubmitResult{Job: job}, nil
}

// Result loads a job, failing it first when it has been processing longer
// than the processing timeout.
func (s *Service) Result(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusProcessing {
		return job, nil
	}
	if s.now().Sub(job.ProcessingSince()) <= s.opts.ProcessingTimeout {
		return job, nil
	}
	applied, err := s.repo.MarkFailed(ctx, id, domain.MessageTimedOut, string(domain.ErrorCodeTimedOut))
	if err != nil {
		return nil, fmt.Errorf("fail stale job: %w", err)
	}
	if applied {
		s.metrics.JobTimedOut()
		s.logger.Warn().Str("job_id", id).Msg("selfie: stale job timed out")
	}
	return s.repo.Get(ctx, id)
}

// ImageLink returns a short-lived URL for a ready job's final image. With
// download set the link asks the browser to save the file.
func (s *Service) ImageLink(ctx context.Context, id string, download bool) (string, error) {
	if s.blobs == nil {
		return "", domain.ErrStorageUnavailable
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Expired(s.now()) {
		return "", domain.ErrGone
	}
	if job.Status != domain.JobStatusReady || job.FinalObjectKey == "" {
		return "", domain.ErrNotReady
	}
	var opts storage.PresignOptions
	if download {
		opts.DownloadFilename = DownloadFilename(id)
	}
	url, err := s.blobs.PresignGet(ctx, job.FinalObjectKey, s.opts.LinkTTL, opts)
	if err != nil {
		return "", fmt.Errorf("presign final image: %w", err)
	}
	return url, nil
}

// DownloadFilename is the attachment name offered for a job's final image.
func DownloadFilename(id string) string {
	return "flames-selfie-" + id + ".png"
}
