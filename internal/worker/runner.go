package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/admission"
	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/photo"
	imageprovider "github.com/caminocomms/flames-selfie-test/internal/providers/image"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
)

// bookkeepingTimeout bounds the store and cleanup calls made after a task
// fails, which run even when the task context is already cancelled.
const bookkeepingTimeout = 10 * time.Second

// Task is one admitted selfie waiting to be generated.
type Task struct {
	JobID       string
	Photo       []byte
	MIME        string
	Ticket      *admission.Ticket
	SubmittedAt time.Time
}

// Downloader fetches a generated image by URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Finisher composites the generated portrait into the final image.
type Finisher interface {
	BuildFinal(generated image.Image) ([]byte, error)
}

// Runner executes the generation pipeline for a task.
type Runner struct {
	Repo       domain.JobRepository
	Blobs      storage.BlobStore
	Generator  imageprovider.Generator
	Downloader Downloader
	Frame      Finisher
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	// SourceTTL is how long the presigned upload URL handed to the generator stays valid.
	SourceTTL time.Duration

	now func() time.Time
}

type stepError struct {
	code domain.ErrorCode
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.code, e.err) }
func (e *stepError) Unwrap() error { return e.err }

func fail(code domain.ErrorCode, err error) error {
	return &stepError{code: code, err: err}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// Run processes task to a terminal state. The admission ticket is released
// when Run returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, task Task) {
	if task.Ticket != nil {
		defer task.Ticket.Release()
	}
	started := task.SubmittedAt
	if started.IsZero() {
		started = r.clock()
	}
	log := r.Logger.With().Str("job_id", task.JobID).Logger()

	var written []string
	err := r.safeProcess(ctx, task, &written, log)

	elapsed := r.clock().Sub(started)
	if err == nil {
		r.Metrics.JobFinished(string(domain.JobStatusReady), "", elapsed)
		log.Info().Dur("elapsed", elapsed).Msg("worker: job ready")
		return
	}

	code := domain.ErrorCodeInternal
	var se *stepError
	if errors.As(err, &se) {
		code = se.code
	}
	log.Error().Err(err).Str("code", string(code)).Msg("worker: job failed")
	r.Metrics.JobFinished(string(domain.JobStatusFailed), string(code), elapsed)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if !errors.Is(err, errDiscarded) {
		if _, markErr := r.Repo.MarkFailed(bctx, task.JobID, domain.MessageGenerationFailed, string(code)); markErr != nil {
			log.Error().Err(markErr).Msg("worker: mark failed")
		}
	}
	r.deleteBlobs(bctx, written, log)
}

// errDiscarded marks an attempt whose record left processing while it ran.
var errDiscarded = errors.New("job no longer processing")

func (r *Runner) safeProcess(ctx context.Context, task Task, written *[]string, log zerolog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("worker: recovered panic")
			err = fail(domain.ErrorCodeInternal, fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.process(ctx, task, written)
}

func (r *Runner) process(ctx context.Context, task Task, written *[]string) error {
	if task.Ticket != nil {
		if err := task.Ticket.Acquire(ctx); err != nil {
			return fail(domain.ErrorCodeInternal, fmt.Errorf("acquire slot: %w", err))
		}
	}
	started, err := r.Repo.MarkStarted(ctx, task.JobID, r.clock())
	if err != nil {
		return fail(domain.ErrorCodeStoreFailed, fmt.Errorf("mark started: %w", err))
	}
	if !started {
		// Reaped or force-failed while queued: skip the provider call.
		return fail(domain.ErrorCodeStoreFailed, errDiscarded)
	}

	uploadKey := ObjectKey(task.JobID, "upload."+photo.Extension(task.MIME))
	if _, err := r.Blobs.Put(ctx, uploadKey, task.Photo, task.MIME); err != nil {
		return fail(domain.ErrorCodeUploadFailed, err)
	}
	*written = append(*written, uploadKey)

	sourceURL, err := r.Blobs.PresignGet(ctx, uploadKey, r.SourceTTL, storage.PresignOptions{})
	if err != nil {
		return fail(domain.ErrorCodeGenerationFailed, fmt.Errorf("presign upload: %w", err))
	}
	resultURL, err := r.Generator.Generate(ctx, imageprovider.GenerateRequest{
		Prompt:       imageprovider.FirefighterPrompt,
		SourceURL:    sourceURL,
		RequestID:    task.JobID,
		AspectRatio:  imageprovider.AspectSquare,
		OutputFormat: imageprovider.FormatPNG,
	})
	if err != nil {
		return fail(domain.ErrorCodeGenerationFailed, err)
	}

	raw, _, err := r.Downloader.Download(ctx, resultURL)
	if err != nil {
		return fail(domain.ErrorCodeGenerationFailed, err)
	}
	generated, err := photo.Decode(raw)
	if err != nil {
		return fail(domain.ErrorCodePostprocessFailed, err)
	}
	generatedPNG, err := photo.EncodePNG(generated)
	if err != nil {
		return fail(domain.ErrorCodePostprocessFailed, err)
	}
	generatedKey := ObjectKey(task.JobID, "generated.png")
	if _, err := r.Blobs.Put(ctx, generatedKey, generatedPNG, "image/png"); err != nil {
		return fail(domain.ErrorCodeStorageFailed, err)
	}
	*written = append(*written, generatedKey)

	final, err := r.Frame.BuildFinal(generated)
	if err != nil {
		return fail(domain.ErrorCodePostprocessFailed, err)
	}
	finalKey := ObjectKey(task.JobID, "final.png")
	publicURL, err := r.Blobs.Put(ctx, finalKey, final, "image/png")
	if err != nil {
		return fail(domain.ErrorCodeStorageFailed, err)
	}
	*written = append(*written, finalKey)

	applied, err := r.Repo.MarkReady(ctx, task.JobID, domain.Artifacts{
		UploadKey:    uploadKey,
		GeneratedKey: generatedKey,
		FinalKey:     finalKey,
		PublicURL:    publicURL,
	})
	if err != nil {
		return fail(domain.ErrorCodeStoreFailed, fmt.Errorf("mark ready: %w", err))
	}
	if !applied {
		return fail(domain.ErrorCodeStoreFailed, errDiscarded)
	}
	return nil
}

func (r *Runner) deleteBlobs(ctx context.Context, keys []string, log zerolog.Logger) {
	for _, key := range keys {
		if err := r.Blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("worker: orphaned blob")
		}
	}
}

// ObjectKey returns the blob key for one of a job's artifacts.
func ObjectKey(jobID, name string) string {
	return "selfies/" + jobID + "/" + name
}

var _ Handler = (*Runner)(nil)
