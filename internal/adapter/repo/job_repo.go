package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/infra"
	"github.com/caminocomms/flames-selfie-test/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on the selfie_results table.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a processing record. The unique idempotency constraint turns a
// racing duplicate into domain.ErrDuplicateKey.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertSelfieResult,
		job.ID,
		string(job.Status),
		job.CreatedAt,
		job.ExpiresAt,
		job.ClientHash,
		job.ClientRequestID,
		job.UserAgentHash,
		job.PromptVersion,
	)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("insert selfie result: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) GetByIdempotencyKey(ctx context.Context, key domain.IdempotencyKey) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectSelfieResultByIdempotencyKey, key.ClientHash, key.ClientRequestID)
	return scanJob(row)
}

func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectSelfieResultByID, id)
	return scanJob(row)
}

func (r *JobRepositoryPG) MarkStarted(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkSelfieResultStarted, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("mark started: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) MarkReady(ctx context.Context, id string, a domain.Artifacts) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkSelfieResultReady, id, a.UploadKey, a.GeneratedKey, a.FinalKey, a.PublicURL)
	if err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) MarkFailed(ctx context.Context, id, message, code string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkSelfieResultFailed, id, message, code)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListExpiredSelfieResults, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return jobs, nil
}

func (r *JobRepositoryPG) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteSelfieResults, ids)
	if err != nil {
		return 0, fmt.Errorf("delete selfie results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		startedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.CreatedAt,
		&startedAt,
		&job.ExpiresAt,
		&job.ClientHash,
		&job.ClientRequestID,
		&job.UserAgentHash,
		&job.UploadObjectKey,
		&job.GeneratedObjectKey,
		&job.FinalObjectKey,
		&job.PublicImageURL,
		&job.ErrorMessage,
		&job.InternalErrorCode,
		&job.PromptVersion,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan selfie result: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.StartedAt = startedAt
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
