package domain

import (
	"context"
	"time"
)

// JobRepository is the durable Result Store. Transitions only apply to records
// still in processing; the returned bool reports whether the record changed.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByIdempotencyKey(ctx context.Context, key IdempotencyKey) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	MarkStarted(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkReady(ctx context.Context, id string, artifacts Artifacts) (bool, error)
	MarkFailed(ctx context.Context, id, message, code string) (bool, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Job, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
}
