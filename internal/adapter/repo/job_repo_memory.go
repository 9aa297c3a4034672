package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

// JobRepositoryMemory keeps jobs in process memory. Records do not survive a
// restart, so it is only wired for development and tests.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	idem map[domain.IdempotencyKey]string
}

func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs: make(map[string]*domain.Job),
		idem: make(map[domain.IdempotencyKey]string),
	}
}

func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := job.IdempotencyKey()
	if _, ok := r.idem[key]; ok {
		return domain.ErrDuplicateKey
	}
	r.jobs[job.ID] = job.Clone()
	r.idem[key] = job.ID
	return nil
}

func (r *JobRepositoryMemory) GetByIdempotencyKey(ctx context.Context, key domain.IdempotencyKey) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idem[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.jobs[id].Clone(), nil
}

func (r *JobRepositoryMemory) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) MarkStarted(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	return r.update(id, func(j *domain.Job) {
		t := startedAt
		j.StartedAt = &t
	}), nil
}

func (r *JobRepositoryMemory) MarkReady(ctx context.Context, id string, a domain.Artifacts) (bool, error) {
	return r.update(id, func(j *domain.Job) { j.Apply(a) }), nil
}

func (r *JobRepositoryMemory) MarkFailed(ctx context.Context, id, message, code string) (bool, error) {
	return r.update(id, func(j *domain.Job) { j.Fail(message, code) }), nil
}

// update applies fn only while the job is still processing.
func (r *JobRepositoryMemory) update(id string, fn func(*domain.Job)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false
	}
	fn(job)
	return true
}

func (r *JobRepositoryMemory) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if !job.ExpiresAt.After(asOf) {
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	return out, nil
}

func (r *JobRepositoryMemory) DeleteMany(ctx context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		delete(r.idem, job.IdempotencyKey())
		delete(r.jobs, id)
		deleted++
	}
	return deleted, nil
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
