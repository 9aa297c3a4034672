package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

const (
	redisJobPrefix   = "selfie:job:"
	redisIdemPrefix  = "selfie:idem:"
	redisExpiryIndex = "selfie:expiry"

	redisTxRetries = 5
)

// createScript claims the idempotency key and writes the job in one step.
// KEYS: idem, job, expiry index. ARGV: id, job json, expires_at unix.
var createScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// JobRepositoryRedis stores each job as JSON with a pointer key per
// idempotency key and a sorted set indexed by expiry.
type JobRepositoryRedis struct {
	client redis.UniversalClient
}

func NewJobRepositoryRedis(client redis.UniversalClient) *JobRepositoryRedis {
	return &JobRepositoryRedis{client: client}
}

func jobKey(id string) string {
	return redisJobPrefix + id
}

func idemKey(key domain.IdempotencyKey) string {
	return redisIdemPrefix + key.ClientHash + ":" + key.ClientRequestID
}

func (r *JobRepositoryRedis) Create(ctx context.Context, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	keys := []string{idemKey(job.IdempotencyKey()), jobKey(job.ID), redisExpiryIndex}
	created, err := createScript.Run(ctx, r.client, keys, job.ID, raw, job.ExpiresAt.Unix()).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return domain.ErrDuplicateKey
	}
	return nil
}

func (r *JobRepositoryRedis) GetByIdempotencyKey(ctx context.Context, key domain.IdempotencyKey) (*domain.Job, error) {
	id, err := r.client.Get(ctx, idemKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *JobRepositoryRedis) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(raw)
}

func (r *JobRepositoryRedis) MarkStarted(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	return r.transition(ctx, id, func(j *domain.Job) {
		t := startedAt
		j.StartedAt = &t
	})
}

func (r *JobRepositoryRedis) MarkReady(ctx context.Context, id string, a domain.Artifacts) (bool, error) {
	return r.transition(ctx, id, func(j *domain.Job) { j.Apply(a) })
}

func (r *JobRepositoryRedis) MarkFailed(ctx context.Context, id, message, code string) (bool, error) {
	return r.transition(ctx, id, func(j *domain.Job) { j.Fail(message, code) })
}

var errNotApplied = errors.New("transition not applied")

// transition rewrites a processing job under WATCH so a concurrent writer
// forces a retry instead of a lost update.
func (r *JobRepositoryRedis) transition(ctx context.Context, id string, fn func(*domain.Job)) (bool, error) {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errNotApplied
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusProcessing {
			return errNotApplied
		}
		fn(job)
		updated, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errNotApplied):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("update job %s: %w", id, err)
		}
	}
	return false, fmt.Errorf("update job %s: too much contention", id)
}

func (r *JobRepositoryRedis) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisExpiryIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expired jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(s))
		if err != nil {
			return nil, err
		}
		if job.ExpiresAt.After(asOf) {
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (r *JobRepositoryRedis) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	idemKeys := make([]string, 0, len(ids))
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		idemKeys = append(idemKeys, idemKey(job.IdempotencyKey()))
	}

	members := make([]any, len(ids))
	jobKeys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		jobKeys[i] = jobKey(id)
	}
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, jobKeys...)
		if len(idemKeys) > 0 {
			pipe.Del(ctx, idemKeys...)
		}
		pipe.ZRem(ctx, redisExpiryIndex, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return int(deleted.Val()), nil
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryRedis)(nil)
