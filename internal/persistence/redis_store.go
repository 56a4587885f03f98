package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/pkg/log"
	redis "github.com/redis/go-redis/v9"
)

const redisJobsIndex = "jobs"

// RedisStore keeps the job history in Redis.
// Keys: job:<id> => JSON(Job), plus the "jobs" sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ jobs.Store = (*RedisStore)(nil)

// RedisOptions selects the server holding the history.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, so several installs can share a server.
	Prefix string
}

func NewRedisClient(opts RedisOptions) *redis.Client {
	if opts.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := NewRedisClient(opts)
	if client == nil {
		return nil, fmt.Errorf("redis address is required")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) jobKey(id string) string { return r.prefix + "job:" + id }
func (r *RedisStore) indexKey() string        { return r.prefix + redisJobsIndex }

func (r *RedisStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(job.ID), b, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(job.CreatedAt.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) getJob(ctx context.Context, id string) (*jobs.Job, error) {
	val, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var j jobs.Job
	if err := json.Unmarshal(val, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// LoadJobs returns every stored job, oldest first.
// Index entries whose payload disappeared are dropped from the index.
func (r *RedisStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ret := make([]*jobs.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.getJob(ctx, id)
		if errors.Is(err, redis.Nil) {
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			log.Warn("Skipping unreadable job %s in redis: %v", id, err)
			continue
		}
		ret = append(ret, j)
	}
	return ret, nil
}

func (r *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.jobKey(jobID))
	pipe.ZRem(ctx, r.indexKey(), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// PruneTerminal deletes completed and failed jobs last updated before the cutoff.
func (r *RedisStore) PruneTerminal(ctx context.Context, before time.Time) ([]string, error) {
	all, err := r.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0)
	for _, j := range all {
		if !j.IsDone() || !j.UpdatedAt.Before(before) {
			continue
		}
		if err := r.DeleteJob(ctx, j.ID); err != nil {
			return removed, err
		}
		removed = append(removed, j.ID)
	}
	return removed, nil
}
