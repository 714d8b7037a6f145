// Package jobs provides the redis-backed queue for deferred index work.
// Jobs are labelled; enqueueing a label that is already pending is
// suppressed, so one logical change produces at most one queued job.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey      = "jobs:queue"
	pendingPrefix = "jobs:pending:"
)

// Job is one unit of deferred work.
type Job struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`
}

// ErrEmpty is returned by TryDequeue when no job is waiting.
var ErrEmpty = errors.New("queue empty")

type Queue struct {
	client *redis.Client
}

// NewQueue connects to the given redis URL.
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewQueueWithClient creates a queue from an existing Redis client.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueIfUnique pushes the job unless one with the same label is
// already pending. Returns whether the job was actually enqueued.
func (q *Queue) EnqueueIfUnique(ctx context.Context, label string, payload []byte) (bool, error) {
	claimed, err := q.client.SetNX(ctx, pendingPrefix+label, 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim pending marker: %w", err)
	}
	if !claimed {
		return false, nil
	}

	data, err := json.Marshal(Job{Label: label, Payload: payload})
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queueKey, data).Err(); err != nil {
		// Release the marker so a retry is not suppressed forever.
		q.client.Del(ctx, pendingPrefix+label)
		return false, fmt.Errorf("push job: %w", err)
	}
	return true, nil
}

// TryDequeue pops the oldest job, or ErrEmpty. The pending marker is
// cleared on dequeue, so an equivalent change arriving during processing
// queues a fresh job rather than being lost.
func (q *Queue) TryDequeue(ctx context.Context) (Job, error) {
	data, err := q.client.LPop(ctx, queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("pop job: %w", err)
	}
	return q.release(ctx, data)
}

// Dequeue blocks up to timeout for the next job.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("pop job: %w", err)
	}
	if len(result) < 2 {
		return Job{}, fmt.Errorf("unexpected blpop reply of length %d", len(result))
	}
	return q.release(ctx, []byte(result[1]))
}

// Requeue puts a failed job back for another attempt.
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	_, err := q.EnqueueIfUnique(ctx, job.Label, job.Payload)
	return err
}

// Len reports the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}

func (q *Queue) release(ctx context.Context, data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := q.client.Del(ctx, pendingPrefix+job.Label).Err(); err != nil {
		return Job{}, fmt.Errorf("clear pending marker: %w", err)
	}
	return job, nil
}
