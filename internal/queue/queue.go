// Package queue is the durable job queue and job record store, backed by
// Redis. The queue list carries job ids only; job records live as JSON
// under their own keys and survive engine restarts. Delivery is at least
// once: the scheduler tolerates duplicate ids.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tubeget/tubeget/internal/job"
)

const (
	keyJobQueue = "download:queue"
	keyJob      = "download:job:"

	// Default timeout for blocking operations
	defaultBlockTimeout = 5 * time.Second
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueEmpty  = errors.New("queue is empty")
)

// Queue manages download job records and their FIFO admission order.
type Queue struct {
	client *redis.Client
}

// New creates a queue from a Redis URL.
func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Client returns the underlying Redis client so other components can share
// the connection.
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, keyJobQueue, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Requeue puts a job id back at the consumption end of the queue, ahead of
// waiting jobs. Used when a worker dequeued under exhausted capacity.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, keyJobQueue, jobID).Err(); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// Dequeue blocks until a job id is available or the timeout elapses,
// returning ErrQueueEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyJobQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return "", ErrQueueEmpty
	}

	return result[1], nil
}

// Length returns the number of jobs waiting in the queue.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyJobQueue).Result()
}

// SaveJob persists a job record.
func (q *Queue) SaveJob(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.Set(ctx, keyJob+j.ID, data, 0).Err()
}

// GetJob retrieves a job record by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	data, err := q.client.Get(ctx, keyJob+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &j, nil
}

// UpdateStatus loads a job, applies the status change with its timestamps,
// and saves it back.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, status job.Status, progress float64, errMsg string) error {
	j, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	j.Status = status
	j.Progress = progress
	j.Error = errMsg
	j.UpdatedAt = time.Now()

	if status == job.StatusDownloading && j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}

	if j.IsTerminal() {
		now := time.Now()
		j.CompletedAt = &now
	}

	return q.SaveJob(ctx, j)
}
