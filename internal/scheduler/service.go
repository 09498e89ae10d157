package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tubeget/tubeget/internal/command"
	apperrors "github.com/tubeget/tubeget/internal/errors"
	"github.com/tubeget/tubeget/internal/job"
	"github.com/tubeget/tubeget/internal/logger"
	"github.com/tubeget/tubeget/internal/queue"
	"github.com/tubeget/tubeget/internal/state"
)

// Service is the engine-facing API consumed by the transport layer:
// submit, cancel, retry, status, pool status.
type Service struct {
	queue Queue
	store Store
	pub   Publisher
	pool  *Pool
	log   *logger.Logger
}

// ServiceConfig holds configuration for a Redis-backed service.
type ServiceConfig struct {
	RedisURL          string
	YtDlpPath         string
	WorkerCount       int
	MaxConcurrent     int
	CancelGracePeriod time.Duration
	DequeueTimeout    time.Duration
}

// NewService wires a service onto Redis, sharing one connection between
// the queue and the state publisher.
func NewService(cfg *ServiceConfig) (*Service, error) {
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	pub := state.NewWithClient(q.Client())
	builder := command.New(cfg.YtDlpPath)

	return New(q, q, pub, builder, &PoolConfig{
		WorkerCount:       cfg.WorkerCount,
		MaxConcurrent:     cfg.MaxConcurrent,
		CancelGracePeriod: cfg.CancelGracePeriod,
		DequeueTimeout:    cfg.DequeueTimeout,
	}), nil
}

// New assembles a service from its collaborators.
func New(q Queue, store Store, pub Publisher, builder *command.Builder, poolCfg *PoolConfig) *Service {
	return &Service{
		queue: q,
		store: store,
		pub:   pub,
		pool:  NewPool(q, store, pub, builder, poolCfg),
		log:   logger.Default().WithComponent("service"),
	}
}

// Start launches the worker pool.
func (s *Service) Start() {
	s.pool.Start()
}

// Stop stops the worker pool, waiting for in-flight jobs up to the
// context deadline.
func (s *Service) Stop(ctx context.Context) error {
	return s.pool.Stop(ctx)
}

// Pool exposes the underlying worker pool.
func (s *Service) Pool() *Pool {
	return s.pool
}

// Submit validates the configuration, creates the job record, and admits
// it to the durable queue. The returned job is in status queued.
func (s *Service) Submit(ctx context.Context, cfg job.Config) (*job.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	j := &job.Job{
		ID:        uuid.New().String(),
		Config:    cfg,
		Status:    job.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx = apperrors.WithJobID(ctx, j.ID)

	if err := s.store.SaveJob(ctx, j); err != nil {
		return nil, apperrors.QueueError("failed to save job record").WithCause(err)
	}

	if err := s.queue.Enqueue(ctx, j.ID); err != nil {
		return nil, apperrors.QueueError("failed to enqueue job").WithCause(err)
	}

	j.Status = job.StatusQueued
	j.UpdatedAt = time.Now()
	if err := s.store.SaveJob(ctx, j); err != nil {
		return nil, apperrors.QueueError("failed to save job record").WithCause(err)
	}

	s.pub.PublishStatus(ctx, j.ID, state.Snapshot{Status: job.StatusQueued})
	s.log.Info(ctx, "job submitted", map[string]interface{}{"url": cfg.URL})

	return j, nil
}

// Cancel terminates a job. A downloading job gets its process signalled; a
// pending or queued job is marked cancelled without ever spawning, and the
// dispatch-time terminal check guarantees it is never executed. Returns
// false when the job is already terminal.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	ctx = apperrors.WithJobID(ctx, jobID)

	if s.pool.CancelActive(jobID) {
		s.log.Info(ctx, "cancel signalled to active job")
		return true, nil
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return false, apperrors.JobNotFound(jobID)
		}
		return false, apperrors.QueueError("failed to load job record").WithCause(err)
	}

	switch j.Status {
	case job.StatusPending, job.StatusQueued, job.StatusPaused:
		if err := s.store.UpdateStatus(ctx, jobID, job.StatusCancelled, j.Progress, ""); err != nil {
			return false, apperrors.QueueError("failed to record cancellation").WithCause(err)
		}
		s.pub.PublishStatus(ctx, jobID, state.Snapshot{
			Status:   job.StatusCancelled,
			Progress: j.Progress,
		})
		s.log.Info(ctx, "queued job cancelled without spawning")
		return true, nil
	case job.StatusDownloading:
		// The pool registers the handle before the first downloading
		// publish, so a downloading record means the run is either still
		// active or just retired with its terminal snapshot on the way.
		s.pool.CancelActive(jobID)
		return true, nil
	default:
		return false, nil
	}
}

// Retry re-admits a failed or cancelled job, resetting its run state. It
// is an explicit caller action, bounded by the job's max retry count.
func (s *Service) Retry(ctx context.Context, jobID string) (bool, error) {
	ctx = apperrors.WithJobID(ctx, jobID)

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return false, apperrors.JobNotFound(jobID)
		}
		return false, apperrors.QueueError("failed to load job record").WithCause(err)
	}

	if j.Status != job.StatusFailed && j.Status != job.StatusCancelled {
		return false, apperrors.InvalidStatus(jobID, string(j.Status))
	}
	if !j.CanRetry() {
		return false, apperrors.RetryExhausted(jobID)
	}

	j.ResetForRetry()
	if err := s.store.SaveJob(ctx, j); err != nil {
		return false, apperrors.QueueError("failed to save job record").WithCause(err)
	}

	if err := s.queue.Enqueue(ctx, j.ID); err != nil {
		return false, apperrors.QueueError("failed to enqueue job").WithCause(err)
	}

	j.Status = job.StatusQueued
	j.UpdatedAt = time.Now()
	if err := s.store.SaveJob(ctx, j); err != nil {
		return false, apperrors.QueueError("failed to save job record").WithCause(err)
	}

	s.pub.PublishStatus(ctx, jobID, state.Snapshot{Status: job.StatusQueued})
	s.log.Info(ctx, "job re-admitted for retry", map[string]interface{}{
		"retry_count": j.RetryCount,
	})

	return true, nil
}

// StatusOf returns the freshest view of a job: the published snapshot when
// one is live, otherwise a snapshot synthesized from the durable record.
// A fresh speed sample is merged in when available; its absence means
// unknown, not zero.
func (s *Service) StatusOf(ctx context.Context, jobID string) (*state.Snapshot, bool) {
	snap, ok := s.pub.ReadStatus(ctx, jobID)
	if !ok {
		j, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, false
		}
		snap = &state.Snapshot{
			Status:    j.Status,
			Progress:  j.Progress,
			Error:     j.Error,
			UpdatedAt: j.UpdatedAt,
		}
	}

	if snap.Speed == nil {
		if sample, ok := s.pub.ReadSpeed(ctx, jobID); ok {
			snap.Speed = &sample.BytesPerSec
		}
	}

	return snap, true
}

// PoolStatus describes the pool's current load.
type PoolStatus struct {
	ActiveCount int   `json:"active_count"`
	Capacity    int   `json:"capacity"`
	QueueLength int64 `json:"queue_length"`
}

// Status reports active count, capacity, and queue length.
func (s *Service) Status(ctx context.Context) (*PoolStatus, error) {
	length, err := s.queue.Length(ctx)
	if err != nil {
		return nil, apperrors.QueueError("failed to read queue length").WithCause(err)
	}

	return &PoolStatus{
		ActiveCount: s.pool.ActiveCount(),
		Capacity:    s.pool.Capacity(),
		QueueLength: length,
	}, nil
}
