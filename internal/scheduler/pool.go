// Package scheduler is the capacity-bounded coordinator of the download
// engine: it admits jobs from the durable queue into supervised
// subprocesses, tracks active handles for cancellation, and retires
// completed jobs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tubeget/tubeget/internal/command"
	apperrors "github.com/tubeget/tubeget/internal/errors"
	"github.com/tubeget/tubeget/internal/job"
	"github.com/tubeget/tubeget/internal/logger"
	"github.com/tubeget/tubeget/internal/progress"
	"github.com/tubeget/tubeget/internal/queue"
	"github.com/tubeget/tubeget/internal/state"
	"github.com/tubeget/tubeget/internal/supervisor"
)

const (
	DefaultWorkerCount   = 3
	DefaultMaxConcurrent = 10
	DefaultGracePeriod   = 10 * time.Second
	DefaultDequeueWait   = 5 * time.Second
)

// Queue is the durable admission queue the pool consumes. Delivery is at
// least once; duplicates are tolerated by the idempotency guard.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Requeue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Length(ctx context.Context) (int64, error)
}

// Store is the durable job record store.
type Store interface {
	SaveJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status job.Status, progress float64, errMsg string) error
}

// Publisher broadcasts live snapshots. Publishing is best effort.
type Publisher interface {
	PublishStatus(ctx context.Context, jobID string, snap state.Snapshot)
	PublishSpeed(ctx context.Context, jobID string, bytesPerSec float64)
	ReadStatus(ctx context.Context, jobID string) (*state.Snapshot, bool)
	ReadSpeed(ctx context.Context, jobID string) (*state.SpeedSample, bool)
}

// handle is the cancellable task handle for one running job, independent
// of the underlying concurrency primitive.
type handle interface {
	Wait(ctx context.Context) error
	Cancel(grace time.Duration)
	Done() <-chan struct{}
}

// launchFunc spawns a supervised process. Swappable in tests.
type launchFunc func(ctx context.Context, jobID string, argv []string, onEvent supervisor.EventFunc) (handle, error)

func defaultLaunch(ctx context.Context, jobID string, argv []string, onEvent supervisor.EventFunc) (handle, error) {
	return supervisor.Start(ctx, jobID, argv, onEvent)
}

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	WorkerCount       int
	MaxConcurrent     int
	CancelGracePeriod time.Duration
	DequeueTimeout    time.Duration
}

// Pool runs N worker goroutines against the durable queue while enforcing
// the global concurrency cap.
type Pool struct {
	queue   Queue
	store   Store
	pub     Publisher
	builder *command.Builder
	launch  launchFunc
	log     *logger.Logger

	workerCount    int
	capacity       int
	gracePeriod    time.Duration
	dequeueTimeout time.Duration

	// sem is the single authority for the concurrency cap, acquired
	// between dequeue and dispatch.
	sem *semaphore.Weighted

	// mu guards active, the only mutable state shared across workers.
	mu     sync.Mutex
	active map[string]handle

	runMu    sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a worker pool over the given collaborators.
func NewPool(q Queue, store Store, pub Publisher, builder *command.Builder, cfg *PoolConfig) *Pool {
	if cfg == nil {
		cfg = &PoolConfig{}
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	capacity := cfg.MaxConcurrent
	if capacity <= 0 {
		capacity = DefaultMaxConcurrent
	}

	grace := cfg.CancelGracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = DefaultDequeueWait
	}

	return &Pool{
		queue:          q,
		store:          store,
		pub:            pub,
		builder:        builder,
		launch:         defaultLaunch,
		log:            logger.Default().WithComponent("scheduler"),
		workerCount:    workerCount,
		capacity:       capacity,
		gracePeriod:    grace,
		dequeueTimeout: dequeueTimeout,
		sem:            semaphore.NewWeighted(int64(capacity)),
		active:         make(map[string]handle),
		stopChan:       make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.stopChan = make(chan struct{})

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.log.Info(context.Background(), "worker pool started", map[string]interface{}{
		"workers":  p.workerCount,
		"capacity": p.capacity,
	})
}

// Stop stops the pool, waiting for in-flight jobs to finish or the context
// to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	p.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info(ctx, "worker pool stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn(ctx, "worker pool shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the pool is currently running.
func (p *Pool) IsRunning() bool {
	p.runMu.RLock()
	defer p.runMu.RUnlock()
	return p.running
}

// ActiveCount returns the number of jobs currently downloading.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Capacity returns the configured concurrency cap.
func (p *Pool) Capacity() int {
	return p.capacity
}

// worker is the dispatch loop of a single worker.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		default:
			p.processNext(id)
		}
	}
}

// processNext dequeues and dispatches one job. A timeout without work
// simply re-loops so the worker keeps observing stopChan.
func (p *Pool) processNext(workerID int) {
	ctx := context.Background()

	jobID, err := p.queue.Dequeue(ctx, p.dequeueTimeout)
	if err != nil {
		if !errors.Is(err, queue.ErrQueueEmpty) {
			p.log.Error(ctx, "dequeue failed", err, map[string]interface{}{"worker": workerID})
			time.Sleep(time.Second)
		}
		return
	}

	ctx = apperrors.WithJobID(ctx, jobID)

	// Idempotency guard: at-least-once delivery means the same id can
	// arrive twice. Already-active and already-terminal jobs are no-ops.
	p.mu.Lock()
	_, isActive := p.active[jobID]
	p.mu.Unlock()
	if isActive {
		p.log.Warn(ctx, "duplicate delivery of active job, skipping")
		return
	}

	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			p.log.Warn(ctx, "dequeued unknown job, skipping")
		} else {
			p.log.Error(ctx, "failed to load job record", err)
		}
		return
	}
	if j.IsTerminal() {
		p.log.Info(ctx, "dequeued terminal job, skipping", map[string]interface{}{
			"status": string(j.Status),
		})
		return
	}

	// The cap is enforced here, between dequeue and dispatch. A slot can
	// be gone by now when the queue is shared; the job goes back to the
	// front of the line rather than being held in memory.
	if !p.sem.TryAcquire(1) {
		p.log.Info(ctx, "capacity exhausted, requeueing")
		if err := p.queue.Requeue(ctx, jobID); err != nil {
			p.log.Error(ctx, "requeue failed", err)
		}
		time.Sleep(100 * time.Millisecond)
		return
	}

	p.log.Info(ctx, "dispatching job", map[string]interface{}{"worker": workerID})

	// The worker goes straight back to the queue; the semaphore is the
	// only concurrency authority, so a few workers can keep the full
	// capacity fed.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runJob(ctx, j)
	}()
}

// runJob owns one admitted job from dispatch to retirement. The semaphore
// slot is held for the whole run.
func (p *Pool) runJob(ctx context.Context, j *job.Job) {
	defer p.sem.Release(1)

	argv, err := p.builder.Build(&j.Config)
	if err != nil {
		p.finalize(ctx, j.ID, job.StatusFailed, 0, apperrors.LaunchFailure(err))
		return
	}

	// Progress within one run never goes backwards, even if the tool
	// re-reports a lower percentage across fragments. The mutex also
	// serializes publishes so snapshots leave in clamped order.
	var progressMu sync.Mutex
	var lastPct float64

	publishProgress := func(pct float64, speed *float64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if pct > lastPct {
			lastPct = pct
		}
		if err := p.store.UpdateStatus(ctx, j.ID, job.StatusDownloading, lastPct, ""); err != nil {
			p.log.Debug(ctx, "progress persist failed", map[string]interface{}{"error": err.Error()})
		}
		p.pub.PublishStatus(ctx, j.ID, state.Snapshot{
			Status:   job.StatusDownloading,
			Progress: lastPct,
			Speed:    speed,
		})
	}

	// No downloading state leaves this function before the handle is in
	// the active set, otherwise a cancel could observe downloading with
	// nothing to signal. Early stream events block on registered.
	registered := make(chan struct{})

	onEvent := func(ev progress.Event) {
		<-registered
		if ev.Percent != nil {
			publishProgress(*ev.Percent, ev.BytesPerSec)
		}
		if ev.BytesPerSec != nil {
			p.pub.PublishSpeed(ctx, j.ID, *ev.BytesPerSec)
		}
	}

	h, err := p.launch(ctx, j.ID, argv, onEvent)
	if err != nil {
		// A launch failure never enters downloading: terminal right
		// away, zero progress, no output captured.
		p.finalize(ctx, j.ID, job.StatusFailed, 0, err)
		return
	}

	p.mu.Lock()
	p.active[j.ID] = h
	p.mu.Unlock()
	close(registered)

	// A cancel between the dispatch-time status check and registration
	// marked the record cancelled with no process to signal yet.
	if cur, err := p.store.GetJob(ctx, j.ID); err == nil && cur.Status == job.StatusCancelled {
		go h.Cancel(p.gracePeriod)
	} else {
		publishProgress(0, nil)
	}

	outcome := h.Wait(ctx)

	progressMu.Lock()
	finalPct := lastPct
	progressMu.Unlock()

	switch {
	case outcome == nil:
		p.finalize(ctx, j.ID, job.StatusCompleted, 100, nil)
	case apperrors.IsCancelled(outcome):
		p.finalize(ctx, j.ID, job.StatusCancelled, finalPct, nil)
	default:
		p.finalize(ctx, j.ID, job.StatusFailed, finalPct, outcome)
	}

	// The handle leaves the active set only after the final snapshot is
	// out, so a concurrent cancel either reaches the process or observes
	// the terminal state.
	p.mu.Lock()
	delete(p.active, j.ID)
	p.mu.Unlock()
}

// finalize records and publishes the terminal state of one run.
func (p *Pool) finalize(ctx context.Context, jobID string, status job.Status, pct float64, cause error) {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
		// Downloader failures are routine; anything else is the
		// engine's own fault and logged loudly.
		if apperrors.IsExternalError(cause) {
			p.log.Warn(ctx, "job failed", map[string]interface{}{"error": errMsg})
		} else {
			p.log.Error(ctx, "job failed", cause)
		}
	} else {
		p.log.Info(ctx, "job finished", map[string]interface{}{"status": string(status)})
	}

	if err := p.store.UpdateStatus(ctx, jobID, status, pct, errMsg); err != nil {
		p.log.Error(ctx, "failed to record terminal status", err)
	}

	p.pub.PublishStatus(ctx, jobID, state.Snapshot{
		Status:   status,
		Progress: pct,
		Error:    errMsg,
	})
}

// CancelActive terminates the running process for jobID if one exists,
// returning false when the job is not in the active set. The termination
// signal is sent immediately; escalation to a kill happens after the grace
// period without blocking the caller.
func (p *Pool) CancelActive(jobID string) bool {
	p.mu.Lock()
	h, ok := p.active[jobID]
	p.mu.Unlock()

	if !ok {
		return false
	}

	go h.Cancel(p.gracePeriod)
	return true
}
