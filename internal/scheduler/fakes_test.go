package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/tubeget/tubeget/internal/errors"
	"github.com/tubeget/tubeget/internal/job"
	"github.com/tubeget/tubeget/internal/queue"
	"github.com/tubeget/tubeget/internal/state"
	"github.com/tubeget/tubeget/internal/supervisor"
)

// fakeQueue is an in-memory FIFO with the durable queue's semantics:
// Enqueue pushes to the back of the line, Requeue to the front.
type fakeQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]string{jobID}, q.items...)
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, jobID)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			jobID := q.items[n-1]
			q.items = q.items[:n-1]
			q.mu.Unlock()
			return jobID, nil
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return "", queue.ErrQueueEmpty
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (q *fakeQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// fakeStore is an in-memory job record store. onUpdate, when set, runs at
// the top of UpdateStatus outside the lock so tests can freeze a writer
// mid-call.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]job.Job
	onUpdate func(jobID string, status job.Status)
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]job.Job)}
}

func (s *fakeStore) SaveJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = *j
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	copied := j
	return &copied, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, jobID string, status job.Status, progress float64, errMsg string) error {
	if s.onUpdate != nil {
		s.onUpdate(jobID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return queue.ErrJobNotFound
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

	s.jobs[jobID] = j
	return nil
}

func (s *fakeStore) status(jobID string) job.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

func (s *fakeStore) get(jobID string) job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID]
}

// fakePublisher records every published snapshot per job.
type fakePublisher struct {
	mu     sync.Mutex
	snaps  map[string][]state.Snapshot
	speeds map[string][]float64
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		snaps:  make(map[string][]state.Snapshot),
		speeds: make(map[string][]float64),
	}
}

func (p *fakePublisher) PublishStatus(ctx context.Context, jobID string, snap state.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[jobID] = append(p.snaps[jobID], snap)
}

func (p *fakePublisher) PublishSpeed(ctx context.Context, jobID string, bytesPerSec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speeds[jobID] = append(p.speeds[jobID], bytesPerSec)
}

func (p *fakePublisher) ReadStatus(ctx context.Context, jobID string) (*state.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	history := p.snaps[jobID]
	if len(history) == 0 {
		return nil, false
	}
	snap := history[len(history)-1]
	return &snap, true
}

func (p *fakePublisher) ReadSpeed(ctx context.Context, jobID string) (*state.SpeedSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	history := p.speeds[jobID]
	if len(history) == 0 {
		return nil, false
	}
	return &state.SpeedSample{BytesPerSec: history[len(history)-1]}, true
}

func (p *fakePublisher) history(jobID string) []state.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]state.Snapshot(nil), p.snaps[jobID]...)
}

// fakeHandle is a controllable stand-in for a supervised process.
type fakeHandle struct {
	jobID string
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	outcome error
}

func (h *fakeHandle) complete(err error) {
	h.mu.Lock()
	h.outcome = err
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.outcome
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandle) Cancel(grace time.Duration) {
	h.complete(apperrors.Cancelled(h.jobID))
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

// fakeLauncher hands out fakeHandles and tracks concurrency.
type fakeLauncher struct {
	mu        sync.Mutex
	handles   map[string]*fakeHandle
	events    map[string]supervisor.EventFunc
	finished  map[string]bool
	started   []string
	active    int
	maxActive int
	failWith  error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		handles:  make(map[string]*fakeHandle),
		events:   make(map[string]supervisor.EventFunc),
		finished: make(map[string]bool),
	}
}

func (l *fakeLauncher) launch(ctx context.Context, jobID string, argv []string, onEvent supervisor.EventFunc) (handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failWith != nil {
		return nil, l.failWith
	}

	h := &fakeHandle{jobID: jobID, done: make(chan struct{})}
	l.handles[jobID] = h
	l.events[jobID] = onEvent
	l.started = append(l.started, jobID)
	l.active++
	if l.active > l.maxActive {
		l.maxActive = l.active
	}
	return h, nil
}

func (l *fakeLauncher) complete(jobID string, outcome error) {
	l.mu.Lock()
	h := l.handles[jobID]
	if h == nil || l.finished[jobID] {
		l.mu.Unlock()
		return
	}
	l.finished[jobID] = true
	l.active--
	l.mu.Unlock()

	h.complete(outcome)
}

// releaseAll unblocks every outstanding handle so the pool can drain.
func (l *fakeLauncher) releaseAll() {
	l.mu.Lock()
	pending := make([]*fakeHandle, 0, len(l.handles))
	for jobID, h := range l.handles {
		if !l.finished[jobID] {
			l.finished[jobID] = true
			l.active--
			pending = append(pending, h)
		}
	}
	l.mu.Unlock()

	for _, h := range pending {
		h.complete(nil)
	}
}

func (l *fakeLauncher) startedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started)
}

func (l *fakeLauncher) startedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...)
}

func (l *fakeLauncher) peakActive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxActive
}

func (l *fakeLauncher) eventFunc(jobID string) supervisor.EventFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[jobID]
}
