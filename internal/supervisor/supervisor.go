// Package supervisor owns one external downloader process for the lifetime
// of one job: spawn, output streaming, wait, and termination on cancel.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	apperrors "github.com/tubeget/tubeget/internal/errors"
	"github.com/tubeget/tubeget/internal/logger"
	"github.com/tubeget/tubeget/internal/progress"
)

// tailLines is how many trailing output lines are kept as diagnostic
// detail for a failed run.
const tailLines = 20

// EventFunc receives each parsed progress event in arrival order.
type EventFunc func(ev progress.Event)

// Supervisor is the live handle for one running downloader process.
type Supervisor struct {
	jobID string
	cmd   *exec.Cmd
	tail  *tailBuffer
	log   *logger.Logger

	cancelled atomic.Bool
	done      chan struct{}
	outcome   error
}

// Start spawns the process described by argv (executable first) with
// stdout and stderr merged into one stream. Parsed progress events are
// delivered to onEvent from the streaming goroutine. A spawn failure is
// reported immediately as a LaunchFailure.
func Start(ctx context.Context, jobID string, argv []string, onEvent EventFunc) (*Supervisor, error) {
	cmd := exec.Command(argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.LaunchFailure(err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, apperrors.LaunchFailure(err)
	}

	s := &Supervisor{
		jobID: jobID,
		cmd:   cmd,
		tail:  newTailBuffer(tailLines),
		log:   logger.Default().WithComponent("supervisor"),
		done:  make(chan struct{}),
	}

	go s.run(ctx, bufio.NewScanner(stdout), onEvent)

	return s, nil
}

// run consumes the merged output stream line by line, then reaps the
// process. Backpressure is bounded by the OS pipe buffer; no extra flow
// control is needed.
func (s *Supervisor) run(ctx context.Context, scanner *bufio.Scanner, onEvent EventFunc) {
	defer close(s.done)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.tail.add(line)

		// Unrecognized lines are the common case and never abort the job.
		if ev, ok := progress.Parse(line); ok && onEvent != nil {
			onEvent(ev)
		}
	}

	err := s.cmd.Wait()
	s.outcome = s.mapOutcome(ctx, err)
}

// mapOutcome converts the process exit into the job-level outcome: nil for
// success, Cancelled when terminated by our own cancel, RuntimeFailure
// otherwise.
func (s *Supervisor) mapOutcome(ctx context.Context, waitErr error) error {
	if s.cancelled.Load() {
		return apperrors.Cancelled(s.jobID)
	}
	if waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		s.log.Warn(ctx, "downloader exited non-zero", map[string]interface{}{
			"job_id":    s.jobID,
			"exit_code": code,
		})
		return apperrors.RuntimeFailure(code, s.tail.lines())
	}

	return apperrors.RuntimeFailure(-1, s.tail.lines()).WithCause(waitErr)
}

// Wait blocks until the process has exited and returns the outcome.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.outcome
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel sends a graceful terminate signal, waits up to grace for the
// process to exit, then forces a kill. It returns once the outcome is
// guaranteed reachable; the streaming goroutine independently records it.
func (s *Supervisor) Cancel(grace time.Duration) {
	s.cancelled.Store(true)

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone; the run goroutine reaps it.
		return
	}

	select {
	case <-s.done:
	case <-time.After(grace):
		s.cmd.Process.Kill()
	}
}

// Done exposes completion for select-based callers.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// tailBuffer keeps the last n lines of output.
type tailBuffer struct {
	buf  []string
	next int
	full bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{buf: make([]string, n)}
}

func (t *tailBuffer) add(line string) {
	t.buf[t.next] = line
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.full = true
	}
}

func (t *tailBuffer) lines() []string {
	if !t.full {
		return append([]string(nil), t.buf[:t.next]...)
	}
	out := make([]string, 0, len(t.buf))
	out = append(out, t.buf[t.next:]...)
	out = append(out, t.buf[:t.next]...)
	return out
}
