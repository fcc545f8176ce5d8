// Package process runs a child process under a dual-stage timeout.
//
// Every supervised process moves through an explicit state machine:
//
//	running -> exited
//	running -> signaled -> exited
//	running -> signaled -> killed
//
// The first timer fires after the timeout and sends a graceful termination signal to the
// process group. The second timer fires after the grace period and forcefully kills it.
// Both timers are stopped as soon as the process exits on its own.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod is the time between the graceful signal and the forced kill.
	DefaultGracePeriod = 5 * time.Second

	// DefaultMaxOutputBytes caps each of stdout and stderr.
	DefaultMaxOutputBytes = 512 * 1024
)

// State is the supervision state of a process.
type State string

const (
	StateRunning  State = "running"
	StateSignaled State = "signaled"
	StateKilled   State = "killed"
	StateExited   State = "exited"
)

// ErrEmptyCommand is returned when Spec.Path is empty.
var ErrEmptyCommand = errors.New("process: command is empty")

// Spec describes what to run and under which limits.
type Spec struct {
	Path string
	Args []string

	// Dir is the working directory. Empty means the current directory of the host process.
	Dir string

	// Env is the complete environment of the child. Nil inherits the host environment.
	Env []string

	Stdin io.Reader

	// Timeout is mandatory; a process is never left running without one.
	Timeout time.Duration

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// MaxOutputBytes defaults to DefaultMaxOutputBytes.
	MaxOutputBytes int
}

// Result is the outcome of a supervised run.
// A non-zero exit code is reported here and is not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string

	StdoutTruncated bool
	StderrTruncated bool

	// TimedOut is true if the timeout (or the caller's context) ended the process.
	TimedOut bool
	State    State
	Duration time.Duration
}

// supervisor holds the state machine of one process.
type supervisor struct {
	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	log   *zap.Logger
}

func (s *supervisor) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateExited || s.state == StateKilled:
		return false
	case to == StateSignaled && s.state != StateRunning:
		return false
	}
	s.state = to
	return true
}

func (s *supervisor) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts the process and blocks until it has exited or been killed.
// The returned error is only non-nil if the process could not be started.
func Run(ctx context.Context, spec Spec, logger *zap.Logger) (*Result, error) {
	if spec.Path == "" {
		return nil, ErrEmptyCommand
	}
	if spec.Timeout <= 0 {
		return nil, fmt.Errorf("process: timeout must be positive, got %s", spec.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := spec.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	limit := spec.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = spec.Stdin
	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// grandchildren holding the pipes open must not keep Wait blocked after the kill
	cmd.WaitDelay = grace
	setProcessGroup(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	sv := &supervisor{state: StateRunning, cmd: cmd, log: logger.With(zap.Int("pid", cmd.Process.Pid))}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timeoutTimer := time.NewTimer(spec.Timeout)
	defer timeoutTimer.Stop()
	var graceTimer *time.Timer
	var graceC <-chan time.Time
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	timedOut := false
	ctxDone := ctx.Done()
	var waitErr error

loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-timeoutTimer.C:
			timedOut = true
			if graceTimer == nil {
				graceTimer, graceC = sv.signal(grace)
			}
		case <-ctxDone:
			ctxDone = nil
			timedOut = true
			timeoutTimer.Stop()
			if graceTimer == nil {
				graceTimer, graceC = sv.signal(grace)
			}
		case <-graceC:
			graceC = nil
			sv.kill()
		}
	}

	final := sv.current()
	if final == StateRunning || final == StateSignaled {
		sv.transition(StateExited)
		final = StateExited
	}

	res := &Result{
		ExitCode:        exitCode(cmd, waitErr),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		TimedOut:        timedOut,
		State:           final,
		Duration:        time.Since(started),
	}
	return res, nil
}

// signal moves the process to the signaled state and arms the kill timer.
func (s *supervisor) signal(grace time.Duration) (*time.Timer, <-chan time.Time) {
	if !s.transition(StateSignaled) {
		return nil, nil
	}
	s.log.Debug("process exceeded its timeout, sending termination signal")
	if err := terminate(s.cmd); err != nil {
		s.log.Debug("failed to send termination signal", zap.Error(err))
	}
	t := time.NewTimer(grace)
	return t, t.C
}

func (s *supervisor) kill() {
	if !s.transition(StateKilled) {
		return
	}
	s.log.Warn("process ignored the termination signal, killing it")
	if err := forceKill(s.cmd); err != nil {
		s.log.Debug("failed to kill process", zap.Error(err))
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
