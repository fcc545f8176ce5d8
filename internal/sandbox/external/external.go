// Package external runs code through an interpreter installed on the host, such as python3.
// The code is written to a temporary file which is always removed after the run.
package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox/process"
	"github.com/toolgate/toolgate/internal/sandbox/shell"
)

const (
	DefaultTimeout        = 30 * time.Second
	MaxTimeout            = 120 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	DefaultMaxOutputBytes = 512 * 1024
)

var ErrEmptyCode = errors.New("code must not be empty")

// InterpreterNotFoundError means the configured binary could not be located.
type InterpreterNotFoundError struct {
	Binary string
	Err    error
}

func (e *InterpreterNotFoundError) Error() string {
	return fmt.Sprintf("interpreter %s not found: %v", e.Binary, e.Err)
}

func (e *InterpreterNotFoundError) Unwrap() error { return e.Err }

// Config describes an interpreter and the limits of its runs.
type Config struct {
	// Binary is the interpreter executable, e.g. "python3". It is looked up in PATH.
	Binary string
	// Args are passed before the code file, e.g. "-I" for isolated python.
	Args []string
	// Extension of the code file, e.g. ".py".
	Extension string

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	GracePeriod    time.Duration
	MaxOutputBytes int

	Fs      afero.Fs
	TempDir string

	Logger *zap.Logger
}

// Result of a run. A non-zero exit code is not an error.
type Result struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	TimedOut  bool   `json:"timed_out"`
	Truncated bool   `json:"truncated"`
	Duration  time.Duration
}

// Executor runs code through one interpreter. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *zap.Logger

	lookPath func(string) (string, error)
}

// NewExecutor applies defaults to cfg. The interpreter is resolved on every run,
// so installing it later does not require a restart.
func NewExecutor(cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger, lookPath: exec.LookPath}
}

// Binary returns the configured interpreter name.
func (e *Executor) Binary() string {
	return e.cfg.Binary
}

// Available reports whether the interpreter can be found.
func (e *Executor) Available() error {
	if _, err := e.lookPath(e.cfg.Binary); err != nil {
		return &InterpreterNotFoundError{Binary: e.cfg.Binary, Err: err}
	}
	return nil
}

// Run executes code with an optional timeout and environment overlay.
func (e *Executor) Run(ctx context.Context, code string, timeout time.Duration, env map[string]string) (*Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	bin, err := e.lookPath(e.cfg.Binary)
	if err != nil {
		return nil, &InterpreterNotFoundError{Binary: e.cfg.Binary, Err: err}
	}

	path := filepath.Join(e.cfg.TempDir, "toolgate-"+uuid.NewString()+e.cfg.Extension)
	if err := afero.WriteFile(e.cfg.Fs, path, []byte(code), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write code file: %w", err)
	}
	defer func() {
		if err := e.cfg.Fs.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("failed to remove code file", zap.String("path", path), zap.Error(err))
		}
	}()

	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}

	args := append(append([]string{}, e.cfg.Args...), path)
	res, err := process.Run(ctx, process.Spec{
		Path:           bin,
		Args:           args,
		Dir:            e.cfg.TempDir,
		Env:            shell.MergeEnv(os.Environ(), env),
		Timeout:        timeout,
		GracePeriod:    e.cfg.GracePeriod,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}, e.logger)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("interpreter run finished",
		zap.String("binary", e.cfg.Binary),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration),
	)
	return &Result{
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		TimedOut:  res.TimedOut,
		Truncated: res.StdoutTruncated || res.StderrTruncated,
		Duration:  res.Duration,
	}, nil
}
