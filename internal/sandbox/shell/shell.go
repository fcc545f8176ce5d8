// Package shell executes shell commands and multi-line scripts on the host
// under a denylist, a dual-stage timeout and an output cap.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox/process"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	MaxCommandTimeout     = 120 * time.Second
	DefaultScriptTimeout  = 60 * time.Second
	MaxScriptTimeout      = 300 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	DefaultMaxOutputBytes = 512 * 1024
)

var (
	ErrEmptyCommand        = errors.New("command must not be empty")
	ErrExecutorUnavailable = errors.New("no shell executor is available on this host")
)

// Config holds the limits of an Executor. Zero values fall back to the package defaults.
type Config struct {
	DefaultCommandTimeout time.Duration
	MaxCommandTimeout     time.Duration
	DefaultScriptTimeout  time.Duration
	MaxScriptTimeout      time.Duration
	GracePeriod           time.Duration
	MaxOutputBytes        int

	// Fs is where script files are written. It must be backed by the OS filesystem
	// because the shell reads the script from it.
	Fs afero.Fs
	// TempDir defaults to os.TempDir().
	TempDir string

	Logger *zap.Logger
}

// Request is a single command or script execution.
type Request struct {
	Command string
	Cwd     string
	// Timeout is clamped to the maximum of the request type. Zero means the default.
	Timeout time.Duration
	// Env is merged on top of the host environment for this call only.
	Env map[string]string
}

// Result is always returned for a command that was spawned, regardless of its exit code.
type Result struct {
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Executor runs shell commands. It is safe for concurrent use.
type Executor struct {
	cfg      Config
	program  string
	baseArgs []string
	logger   *zap.Logger
}

// NewExecutor resolves the host shell and applies defaults to cfg.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.DefaultCommandTimeout <= 0 {
		cfg.DefaultCommandTimeout = DefaultCommandTimeout
	}
	if cfg.MaxCommandTimeout <= 0 {
		cfg.MaxCommandTimeout = MaxCommandTimeout
	}
	if cfg.DefaultScriptTimeout <= 0 {
		cfg.DefaultScriptTimeout = DefaultScriptTimeout
	}
	if cfg.MaxScriptTimeout <= 0 {
		cfg.MaxScriptTimeout = MaxScriptTimeout
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

	program, baseArgs, err := resolveShellExecutor(runtime.GOOS, exec.LookPath)
	if err != nil {
		return nil, err
	}
	return &Executor{cfg: cfg, program: program, baseArgs: baseArgs, logger: logger}, nil
}

// RunCommand executes a single command line.
// A command matching the denylist returns a *BlockedError without being spawned.
func (e *Executor) RunCommand(ctx context.Context, req Request) (*Result, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, ErrEmptyCommand
	}
	if err := CheckCommand(command); err != nil {
		e.logger.Warn("blocked shell command", zap.String("command", command), zap.Error(err))
		return nil, err
	}

	args := append(append([]string{}, e.baseArgs...), command)
	timeout := clampTimeout(req.Timeout, e.cfg.DefaultCommandTimeout, e.cfg.MaxCommandTimeout)
	return e.run(ctx, command, args, req, timeout)
}

// RunScript writes a multi-line script to a temporary file and executes it.
// The file is removed once the script has finished.
func (e *Executor) RunScript(ctx context.Context, req Request) (*Result, error) {
	script := req.Command
	if strings.TrimSpace(script) == "" {
		return nil, ErrEmptyCommand
	}
	if err := CheckCommand(script); err != nil {
		e.logger.Warn("blocked shell script", zap.Error(err))
		return nil, err
	}

	f, err := afero.TempFile(e.cfg.Fs, e.cfg.TempDir, "toolgate-script-*"+scriptExt())
	if err != nil {
		return nil, fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := e.cfg.Fs.Remove(path); err != nil {
			e.logger.Warn("failed to remove script file", zap.String("path", path), zap.Error(err))
		}
	}()
	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}

	args := scriptArgs(e.program, path)
	timeout := clampTimeout(req.Timeout, e.cfg.DefaultScriptTimeout, e.cfg.MaxScriptTimeout)
	return e.run(ctx, "script", args, req, timeout)
}

func (e *Executor) run(ctx context.Context, label string, args []string, req Request, timeout time.Duration) (*Result, error) {
	res, err := process.Run(ctx, process.Spec{
		Path:           e.program,
		Args:           args,
		Dir:            req.Cwd,
		Env:            MergeEnv(os.Environ(), req.Env),
		Timeout:        timeout,
		GracePeriod:    e.cfg.GracePeriod,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}, e.logger)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("shell execution finished",
		zap.String("command", label),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration),
	)
	return &Result{
		Command:   label,
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		TimedOut:  res.TimedOut,
		Truncated: res.StdoutTruncated || res.StderrTruncated,
		Duration:  res.Duration,
	}, nil
}

// MergeEnv overlays extra on top of base. Keys in extra win.
// The result is a new slice; base is never modified.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return append([]string(nil), base...)
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

func clampTimeout(requested, def, max time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = def
	}
	if t > max {
		t = max
	}
	return t
}

func resolveShellExecutor(goos string, lookPath func(file string) (string, error)) (string, []string, error) {
	if strings.EqualFold(strings.TrimSpace(goos), "windows") {
		if hasExecutable(lookPath, "powershell", "powershell.exe") {
			return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command"}, nil
		}
		if hasExecutable(lookPath, "cmd", "cmd.exe") {
			return "cmd", []string{"/C"}, nil
		}
		return "", nil, ErrExecutorUnavailable
	}

	for _, name := range []string{"sh", "bash"} {
		if p, err := lookPath(name); err == nil {
			return p, []string{"-c"}, nil
		}
	}
	return "", nil, ErrExecutorUnavailable
}

func hasExecutable(lookPath func(file string) (string, error), candidates ...string) bool {
	for _, name := range candidates {
		if _, err := lookPath(name); err == nil {
			return true
		}
	}
	return false
}

func scriptExt() string {
	if runtime.GOOS == "windows" {
		return ".ps1"
	}
	return ".sh"
}

func scriptArgs(program, path string) []string {
	switch program {
	case "powershell":
		return []string{"-NoProfile", "-NonInteractive", "-File", path}
	case "cmd":
		return []string{"/C", path}
	default:
		return []string{path}
	}
}
