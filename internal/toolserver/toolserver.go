// Package toolserver defines the built-in in-process tool servers.
// Each server wraps one sandbox runtime and exposes it through mcp-go tool declarations.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/sandbox/external"
	"github.com/toolgate/toolgate/internal/sandbox/jsvm"
	"github.com/toolgate/toolgate/internal/sandbox/shell"
	"github.com/toolgate/toolgate/internal/sandbox/starlarkvm"
	"github.com/toolgate/toolgate/internal/service/inprocess"
	"github.com/toolgate/toolgate/internal/telemetry"
)

// Ids of the built-in servers.
const (
	ShellServerID      = "shell"
	PythonServerID     = "python"
	JavaScriptServerID = "javascript"
	StarlarkServerID   = "starlark"
)

// Prefixes of the error text returned by sandboxed tools.
const (
	PrefixBlocked     = "[blocked]"
	PrefixTimeout     = "[timeout]"
	PrefixInitFailed  = "[runtime-init-failed]"
	prefixMemoryLimit = PrefixBlocked
)

// Outcomes recorded for sandbox runs.
const (
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeBlocked    = "blocked"
	outcomeTimeout    = "timeout"
	outcomeInitFailed = "init_failed"
	outcomeMemory     = "memory_limit"
)

// legacyAliases are older ids that still resolve to a built-in server.
var legacyAliases = map[string]string{
	"terminal": ShellServerID,
	"py":       PythonServerID,
	"js":       JavaScriptServerID,
}

// Config holds the limits of every built-in runtime.
type Config struct {
	Shell    shell.Config
	Python   external.Config
	JS       jsvm.Config
	Starlark starlarkvm.Config

	// DisablePython skips the python server, e.g. on hosts without an interpreter.
	DisablePython bool

	Metrics telemetry.CustomMetrics
	Logger  *zap.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NewNoopCustomMetrics()
	}
	if c.Python.Binary == "" {
		c.Python.Binary = "python3"
	}
	if c.Python.Extension == "" {
		c.Python.Extension = ".py"
	}
	if c.Shell.Logger == nil {
		c.Shell.Logger = c.Logger.Named("shell")
	}
	if c.Python.Logger == nil {
		c.Python.Logger = c.Logger.Named("python")
	}
	if c.JS.Logger == nil {
		c.JS.Logger = c.Logger.Named("javascript")
	}
	if c.Starlark.Logger == nil {
		c.Starlark.Logger = c.Logger.Named("starlark")
	}
}

// Builtins creates the definitions of every built-in server.
func Builtins(cfg Config) ([]*inprocess.Definition, error) {
	cfg.defaults()

	shellDef, err := newShellServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create shell server: %w", err)
	}
	defs := []*inprocess.Definition{
		shellDef,
		newJavaScriptServer(cfg),
		newStarlarkServer(cfg),
	}
	if !cfg.DisablePython {
		defs = append(defs, newPythonServer(cfg))
	}
	return defs, nil
}

// RegisterBuiltins registers the built-in servers and their legacy aliases with reg.
func RegisterBuiltins(reg *inprocess.Registry, cfg Config) error {
	defs, err := Builtins(cfg)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	for alias, id := range legacyAliases {
		if !reg.Has(id) {
			continue
		}
		if err := reg.Alias(alias, id); err != nil {
			return err
		}
	}
	return nil
}

// recorder measures a sandbox run and records its outcome.
type recorder struct {
	metrics telemetry.CustomMetrics
	runtime string
	started time.Time
}

func newRecorder(m telemetry.CustomMetrics, runtime string) *recorder {
	return &recorder{metrics: m, runtime: runtime, started: time.Now()}
}

func (r *recorder) done(ctx context.Context, outcome string) {
	r.metrics.RecordSandboxRun(ctx, r.runtime, outcome, time.Since(r.started))
}

// sandboxErrorResult converts a sandbox error into an isError result with a category prefix.
// It returns the outcome to record.
func sandboxErrorResult(err error) (*mcp.CallToolResult, string) {
	var blocked *shell.BlockedError
	var initErr *sandbox.InitError
	var notFound *external.InterpreterNotFoundError
	var scriptErr *sandbox.ScriptError

	switch {
	case errors.As(err, &blocked):
		return mcp.NewToolResultError(fmt.Sprintf("%s %s", PrefixBlocked, blocked.Error())), outcomeBlocked
	case errors.Is(err, sandbox.ErrMemoryLimit):
		return mcp.NewToolResultError(fmt.Sprintf("%s %s", prefixMemoryLimit, err.Error())), outcomeMemory
	case errors.Is(err, sandbox.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return mcp.NewToolResultError(fmt.Sprintf("%s execution exceeded its time limit", PrefixTimeout)), outcomeTimeout
	case errors.As(err, &initErr), errors.As(err, &notFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s %s", PrefixInitFailed, err.Error())), outcomeInitFailed
	case errors.As(err, &scriptErr):
		return mcp.NewToolResultError(scriptErr.Message), outcomeError
	default:
		return mcp.NewToolResultError(err.Error()), outcomeError
	}
}

// processOutput renders the output of a spawned process for the model.
func processOutput(exitCode int, stdout, stderr string, truncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d", exitCode)
	if stdout != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(strings.TrimRight(stdout, "\n"))
	}
	if stderr != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(strings.TrimRight(stderr, "\n"))
	}
	if truncated {
		b.WriteString("\n(output was truncated)")
	}
	return b.String()
}

// vmOutput renders captured console output followed by the result value.
func vmOutput(output, value string) string {
	output = strings.TrimRight(output, "\n")
	switch {
	case output == "" && value == "":
		return "(no output)"
	case value == "":
		return output
	case output == "":
		return value
	default:
		return output + "\n" + value
	}
}

// maxTimeoutArg bounds timeout_sec before conversion; runtimes apply their own lower caps.
const maxTimeoutArg = 24 * time.Hour

// timeoutArg reads an optional timeout in seconds.
func timeoutArg(req mcp.CallToolRequest) time.Duration {
	sec := req.GetFloat("timeout_sec", 0)
	if sec <= 0 {
		return 0
	}
	if sec >= maxTimeoutArg.Seconds() {
		return maxTimeoutArg
	}
	return time.Duration(sec * float64(time.Second))
}

// envArg reads an optional string map argument. Non-string values are formatted.
func envArg(req mcp.CallToolRequest) map[string]string {
	raw, ok := req.GetArguments()["env"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
			continue
		}
		env[k] = fmt.Sprint(v)
	}
	return env
}
