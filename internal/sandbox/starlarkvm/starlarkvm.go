// Package starlarkvm runs Starlark programs in an embedded interpreter.
//
// Programs see the language builtins plus the math, json and time modules.
// load() is disabled, so there is no filesystem or network access.
// A run is bounded by a deadline, an execution step budget and a heap growth ceiling.
package starlarkvm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/sandbox/lazy"
	"github.com/toolgate/toolgate/internal/sandbox/memguard"
)

const (
	DefaultTimeout        = 5 * time.Second
	MaxTimeout            = 30 * time.Second
	DefaultMemoryLimit    = 64 << 20
	DefaultMaxSteps       = 50_000_000
	DefaultMaxConcurrent  = 4
	DefaultMaxOutputBytes = 64 * 1024

	// ResultVar is the global a multi-statement program assigns to return a value.
	ResultVar = "result"
)

// engine is the frozen set of predeclared modules shared by every thread.
type engine struct {
	predeclared starlark.StringDict
	opts        *syntax.FileOptions
}

var engineCell = lazy.New(func(ctx context.Context) (*engine, error) {
	predeclared := starlark.StringDict{
		"math": starlarkmath.Module,
		"json": json.Module,
		"time": starlarktime.Module,
	}
	predeclared.Freeze()
	return &engine{
		predeclared: predeclared,
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}, nil
})

const (
	cancelTimeout = "timeout"
	cancelMemory  = "memory"
)

// Config of a Runtime. Zero values fall back to the package defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MemoryLimit    uint64
	MaxSteps       uint64
	MaxConcurrent  int
	MaxOutputBytes int
	Logger         *zap.Logger
}

// Result of a successful run.
type Result struct {
	// Output is everything passed to print().
	Output string `json:"output"`
	// Value is the value of a single expression program, or of the global named result.
	Value    string        `json:"value,omitempty"`
	Steps    uint64        `json:"steps"`
	Duration time.Duration `json:"-"`
}

type Runtime struct {
	cfg    Config
	sem    chan struct{}
	logger *zap.Logger
}

func New(cfg Config) *Runtime {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxTimeout
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent), logger: logger}
}

// Warm loads the shared engine ahead of the first run.
func (r *Runtime) Warm(ctx context.Context) error {
	if _, err := engineCell.Get(ctx); err != nil {
		return &sandbox.InitError{Runtime: "starlark", Err: err}
	}
	return nil
}

// Run executes a program. A program consisting of a single expression returns its value.
// Errors are one of sandbox.ErrTimeout, sandbox.ErrMemoryLimit, *sandbox.ScriptError
// or *sandbox.InitError.
func (r *Runtime) Run(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	eng, err := engineCell.Get(ctx)
	if err != nil {
		return nil, &sandbox.InitError{Runtime: "starlark", Err: err}
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, sandbox.ErrTimeout
	}

	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout > r.cfg.MaxTimeout {
		timeout = r.cfg.MaxTimeout
	}

	out := &printBuffer{limit: r.cfg.MaxOutputBytes}
	thread := &starlark.Thread{
		Name:  "toolgate",
		Print: func(_ *starlark.Thread, msg string) { out.append(msg) },
	}
	thread.SetMaxExecutionSteps(r.cfg.MaxSteps)

	var reason atomic.Value
	cancel := func(why string) {
		reason.CompareAndSwap(nil, why)
		thread.Cancel(why)
	}

	started := time.Now()
	timer := time.AfterFunc(timeout, func() { cancel(cancelTimeout) })
	defer timer.Stop()
	stopCtx := context.AfterFunc(ctx, func() { cancel(cancelTimeout) })
	defer stopCtx()
	guard := memguard.Watch(r.cfg.MemoryLimit, memguard.DefaultInterval, func() { cancel(cancelMemory) })
	defer guard.Stop()

	v, err := r.exec(eng, thread, code)
	if err != nil {
		why, _ := reason.Load().(string)
		return nil, r.translateError(err, why)
	}

	return &Result{
		Output:   out.String(),
		Value:    exportValue(v),
		Steps:    thread.ExecutionSteps(),
		Duration: time.Since(started),
	}, nil
}

func (r *Runtime) exec(eng *engine, thread *starlark.Thread, code string) (starlark.Value, error) {
	v, err := starlark.EvalOptions(eng.opts, thread, "script.star", code, eng.predeclared)
	if err == nil {
		return v, nil
	}
	var syntaxErr syntax.Error
	if !errors.As(err, &syntaxErr) {
		return nil, err
	}

	// not a single expression, run it as a file
	globals, err := starlark.ExecFileOptions(eng.opts, thread, "script.star", code, eng.predeclared)
	if err != nil {
		return nil, err
	}
	return globals[ResultVar], nil
}

func (r *Runtime) translateError(err error, reason string) error {
	switch {
	case reason == cancelMemory:
		return fmt.Errorf("%w (limit %d bytes)", sandbox.ErrMemoryLimit, r.cfg.MemoryLimit)
	case reason == cancelTimeout:
		return sandbox.ErrTimeout
	case strings.Contains(err.Error(), "too many steps"):
		return fmt.Errorf("%w: exceeded %d execution steps", sandbox.ErrTimeout, r.cfg.MaxSteps)
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &sandbox.ScriptError{Message: evalErr.Backtrace()}
	}
	return &sandbox.ScriptError{Message: err.Error()}
}

func exportValue(v starlark.Value) string {
	if v == nil || v == starlark.None {
		return ""
	}
	if s, ok := v.(starlark.String); ok {
		return s.GoString()
	}
	return v.String()
}

type printBuffer struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func (p *printBuffer) append(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.truncated {
		return
	}
	if p.b.Len()+len(line)+1 > p.limit {
		p.truncated = true
		p.b.WriteString("... [print output truncated]\n")
		return
	}
	p.b.WriteString(line)
	p.b.WriteByte('\n')
}

func (p *printBuffer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.b.String()
}
