// Package jsvm runs JavaScript in an embedded goja virtual machine.
//
// Scripts have no filesystem, network or process access: the VM only exposes the
// ECMAScript builtins plus a console object whose output is captured.
// Every run gets a fresh VM, bounded by a deadline and a heap growth ceiling.
package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/sandbox/lazy"
	"github.com/toolgate/toolgate/internal/sandbox/memguard"
)

const (
	DefaultTimeout        = 5 * time.Second
	MaxTimeout            = 30 * time.Second
	DefaultMemoryLimit    = 64 << 20
	DefaultMaxConcurrent  = 4
	DefaultMaxOutputBytes = 64 * 1024
	maxCallStackSize      = 1024
)

// prelude installs console on top of a private emit function.
const prelude = `(function () {
	var emit = __emit;
	delete globalThis.__emit;
	var fmt = function (v) {
		if (typeof v === 'string') return v;
		try {
			var s = JSON.stringify(v);
			return s === undefined ? String(v) : s;
		} catch (e) {
			return String(v);
		}
	};
	var mk = function (level) {
		return function () {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(fmt(arguments[i]));
			emit(level, parts.join(' '));
		};
	};
	globalThis.console = {
		log: mk('log'), info: mk('info'), warn: mk('warn'), error: mk('error'), debug: mk('debug')
	};
})();`

type engine struct {
	prelude *goja.Program
}

// engineCell is shared by every Runtime in the process.
// Compiled programs are immutable and safe to run on many VMs concurrently.
var engineCell = lazy.New(func(ctx context.Context) (*engine, error) {
	p, err := goja.Compile("prelude.js", prelude, false)
	if err != nil {
		return nil, err
	}
	return &engine{prelude: p}, nil
})

type interruptReason int

const (
	reasonTimeout interruptReason = iota + 1
	reasonMemory
)

// Config of a Runtime. Zero values fall back to the package defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MemoryLimit    uint64
	MaxConcurrent  int
	MaxOutputBytes int
	Logger         *zap.Logger
}

// Result of a successful run.
type Result struct {
	// Output is everything written through console, one line per call.
	Output string `json:"output"`
	// Value is the completion value of the script, JSON encoded unless it is a string.
	Value    string        `json:"value,omitempty"`
	Duration time.Duration `json:"-"`
}

// Runtime queues runs through a bounded semaphore.
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
		return &sandbox.InitError{Runtime: "javascript", Err: err}
	}
	return nil
}

// Run executes code and returns its console output and completion value.
// Errors are one of sandbox.ErrTimeout, sandbox.ErrMemoryLimit, *sandbox.ScriptError
// or *sandbox.InitError.
func (r *Runtime) Run(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	eng, err := engineCell.Get(ctx)
	if err != nil {
		return nil, &sandbox.InitError{Runtime: "javascript", Err: err}
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

	prog, err := goja.Compile("script.js", code, false)
	if err != nil {
		return nil, &sandbox.ScriptError{Message: err.Error()}
	}

	out := &consoleBuffer{limit: r.cfg.MaxOutputBytes}
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	if err := vm.Set("__emit", func(level, line string) {
		out.append(level, line)
	}); err != nil {
		return nil, &sandbox.InitError{Runtime: "javascript", Err: err}
	}
	if _, err := vm.RunProgram(eng.prelude); err != nil {
		return nil, &sandbox.InitError{Runtime: "javascript", Err: err}
	}

	started := time.Now()
	timer := time.AfterFunc(timeout, func() { vm.Interrupt(reasonTimeout) })
	defer timer.Stop()
	stopCtx := context.AfterFunc(ctx, func() { vm.Interrupt(reasonTimeout) })
	defer stopCtx()
	guard := memguard.Watch(r.cfg.MemoryLimit, memguard.DefaultInterval, func() { vm.Interrupt(reasonMemory) })
	defer guard.Stop()

	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, r.translateError(err)
	}

	return &Result{
		Output:   out.String(),
		Value:    exportValue(v),
		Duration: time.Since(started),
	}, nil
}

func (r *Runtime) translateError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(interruptReason); ok && reason == reasonMemory {
			return fmt.Errorf("%w (limit %d bytes)", sandbox.ErrMemoryLimit, r.cfg.MemoryLimit)
		}
		return sandbox.ErrTimeout
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &sandbox.ScriptError{Message: exception.Error()}
	}
	return &sandbox.ScriptError{Message: err.Error()}
}

func exportValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	b, err := json.Marshal(exported)
	if err != nil {
		return v.String()
	}
	return string(b)
}

type consoleBuffer struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func (c *consoleBuffer) append(level, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return
	}
	if level == "error" || level == "warn" {
		line = "[" + level + "] " + line
	}
	if c.b.Len()+len(line)+1 > c.limit {
		c.truncated = true
		c.b.WriteString("... [console output truncated]\n")
		return
	}
	c.b.WriteString(line)
	c.b.WriteByte('\n')
}

func (c *consoleBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}
