// Package sandbox holds the error taxonomy shared by the sandbox runtimes.
// The runtimes themselves live in the sub-packages.
package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a run exceeded its deadline and was interrupted.
	ErrTimeout = errors.New("execution timed out")

	// ErrMemoryLimit is returned when a run grew the heap beyond its ceiling.
	ErrMemoryLimit = errors.New("memory limit exceeded")
)

// InitError means a runtime could not be loaded. The load is retried on next use.
type InitError struct {
	Runtime string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s runtime: %v", e.Runtime, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ScriptError is an uncaught error raised by user code.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}
