//go:build unix

package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// sh stands in for an interpreter so the tests do not depend on python being installed.
func newShExecutor(t *testing.T, dir string) *Executor {
	t.Helper()
	return NewExecutor(Config{
		Binary:      "sh",
		Extension:   ".sh",
		TempDir:     dir,
		GracePeriod: 200 * time.Millisecond,
		Logger:      zaptest.NewLogger(t),
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	e := newShExecutor(t, dir)

	res, err := e.Run(context.Background(), "echo \"$GREETING world\"\nexit 1\n", 0, map[string]string{"GREETING": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "hello world\n", res.Stdout)

	entries, err := afero.ReadDir(afero.NewOsFs(), dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunTimeoutRemovesFile(t *testing.T) {
	dir := t.TempDir()
	e := newShExecutor(t, dir)

	res, err := e.Run(context.Background(), "sleep 30", 100*time.Millisecond, nil)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	entries, err := afero.ReadDir(afero.NewOsFs(), dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunEmptyCode(t *testing.T) {
	e := newShExecutor(t, t.TempDir())
	_, err := e.Run(context.Background(), " \n", 0, nil)
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestRunMissingInterpreter(t *testing.T) {
	e := NewExecutor(Config{Binary: "toolgate-no-such-interpreter", TempDir: t.TempDir()})

	_, err := e.Run(context.Background(), "print(1)", 0, nil)
	var nf *InterpreterNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "toolgate-no-such-interpreter", nf.Binary)
	assert.Error(t, e.Available())
}
