//go:build unix

package process

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"echo", []string{"-c", "echo hello"}, 0, "hello\n", ""},
		{"stderr", []string{"-c", "echo oops >&2"}, 0, "", "oops\n"},
		{"non-zero exit", []string{"-c", "exit 3"}, 3, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Run(context.Background(), Spec{
				Path:    "/bin/sh",
				Args:    tt.args,
				Timeout: 5 * time.Second,
			}, zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantStdout, res.Stdout)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.False(t, res.TimedOut)
			assert.Equal(t, StateExited, res.State)
		})
	}
}

func TestRunValidation(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), Spec{Timeout: time.Second}, nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = Run(context.Background(), Spec{Path: "/bin/sh"}, nil)
	assert.Error(t, err)

	_, err = Run(context.Background(), Spec{Path: "/definitely/not/a/binary", Timeout: time.Second}, nil)
	assert.Error(t, err)
}

func TestRunTimeoutGraceful(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), Spec{
		Path:        "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		Timeout:     100 * time.Millisecond,
		GracePeriod: 2 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	// sleep exits on SIGTERM, so the forced kill is never needed
	assert.Equal(t, StateExited, res.State)
	assert.Less(t, res.Duration, 2*time.Second)
}

func TestRunTimeoutEscalatesToKill(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), Spec{
		Path:        "/bin/sh",
		Args:        []string{"-c", "trap '' TERM; while true; do sleep 0.05; done"},
		Timeout:     100 * time.Millisecond,
		GracePeriod: 200 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, StateKilled, res.State)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestRunContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, Spec{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 30 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, res.Duration, 10*time.Second)
}

func TestRunOutputCap(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), Spec{
		Path:           "/bin/sh",
		Args:           []string{"-c", "i=0; while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done"},
		Timeout:        5 * time.Second,
		MaxOutputBytes: 100,
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.StdoutTruncated)
	assert.False(t, res.StderrTruncated)
	assert.True(t, strings.HasPrefix(res.Stdout, "0123456789\n"))
	assert.Contains(t, res.Stdout, "[output truncated: 2100 bytes omitted]")
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, b.Truncated())
	assert.Equal(t, "abcde\n... [output truncated: 3 bytes omitted]", b.String())
}

func TestSupervisorTransitions(t *testing.T) {
	s := &supervisor{state: StateRunning}
	assert.True(t, s.transition(StateSignaled))
	assert.False(t, s.transition(StateSignaled), "signaled twice")
	assert.True(t, s.transition(StateKilled))
	assert.False(t, s.transition(StateExited), "killed is terminal")
	assert.Equal(t, StateKilled, s.current())
}
