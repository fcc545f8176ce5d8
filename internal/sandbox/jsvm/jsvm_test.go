package jsvm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/sandbox"
)

func TestRun(t *testing.T) {
	rt := New(Config{})

	tests := []struct {
		name       string
		code       string
		wantOutput string
		wantValue  string
	}{
		{"expression", "1 + 2", "", "3"},
		{"string value", "'a' + 'b'", "", "ab"},
		{"object value", "({a: 1, b: [true, null]})", "", `{"a":1,"b":[true,null]}`},
		{"undefined value", "var x = 1;", "", ""},
		{"console", "console.log('hi', 42, {k: 'v'}); console.error('bad'); 'done'", "hi 42 {\"k\":\"v\"}\n[error] bad\n", "done"},
		{"functions", "function fib(n) { return n < 2 ? n : fib(n-1) + fib(n-2) } fib(15)", "", "610"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rt.Run(context.Background(), tt.code, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, res.Output)
			assert.Equal(t, tt.wantValue, res.Value)
		})
	}
}

func TestRunScriptError(t *testing.T) {
	rt := New(Config{})

	_, err := rt.Run(context.Background(), "throw new Error('kaput')", 0)
	var se *sandbox.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "kaput")

	_, err = rt.Run(context.Background(), "function (", 0)
	require.ErrorAs(t, err, &se)
}

func TestRunHasNoHostAccess(t *testing.T) {
	rt := New(Config{})

	for _, code := range []string{"require('fs')", "process.exit(1)", "__emit('log', 'x')"} {
		_, err := rt.Run(context.Background(), code, 0)
		var se *sandbox.ScriptError
		assert.ErrorAs(t, err, &se, code)
	}
}

func TestRunTimeout(t *testing.T) {
	rt := New(Config{})

	start := time.Now()
	_, err := rt.Run(context.Background(), "while (true) {}", 100*time.Millisecond)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunContextCancel(t *testing.T) {
	rt := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := rt.Run(ctx, "for (;;) {}", 10*time.Second)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
}

func TestRunMemoryLimit(t *testing.T) {
	rt := New(Config{MemoryLimit: 16 << 20})

	_, err := rt.Run(context.Background(), "var a = []; while (true) { a.push('xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx' + a.length); }", 20*time.Second)
	assert.ErrorIs(t, err, sandbox.ErrMemoryLimit)
}

func TestRunSurvivesHostGarbage(t *testing.T) {
	rt := New(Config{MemoryLimit: 16 << 20})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			buf := make([]byte, 1<<20)
			buf[0] = byte(i)
			time.Sleep(time.Millisecond)
		}
	}()

	res, err := rt.Run(context.Background(), "var end = Date.now() + 300; while (Date.now() < end) {} 'idle'", 5*time.Second)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "idle", res.Value)
}

func TestRunConcurrent(t *testing.T) {
	rt := New(Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := rt.Run(context.Background(), "var s = 0; for (var i = 0; i < 1000; i++) { s += i } s", 0)
			if err == nil && res.Value != "499500" {
				t.Errorf("unexpected value %q", res.Value)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestConsoleBufferTruncates(t *testing.T) {
	c := &consoleBuffer{limit: 10}
	c.append("log", "12345")
	c.append("log", "67890")
	c.append("log", "more")
	assert.Equal(t, "12345\n... [console output truncated]\n", c.String())
}
