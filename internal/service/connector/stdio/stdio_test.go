//go:build unix

package stdio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toolgate/toolgate/internal/service/connector"
	"github.com/toolgate/toolgate/pkg/types"
)

const helperEnv = "TOOLGATE_STDIO_HELPER"

// TestMain turns the test binary into a stdio tool server when helperEnv is set.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelperServer()
		return
	}
	os.Exit(m.Run())
}

func runHelperServer() {
	s := server.NewMCPServer("helper", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("greet",
			mcp.WithDescription("greets someone"),
			mcp.WithString("name", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			greeting := os.Getenv("HELPER_GREETING")
			if greeting == "" {
				greeting = "hello"
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s %s", greeting, req.GetString("name", ""))), nil
		},
	)
	s.AddTool(
		mcp.NewTool("fail", mcp.WithDescription("always fails")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("it broke"), nil
		},
	)
	s.AddTool(
		mcp.NewTool("stall", mcp.WithDescription("never answers in time")),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
			}
			return mcp.NewToolResultText("late"), nil
		},
	)
	fmt.Fprintln(os.Stderr, "helper server starting")
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func helperConfig(id string, env map[string]string) *types.ToolServerConfig {
	merged := map[string]string{helperEnv: "1"}
	for k, v := range env {
		merged[k] = v
	}
	return &types.ToolServerConfig{
		ID:        id,
		Kind:      types.KindLocalProcess,
		Transport: types.TransportStdio,
		Command:   os.Args[0],
		Env:       merged,
		Enabled:   true,
	}
}

func TestConnectCallDisconnect(t *testing.T) {
	c := New(Config{InitTimeout: 10 * time.Second, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	tools, err := c.Connect(ctx, helperConfig("helper", map[string]string{"HELPER_GREETING": "hi"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	assert.True(t, names["greet"])
	assert.True(t, names["fail"])
	assert.True(t, c.Connected("helper"))

	res, err := c.CallTool(ctx, "helper", "greet", map[string]any{"name": "toolgate"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi toolgate", res.Content[0]["text"])

	res, err = c.CallTool(ctx, "helper", "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "it broke", res.Content[0]["text"])

	// the overlay never leaks into the host environment
	_, leaked := os.LookupEnv("HELPER_GREETING")
	assert.False(t, leaked)

	require.NoError(t, c.Disconnect(ctx, "helper"))
	assert.False(t, c.Connected("helper"))

	_, err = c.CallTool(ctx, "helper", "greet", map[string]any{"name": "x"})
	assert.True(t, errors.Is(err, connector.ErrNotConnected))
}

func TestCallTimeout(t *testing.T) {
	tests := []struct {
		name       string
		callLimit  time.Duration
		timeoutSec int
		want       string
	}{
		{"connector default", 300 * time.Millisecond, 0, "timed out after 300ms"},
		{"server override", 10 * time.Second, 1, "timed out after 1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{InitTimeout: 10 * time.Second, CallTimeout: tt.callLimit, Logger: zaptest.NewLogger(t)})
			t.Cleanup(func() { _ = c.Close(context.Background()) })

			cfg := helperConfig("helper", nil)
			cfg.TimeoutSec = tt.timeoutSec
			_, err := c.Connect(context.Background(), cfg)
			require.NoError(t, err)

			started := time.Now()
			_, err = c.CallTool(context.Background(), "helper", "stall", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "call to tool stall of stdio server helper "+tt.want)
			assert.Less(t, time.Since(started), 5*time.Second)
		})
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	c := New(Config{})
	assert.NoError(t, c.Disconnect(context.Background(), "never-connected"))
}

func TestConnectFailures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *types.ToolServerConfig
		wantErr string
	}{
		{
			name:    "missing command",
			cfg:     &types.ToolServerConfig{ID: "empty", Kind: types.KindLocalProcess},
			wantErr: "command is required",
		},
		{
			name:    "command not found",
			cfg:     &types.ToolServerConfig{ID: "missing", Command: "toolgate-no-such-binary"},
			wantErr: "failed to start stdio server missing",
		},
		{
			name:    "server never answers",
			cfg:     &types.ToolServerConfig{ID: "silent", Command: "sleep", Args: []string{"1"}},
			wantErr: "timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{InitTimeout: 200 * time.Millisecond, Logger: zaptest.NewLogger(t)})
			_, err := c.Connect(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, c.Connected(tt.cfg.ID))
		})
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	c := New(Config{InitTimeout: 10 * time.Second, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	_, err := c.Connect(ctx, helperConfig("helper", nil))
	require.NoError(t, err)
	_, err = c.Connect(ctx, helperConfig("helper", map[string]string{"HELPER_GREETING": "welcome"}))
	require.NoError(t, err)

	res, err := c.CallTool(ctx, "helper", "greet", map[string]any{"name": "back"})
	require.NoError(t, err)
	assert.Equal(t, "welcome back", res.Content[0]["text"])
}
