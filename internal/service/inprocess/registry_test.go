package inprocess

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func echoTool(name string) server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(name,
			mcp.WithDescription("echoes its input"),
			mcp.WithString("text", mcp.Required()),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(req.GetString("text", "")), nil
		},
	}
}

func newDef(id string, tools ...server.ServerTool) *Definition {
	return &Definition{ID: id, Name: id, Tools: tools, Removable: true}
}

func TestRegisterAndCall(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(newDef("echo", echoTool("say"))))

	assert.True(t, r.Has("echo"))
	res, err := r.CallTool(context.Background(), "echo", "say", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].(mcp.TextContent).Text)
	assert.False(t, res.IsError)

	decls, err := r.Tools("echo")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "say", decls[0].Name)
	assert.Equal(t, []string{"text"}, decls[0].Schema().Required)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
	}{
		{"nil definition", nil},
		{"invalid id", newDef("bad__id", echoTool("say"))},
		{"missing handler", newDef("h", server.ServerTool{Tool: mcp.NewTool("nohandler")})},
		{"duplicate tool", newDef("d", echoTool("say"), echoTool("say"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			assert.Error(t, r.Register(tt.def))
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(newDef("echo", echoTool("say"))))
	err := r.Register(newDef("echo", echoTool("say")))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCallToolUnknown(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(newDef("echo", echoTool("say"))))

	_, err := r.CallTool(context.Background(), "missing", "say", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.CallTool(context.Background(), "echo", "shout", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestHandlerFailuresBecomeErrorResults(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(newDef("flaky",
		server.ServerTool{
			Tool: mcp.NewTool("boom"),
			Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				panic("kaboom")
			},
		},
		server.ServerTool{
			Tool: mcp.NewTool("fail"),
			Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("backend down")
			},
		},
		server.ServerTool{
			Tool: mcp.NewTool("empty"),
			Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, nil
			},
		},
	)))

	res, err := r.CallTool(context.Background(), "flaky", "boom", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(mcp.TextContent).Text, "kaboom")

	res, err = r.CallTool(context.Background(), "flaky", "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "backend down", res.Content[0].(mcp.TextContent).Text)

	res, err = r.CallTool(context.Background(), "flaky", "empty", nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, res.Content)
}

func TestAlias(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(newDef("shell", echoTool("say"))))
	require.NoError(t, r.Alias("terminal", "shell"))

	assert.ErrorIs(t, r.Alias("terminal", "shell"), ErrDuplicate)
	assert.ErrorIs(t, r.Alias("other", "missing"), ErrNotFound)

	canonical, ok := r.Resolve("terminal")
	assert.True(t, ok)
	assert.Equal(t, "shell", canonical)

	res, err := r.CallTool(context.Background(), "terminal", "say", map[string]any{"text": "via alias"})
	require.NoError(t, err)
	assert.Equal(t, "via alias", res.Content[0].(mcp.TextContent).Text)

	assert.Equal(t, []string{"shell", "terminal"}, r.ReachableIDs())
	assert.Len(t, r.List(), 1)

	// an alias blocks registration of its name
	assert.ErrorIs(t, r.Register(newDef("terminal", echoTool("say"))), ErrDuplicate)
}

func TestInitializeOnceAndRetry(t *testing.T) {
	var calls atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)

	def := newDef("lazy", echoTool("say"))
	def.Initialize = func(context.Context) error {
		calls.Add(1)
		if fail.Load() {
			return errors.New("not yet")
		}
		return nil
	}
	r := NewRegistry(nil)
	require.NoError(t, r.Register(def))

	_, err := r.CallTool(context.Background(), "lazy", "say", nil)
	assert.ErrorContains(t, err, "not yet")

	fail.Store(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CallTool(context.Background(), "lazy", "say", map[string]any{"text": "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, r.InitializeAll(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnregister(t *testing.T) {
	var cleaned atomic.Int32
	removable := newDef("plugin-a", echoTool("say"))
	removable.Cleanup = func(context.Context) error {
		cleaned.Add(1)
		return nil
	}
	builtin := newDef("shell", echoTool("say"))
	builtin.Removable = false

	r := NewRegistry(nil)
	require.NoError(t, r.Register(removable))
	require.NoError(t, r.Register(builtin))
	require.NoError(t, r.Alias("legacy-a", "plugin-a"))

	ctx := context.Background()
	require.NoError(t, r.InitializeAll(ctx))

	assert.ErrorIs(t, r.Unregister(ctx, "shell"), ErrNotRemovable)
	assert.ErrorIs(t, r.Unregister(ctx, "nope"), ErrNotFound)

	require.NoError(t, r.Unregister(ctx, "legacy-a"))
	assert.False(t, r.Has("plugin-a"))
	assert.False(t, r.Has("legacy-a"))
	assert.Equal(t, int32(1), cleaned.Load())
}

func TestReplaceOwner(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(newDef("shell", echoTool("say"))))

	removed, added, err := r.ReplaceOwner(ctx, "plugin-x", []*Definition{
		newDef("x-one", echoTool("a")),
		newDef("x-two", echoTool("b")),
	})
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"x-one", "x-two"}, added)
	assert.Equal(t, []string{"x-one", "x-two"}, r.Owned("plugin-x"))

	// second registration replaces the first; reusing an owned id is allowed
	removed, added, err = r.ReplaceOwner(ctx, "plugin-x", []*Definition{
		newDef("x-two", echoTool("b")),
		newDef("x-three", echoTool("c")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x-one", "x-two"}, removed)
	assert.Equal(t, []string{"x-two", "x-three"}, added)
	assert.False(t, r.Has("x-one"))
	assert.True(t, r.Has("x-three"))

	// ids owned by others are rejected and nothing changes
	_, _, err = r.ReplaceOwner(ctx, "plugin-y", []*Definition{
		newDef("y-one", echoTool("a")),
		newDef("shell", echoTool("a")),
	})
	assert.ErrorIs(t, err, ErrOwnerConflict)
	assert.False(t, r.Has("y-one"))

	removed, err = r.RemoveOwner(ctx, "plugin-x")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x-two", "x-three"}, removed)
	assert.Empty(t, r.Owned("plugin-x"))
	assert.Equal(t, []string{"shell"}, r.ReachableIDs())
}

func TestCleanupAll(t *testing.T) {
	var cleaned atomic.Int32
	def := newDef("a", echoTool("say"))
	def.Cleanup = func(context.Context) error {
		cleaned.Add(1)
		return errors.New("cleanup failed")
	}
	never := newDef("b", echoTool("say"))
	never.Cleanup = func(context.Context) error {
		cleaned.Add(1)
		return nil
	}

	r := NewRegistry(nil)
	require.NoError(t, r.Register(def))
	require.NoError(t, r.Register(never))

	_, err := r.CallTool(context.Background(), "a", "say", nil)
	require.NoError(t, err)

	err = r.CleanupAll(context.Background())
	assert.ErrorContains(t, err, "cleanup failed")
	// b was never initialized so its hook does not run
	assert.Equal(t, int32(1), cleaned.Load())

	assert.NoError(t, r.CleanupAll(context.Background()))
	assert.Equal(t, int32(1), cleaned.Load())
}
