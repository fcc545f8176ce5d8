package internal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toolgate/toolgate/client"
	"github.com/toolgate/toolgate/internal/api"
	"github.com/toolgate/toolgate/internal/service/configstore"
	"github.com/toolgate/toolgate/internal/service/connector/remote"
	"github.com/toolgate/toolgate/internal/service/gateway"
	"github.com/toolgate/toolgate/internal/service/inprocess"
	"github.com/toolgate/toolgate/internal/service/mcpproxy"
	"github.com/toolgate/toolgate/internal/toolserver"
	"github.com/toolgate/toolgate/pkg/testhelpers"
	"github.com/toolgate/toolgate/pkg/types"
)

// newRESTBackend serves a remote tool server with a single "greet" tool.
func newRESTBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tools":[{"name":"greet","description":"says hello",` +
			`"inputSchema":{"type":"object","properties":{"who":{"type":"string"}}}}]}`))
	})
	mux.HandleFunc("POST /tools/call", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "hello " + req.Arguments["who"].(string)}},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

type stack struct {
	gw     *gateway.Gateway
	client *client.Client
}

func newStack(t *testing.T, store configstore.Store, token string) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	reg := inprocess.NewRegistry(logger)
	require.NoError(t, toolserver.RegisterBuiltins(reg, toolserver.Config{DisablePython: true, Logger: logger}))

	gw := gateway.New(gateway.Config{
		Registry: reg,
		Remote:   remote.New(remote.Config{Logger: logger}),
		Store:    store,
		Logger:   logger,
	})
	require.NoError(t, gw.Initialize(ctx))
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	configs, err := store.List(ctx)
	require.NoError(t, err)
	for _, cfg := range configs {
		_, err := gw.RestoreServer(ctx, cfg)
		require.NoError(t, err)
	}

	proxy := mcpproxy.New(gw, logger)
	gw.AddObserver(proxy)

	s, err := api.NewServer(&api.ServerOptions{
		Port:        "0",
		Gateway:     gw,
		Proxy:       proxy,
		AccessToken: token,
		Logger:      logger,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &stack{gw: gw, client: client.NewClient(ts.URL, token, nil)}
}

func TestGatewayEndToEnd(t *testing.T) {
	token, err := api.NewAccessToken()
	require.NoError(t, err)

	db := testhelpers.SetupTestDB(t)
	defer db.Cleanup()
	store := configstore.NewDBStore(db.DB, zaptest.NewLogger(t))
	backend := newRESTBackend(t)

	st := newStack(t, store, token)
	c := st.client

	// built-in servers are connected from the start
	statuses, err := c.ListServerStatus()
	require.NoError(t, err)
	states := map[string]types.ServerState{}
	for _, s := range statuses {
		states[s.ServerID] = s.State
	}
	assert.Equal(t, types.StateConnected, states[toolserver.ShellServerID])
	assert.Equal(t, types.StateConnected, states[toolserver.StarlarkServerID])
	assert.Equal(t, types.StateConnected, states[toolserver.JavaScriptServerID])
	assert.NotContains(t, states, toolserver.PythonServerID)

	res, err := c.InvokeTool(toolserver.StarlarkServerID, "run_starlark", map[string]any{"code": "1 + 2"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Text())
	assert.Contains(t, res.Text(), "3")

	res, err = c.InvokeTool(toolserver.ShellServerID, "execute_command", map[string]any{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, toolserver.PrefixBlocked)

	// a remote server goes through register, connect and call
	status, err := c.RegisterServer(&types.ToolServerConfig{
		ID: "greeter", Kind: types.KindRemote, URL: backend.URL, Enabled: true,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, types.StateConnected, status.State)

	tools, err := c.ListTools("greeter")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Tool.Name)

	batch, err := c.InvokeTools([]types.ToolCallRequest{
		{ServerID: "greeter", ToolName: "greet", Arguments: map[string]any{"who": "ada"}},
		{ServerID: "ghost", ToolName: "greet"},
		{ServerID: toolserver.JavaScriptServerID, ToolName: "run_javascript", Arguments: map[string]any{"code": "6 * 7"}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, "hello ada", batch.Results[0].Text())
	assert.Equal(t, types.ErrCodeServerNotFound, batch.Results[1].Error.Code)
	assert.Contains(t, batch.Results[2].Text(), "42")

	// built-ins cannot be removed
	err = c.DeregisterServer(toolserver.ShellServerID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	// the remote config survives a restart; its connection does not
	restarted := newStack(t, store, token)
	st2, err := restarted.client.GetServerStatus("greeter")
	require.NoError(t, err)
	assert.Equal(t, types.StateDisconnected, st2.State)

	_, err = restarted.client.ConnectServer("greeter")
	require.NoError(t, err)
	res, err = restarted.client.InvokeTool("greeter", "greet", map[string]any{"who": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", res.Text())

	require.NoError(t, restarted.client.DeregisterServer("greeter"))
	configs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestGatewayRequiresToken(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	defer db.Cleanup()
	st := newStack(t, configstore.NewDBStore(db.DB, zaptest.NewLogger(t)), "s3cret-token")

	anonymous := client.NewClient(st.client.BaseURL(), "", nil)
	_, err := anonymous.ListServers()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"), err.Error())

	servers, err := st.client.ListServers()
	require.NoError(t, err)
	assert.NotEmpty(t, servers)
}
