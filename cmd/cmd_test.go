package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/testhelpers"
	"github.com/toolgate/toolgate/pkg/types"
)

func TestCommandAnnotations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		annot map[string]string
		group subCommandGroup
		order string
	}{
		{"start", startServerCmd.Annotations, subCommandGroupBasic, "1"},
		{"register", registerCmd.Annotations, subCommandGroupBasic, "2"},
		{"deregister", deregisterCmd.Annotations, subCommandGroupBasic, "3"},
		{"list", listCmd.Annotations, subCommandGroupBasic, "4"},
		{"usage", usageCmd.Annotations, subCommandGroupBasic, "5"},
		{"invoke", invokeCmd.Annotations, subCommandGroupBasic, "6"},
		{"connect", connectCmd.Annotations, subCommandGroupAdvanced, "1"},
		{"disconnect", disconnectCmd.Annotations, subCommandGroupAdvanced, "2"},
		{"version", versionCmd.Annotations, subCommandGroupAdvanced, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testhelpers.TestCommandAnnotations(t, tt.annot, []testhelpers.CommandAnnotationTest{
				{Key: "group", Expected: string(tt.group)},
				{Key: "order", Expected: tt.order},
			})
		})
	}
}

func TestCommandFlags(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"port", "servers-file", "generate-access-token"} {
		testhelpers.AssertNotNil(t, startServerCmd.Flags().Lookup(name))
	}
	testhelpers.AssertNotNil(t, registerCmd.Flags().Lookup("conf"))
	testhelpers.AssertNotNil(t, registerCmd.Flags().Lookup("connect"))
	testhelpers.AssertNotNil(t, listToolsCmd.Flags().Lookup("server"))
	testhelpers.AssertNotNil(t, invokeCmd.Flags().Lookup("input"))
	for _, name := range []string{"registry", "access-token", "debug"} {
		testhelpers.AssertNotNil(t, rootCmd.PersistentFlags().Lookup(name))
	}
	testhelpers.AssertEqual(t, 2, len(listCmd.Commands()))
}

func TestToolRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args       []string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{[]string{"shell", "execute_command"}, "shell", "execute_command", false},
		{[]string{"shell__execute_command"}, "shell", "execute_command", false},
		{[]string{"github__create_issue"}, "github", "create_issue", false},
		{[]string{"shell"}, "", "", true},
		{[]string{"__tool"}, "", "", true},
		{[]string{"shell__"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			server, tool, err := toolRef(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestLoadServerConfigs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []*types.ToolServerConfig
		wantErr string
	}{
		{
			name: "list",
			content: `
- id: fs
  kind: local-process
  command: npx
  args: ["-y", "server-filesystem"]
- id: weather
  kind: remote
  transport: sse
  url: https://weather.example.com/sse
  enabled: false
`,
			want: []*types.ToolServerConfig{
				{ID: "fs", Kind: types.KindLocalProcess, Command: "npx", Args: []string{"-y", "server-filesystem"}, Enabled: true},
				{ID: "weather", Kind: types.KindRemote, Transport: types.TransportSSE, URL: "https://weather.example.com/sse"},
			},
		},
		{
			name: "servers mapping",
			content: `
servers:
  - id: docs
    kind: remote
    url: http://localhost:9000/mcp
    headers:
      X-Team: core
    timeout_sec: 5
`,
			want: []*types.ToolServerConfig{
				{
					ID: "docs", Kind: types.KindRemote, URL: "http://localhost:9000/mcp",
					Headers: map[string]string{"X-Team": "core"}, TimeoutSec: 5, Enabled: true,
				},
			},
		},
		{
			name:    "single server as json",
			content: `{"id": "git", "kind": "local-process", "command": "uvx", "env": {"GIT_DIR": "/repo"}}`,
			want: []*types.ToolServerConfig{
				{ID: "git", Kind: types.KindLocalProcess, Command: "uvx", Env: map[string]string{"GIT_DIR": "/repo"}, Enabled: true},
			},
		},
		{
			name:    "empty file",
			content: "",
			want:    nil,
		},
		{
			name:    "missing id",
			content: "- kind: remote\n  url: http://x\n",
			wantErr: "has no id",
		},
		{
			name:    "servers is not a list",
			content: "servers: nope\n",
			wantErr: "servers must be a list",
		},
		{
			name:    "scalar document",
			content: "hello\n",
			wantErr: "expected a list of servers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/servers.yaml", []byte(tt.content), 0o644))

			got, err := loadServerConfigs(fs, "/servers.yaml")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := loadServerConfigs(afero.NewMemMapFs(), "/nope.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read")
	})
}

func TestGetEnvOrFile(t *testing.T) {
	const envVar = "TOOLGATE_TEST_SECRET"

	t.Run("env wins", func(t *testing.T) {
		t.Setenv(envVar, "direct")
		t.Setenv(envVar+"_FILE", "/does/not/exist")
		got, err := getEnvOrFile(envVar)
		require.NoError(t, err)
		assert.Equal(t, "direct", got)
	})

	t.Run("file is trimmed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(path, []byte("  from-file\n"), 0o600))
		t.Setenv(envVar, "")
		t.Setenv(envVar+"_FILE", path)
		got, err := getEnvOrFile(envVar)
		require.NoError(t, err)
		assert.Equal(t, "from-file", got)
	})

	t.Run("unreadable file", func(t *testing.T) {
		t.Setenv(envVar, "")
		t.Setenv(envVar+"_FILE", filepath.Join(t.TempDir(), "missing"))
		_, err := getEnvOrFile(envVar)
		assert.Error(t, err)
	})

	t.Run("unset", func(t *testing.T) {
		t.Setenv(envVar, "")
		t.Setenv(envVar+"_FILE", "")
		got, err := getEnvOrFile(envVar)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestGetPostgresDSN(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		t.Setenv(PostgresHostEnvVar, "")
		_, ok, err := getPostgresDSN()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv(PostgresHostEnvVar, "db")
		t.Setenv(PostgresPortEnvVar, "")
		t.Setenv(PostgresUserEnvVar, "")
		t.Setenv(PostgresPasswordEnvVar, "")
		t.Setenv(PostgresDBEnvVar, "")
		dsn, ok, err := getPostgresDSN()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "postgres://postgres:@db:5432/postgres", dsn)
	})

	t.Run("escapes credentials", func(t *testing.T) {
		t.Setenv(PostgresHostEnvVar, "db")
		t.Setenv(PostgresPortEnvVar, "6543")
		t.Setenv(PostgresUserEnvVar, "admin")
		t.Setenv(PostgresPasswordEnvVar, "p@ss word")
		t.Setenv(PostgresDBEnvVar, "gate")
		dsn, _, err := getPostgresDSN()
		require.NoError(t, err)
		assert.Equal(t, "postgres://admin:p%40ss+word@db:6543/gate", dsn)
	})
}

func TestIsTelemetryEnabled(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{"", false, false},
		{"true", true, false},
		{"TRUE", true, false},
		{"1", true, false},
		{"false", false, false},
		{"0", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(TelemetryEnabledEnvVar, tt.value)
			got, err := isTelemetryEnabled()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetToolServerInitReqTimeout(t *testing.T) {
	t.Setenv(ToolServerInitReqTimeoutSecEnvVar, "")
	got, err := getToolServerInitReqTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, got)

	t.Setenv(ToolServerInitReqTimeoutSecEnvVar, "7")
	got, err = getToolServerInitReqTimeout()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, got)

	t.Setenv(ToolServerInitReqTimeoutSecEnvVar, "-1")
	_, err = getToolServerInitReqTimeout()
	assert.Error(t, err)
}

func TestGetBuiltinsConfig(t *testing.T) {
	for _, v := range []string{
		ShellTimeoutSecEnvVar, ShellScriptTimeoutSecEnvVar, ShellMaxOutputBytesEnvVar,
		PythonBinEnvVar, PythonTimeoutSecEnvVar, JSTimeoutSecEnvVar, JSMemoryLimitMBEnvVar, StarlarkMaxStepsEnvVar,
	} {
		t.Setenv(v, "")
	}
	t.Setenv(PythonDisabledEnvVar, "false")

	t.Run("unset keeps zero values", func(t *testing.T) {
		cfg, err := getBuiltinsConfig()
		require.NoError(t, err)
		assert.Zero(t, cfg.Shell.DefaultCommandTimeout)
		assert.Zero(t, cfg.JS.MemoryLimit)
		assert.False(t, cfg.DisablePython)
	})

	t.Run("values are read", func(t *testing.T) {
		t.Setenv(ShellTimeoutSecEnvVar, "10")
		t.Setenv(ShellMaxOutputBytesEnvVar, "2048")
		t.Setenv(PythonBinEnvVar, " /usr/bin/python3.12 ")
		t.Setenv(PythonDisabledEnvVar, "true")
		t.Setenv(JSMemoryLimitMBEnvVar, "64")
		t.Setenv(StarlarkMaxStepsEnvVar, "1000")

		cfg, err := getBuiltinsConfig()
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.Shell.DefaultCommandTimeout)
		assert.Equal(t, 2048, cfg.Shell.MaxOutputBytes)
		assert.Equal(t, 2048, cfg.Python.MaxOutputBytes)
		assert.Equal(t, "/usr/bin/python3.12", cfg.Python.Binary)
		assert.True(t, cfg.DisablePython)
		assert.Equal(t, uint64(64<<20), cfg.JS.MemoryLimit)
		assert.Equal(t, uint64(64<<20), cfg.Starlark.MemoryLimit)
		assert.Equal(t, uint64(1000), cfg.Starlark.MaxSteps)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv(JSTimeoutSecEnvVar, "soon")
		_, err := getBuiltinsConfig()
		assert.Error(t, err)
	})

	t.Run("invalid bool", func(t *testing.T) {
		t.Setenv(PythonDisabledEnvVar, "sometimes")
		_, err := getBuiltinsConfig()
		assert.Error(t, err)
	})
}
