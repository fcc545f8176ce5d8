package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/toolserver"
	"github.com/toolgate/toolgate/pkg/types"
)

const (
	BindPortEnvVar  = "PORT"
	BindPortDefault = "8080"

	DBUrlEnvVar            = "DATABASE_URL"
	RedisURLEnvVar         = "REDIS_URL"
	TelemetryEnabledEnvVar = "OTEL_ENABLED"
	LogLevelEnvVar         = "LOG_LEVEL"
	BootstrapFileEnvVar    = "TOOLGATE_SERVERS_FILE"
)

const (
	PostgresHostEnvVar     = "POSTGRES_HOST"
	PostgresPortEnvVar     = "POSTGRES_PORT"
	PostgresUserEnvVar     = "POSTGRES_USER"
	PostgresPasswordEnvVar = "POSTGRES_PASSWORD"
	PostgresDBEnvVar       = "POSTGRES_DB"
)

const (
	// ToolServerInitReqTimeoutSecEnvVar configures how long a new local-process server
	// may take to answer the initialize request.
	ToolServerInitReqTimeoutSecEnvVar = "TOOL_SERVER_INIT_REQ_TIMEOUT_SEC"

	ToolServerInitRequestTimeoutSecondsDefault = 30
)

// Limits of the built-in runtimes. All durations are in seconds.
const (
	ShellTimeoutSecEnvVar       = "SHELL_TIMEOUT_SEC"
	ShellScriptTimeoutSecEnvVar = "SHELL_SCRIPT_TIMEOUT_SEC"
	ShellMaxOutputBytesEnvVar   = "SHELL_MAX_OUTPUT_BYTES"
	PythonBinEnvVar             = "PYTHON_BIN"
	PythonTimeoutSecEnvVar      = "PYTHON_TIMEOUT_SEC"
	PythonDisabledEnvVar        = "PYTHON_DISABLED"
	JSTimeoutSecEnvVar          = "JS_TIMEOUT_SEC"
	JSMemoryLimitMBEnvVar       = "JS_MEMORY_LIMIT_MB"
	StarlarkMaxStepsEnvVar      = "STARLARK_MAX_STEPS"
)

// getEnvOrFile returns the value of the given environment variable.
// If the environment variable is not set, it checks for a corresponding
// _FILE environment variable and reads the value from the file if it exists.
// If both are set, the value of the original environment variable takes precedence.
func getEnvOrFile(envVar string) (string, error) {
	val := os.Getenv(envVar)
	if val != "" {
		return val, nil
	}

	fileEnvVar := envVar + "_FILE"
	filePath := os.Getenv(fileEnvVar)
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", fileEnvVar, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return "", nil
}

// getPostgresDSN constructs a Postgres DSN from individual Postgres-specific environment variables & files.
// If POSTGRES_HOST is not set, the Postgres env vars are not in use and ok is false.
func getPostgresDSN() (string, bool, error) {
	host := os.Getenv(PostgresHostEnvVar)
	if host == "" {
		return "", false, nil
	}
	port := os.Getenv(PostgresPortEnvVar)
	if port == "" {
		port = "5432"
	}
	dbName, err := getEnvOrFile(PostgresDBEnvVar)
	if err != nil {
		return "", false, fmt.Errorf("failed to get postgres DB name: %w", err)
	}
	if dbName == "" {
		dbName = "postgres"
	}
	pgUser, err := getEnvOrFile(PostgresUserEnvVar)
	if err != nil {
		return "", false, fmt.Errorf("failed to get postgres user: %w", err)
	}
	if pgUser == "" {
		pgUser = "postgres"
	}
	password, err := getEnvOrFile(PostgresPasswordEnvVar)
	if err != nil {
		return "", false, fmt.Errorf("failed to get postgres password: %w", err)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(pgUser),
		url.QueryEscape(password),
		host,
		port,
		url.QueryEscape(dbName),
	)
	return dsn, true, nil
}

// isTelemetryEnabled returns true if OTEL_ENABLED is set to a true value. Telemetry is off by default.
func isTelemetryEnabled() (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(TelemetryEnabledEnvVar)))
	switch v {
	case "":
		return false, nil
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf(
			"invalid value for %s environment variable: '%s', valid values are 'true' or 'false'",
			TelemetryEnabledEnvVar, v,
		)
	}
}

// positiveIntEnv reads an optional positive integer from the environment.
func positiveIntEnv(envVar string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(envVar))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value for %s: '%s', must be a positive integer", envVar, s)
	}
	return n, nil
}

func secondsEnv(envVar string) (time.Duration, error) {
	n, err := positiveIntEnv(envVar, 0)
	return time.Duration(n) * time.Second, err
}

// getToolServerInitReqTimeout returns the initialize timeout for local-process servers.
func getToolServerInitReqTimeout() (time.Duration, error) {
	n, err := positiveIntEnv(ToolServerInitReqTimeoutSecEnvVar, ToolServerInitRequestTimeoutSecondsDefault)
	return time.Duration(n) * time.Second, err
}

// getBuiltinsConfig reads the limits of the built-in runtimes. Unset values keep the runtime defaults.
func getBuiltinsConfig() (toolserver.Config, error) {
	var cfg toolserver.Config
	var err error

	if cfg.Shell.DefaultCommandTimeout, err = secondsEnv(ShellTimeoutSecEnvVar); err != nil {
		return cfg, err
	}
	if cfg.Shell.DefaultScriptTimeout, err = secondsEnv(ShellScriptTimeoutSecEnvVar); err != nil {
		return cfg, err
	}
	if cfg.Shell.MaxOutputBytes, err = positiveIntEnv(ShellMaxOutputBytesEnvVar, 0); err != nil {
		return cfg, err
	}
	cfg.Python.MaxOutputBytes = cfg.Shell.MaxOutputBytes

	cfg.Python.Binary = strings.TrimSpace(os.Getenv(PythonBinEnvVar))
	if cfg.Python.DefaultTimeout, err = secondsEnv(PythonTimeoutSecEnvVar); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv(PythonDisabledEnvVar); ok {
		disabled, perr := strconv.ParseBool(v)
		if perr != nil {
			return cfg, fmt.Errorf("invalid value for %s: '%s', must be a boolean", PythonDisabledEnvVar, v)
		}
		cfg.DisablePython = disabled
	}

	if cfg.JS.DefaultTimeout, err = secondsEnv(JSTimeoutSecEnvVar); err != nil {
		return cfg, err
	}
	mb, err := positiveIntEnv(JSMemoryLimitMBEnvVar, 0)
	if err != nil {
		return cfg, err
	}
	cfg.JS.MemoryLimit = uint64(mb) << 20
	cfg.Starlark.MemoryLimit = cfg.JS.MemoryLimit

	steps, err := positiveIntEnv(StarlarkMaxStepsEnvVar, 0)
	if err != nil {
		return cfg, err
	}
	cfg.Starlark.MaxSteps = uint64(steps)
	return cfg, nil
}

// newLogger builds the server logger. --debug wins over LOG_LEVEL.
func newLogger() (*zap.Logger, error) {
	if debugLogging {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if lvl := os.Getenv(LogLevelEnvVar); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", LogLevelEnvVar, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}

// loadServerConfigs reads tool server configs from a YAML or JSON file.
// The file holds either a list of servers or a mapping with a "servers" list.
// Servers are enabled unless the file says otherwise.
func loadServerConfigs(fs afero.Fs, path string) ([]*types.ToolServerConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	var items []*yaml.Node
	switch root.Kind {
	case yaml.SequenceNode:
		items = root.Content
	case yaml.MappingNode:
		servers := mappingValue(root, "servers")
		if servers == nil {
			// a single server
			items = []*yaml.Node{root}
			break
		}
		if servers.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%s: servers must be a list", path)
		}
		items = servers.Content
	default:
		return nil, fmt.Errorf("%s: expected a list of servers", path)
	}

	out := make([]*types.ToolServerConfig, 0, len(items))
	for i, item := range items {
		cfg := &types.ToolServerConfig{Enabled: true}
		if err := item.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%s: server #%d: %w", path, i+1, err)
		}
		if cfg.ID == "" {
			return nil, fmt.Errorf("%s: server #%d has no id", path, i+1)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
