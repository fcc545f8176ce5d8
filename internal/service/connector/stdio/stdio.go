// Package stdio connects to tool servers that run as a local child process and speak MCP over stdio.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/connector"
	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

const (
	DefaultInitTimeout = 30 * time.Second
	DefaultCallTimeout = 30 * time.Second
	clientName         = "toolgate stdio client"
)

// Config of the stdio connector.
type Config struct {
	// InitTimeout bounds the initialize handshake and the tool discovery of a new process.
	InitTimeout time.Duration
	// CallTimeout bounds a tool call unless the server config sets its own timeout.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

type session struct {
	client *client.Client
	cfg    *types.ToolServerConfig
}

// Connector keeps one running process per connected server.
type Connector struct {
	initTimeout time.Duration
	callTimeout time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

var _ connector.Connector = (*Connector)(nil)

func New(cfg Config) *Connector {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		initTimeout: cfg.InitTimeout,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
		sessions:    make(map[string]*session),
	}
}

// Connect spawns the server process, performs the handshake and lists its tools.
// An existing session for the same id is closed first.
func (c *Connector) Connect(ctx context.Context, cfg *types.ToolServerConfig) ([]types.ToolDeclaration, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required to run stdio server %s", cfg.ID)
	}
	if err := c.Disconnect(ctx, cfg.ID); err != nil {
		c.logger.Warn("failed to close previous session", zap.String("server_id", cfg.ID), zap.Error(err))
	}

	// the overlay is appended to the host environment of the child only
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, mcputil.EnvSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start stdio server %s: %w", cfg.ID, err)
	}
	c.captureStderr(cfg.ID, mcpClient)

	tools, err := c.handshake(ctx, cfg, mcpClient)
	if err != nil {
		if cerr := mcpClient.Close(); cerr != nil {
			c.logger.Debug("failed to close stdio server after failed connect", zap.String("server_id", cfg.ID), zap.Error(cerr))
		}
		return nil, err
	}

	c.mu.Lock()
	c.sessions[cfg.ID] = &session{client: mcpClient, cfg: cfg.Clone()}
	c.mu.Unlock()

	c.logger.Info("connected to stdio server",
		zap.String("server_id", cfg.ID), zap.String("command", cfg.Command), zap.Int("tools", len(tools)),
	)
	return tools, nil
}

func (c *Connector) handshake(ctx context.Context, cfg *types.ToolServerConfig, mcpClient *client.Client) ([]types.ToolDeclaration, error) {
	if err := mcputil.Initialize(ctx, mcpClient, clientName, cfg.Command, c.initTimeout); err != nil {
		return nil, fmt.Errorf("failed to initialize stdio server %s: %w", cfg.ID, err)
	}

	listCtx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()
	tools, err := mcputil.ListTools(listCtx, mcpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tools of stdio server %s: %w", cfg.ID, err)
	}
	return mcputil.ConvertTools(tools), nil
}

// captureStderr streams the stderr of the server process into the logger, line by line.
func (c *Connector) captureStderr(serverID string, mcpClient *client.Client) {
	stdioTransport, ok := mcpClient.GetTransport().(*transport.Stdio)
	if !ok {
		return
	}
	logger := c.logger.With(zap.String("server_id", serverID))

	go func() {
		scanner := bufio.NewScanner(stdioTransport.Stderr())
		scanner.Buffer(make([]byte, 4096), 1024*1024)
		for scanner.Scan() {
			logger.Info("stdio server stderr", zap.String("line", scanner.Text()))
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Debug("stopped reading stdio server stderr", zap.Error(err))
			return
		}
		logger.Debug("stdio server process has exited")
	}()
}

// Disconnect closes the session and terminates the process.
func (c *Connector) Disconnect(_ context.Context, serverID string) error {
	c.mu.Lock()
	s, ok := c.sessions[serverID]
	delete(c.sessions, serverID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close stdio server %s: %w", serverID, err)
	}
	c.logger.Info("disconnected from stdio server", zap.String("server_id", serverID))
	return nil
}

func (c *Connector) CallTool(
	ctx context.Context, serverID, toolName string, args map[string]any,
) (*types.ToolInvokeResult, error) {
	c.mu.RLock()
	s, ok := c.sessions[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrNotConnected, serverID)
	}

	timeout := s.cfg.Timeout(c.callTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := mcputil.CallTool(ctx, s.client, toolName, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("call to tool %s of stdio server %s timed out after %s: %w", toolName, serverID, timeout, err)
		}
		return nil, err
	}
	return mcputil.ConvertCallToolResult(resp)
}

// Connected reports whether a session exists for serverID.
func (c *Connector) Connected(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[serverID]
	return ok
}

// Close terminates every process.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := c.Disconnect(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
