// Package remote connects to tool servers reachable over the network,
// either through a plain REST API or through MCP over SSE.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/connector"
	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	clientName          = "toolgate remote client"
)

// Config of the remote connector.
type Config struct {
	// DefaultTimeout applies to every request of a server that has no timeout of its own.
	DefaultTimeout time.Duration
	// MaxBodyBytes limits the size of a response body read from a remote server.
	MaxBodyBytes int64
	// HTTPClient is used for REST calls and proxied requests.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// session is an open connection to one remote server.
type session interface {
	callTool(ctx context.Context, toolName string, args map[string]any) (*types.ToolInvokeResult, error)
	close() error
}

// Connector keeps one session per connected remote server.
type Connector struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]session
}

var (
	_ connector.Connector = (*Connector)(nil)
	_ connector.Proxier   = (*Connector)(nil)
)

func New(cfg Config) *Connector {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.HTTPClient == nil {
		// request deadlines are enforced through contexts
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, logger: logger, sessions: make(map[string]session)}
}

// Connect opens a session and discovers the tools of the server.
func (c *Connector) Connect(ctx context.Context, cfg *types.ToolServerConfig) ([]types.ToolDeclaration, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required to connect to remote server %s", cfg.ID)
	}
	if err := c.Disconnect(ctx, cfg.ID); err != nil {
		c.logger.Warn("failed to close previous session", zap.String("server_id", cfg.ID), zap.Error(err))
	}

	var (
		s     session
		tools []types.ToolDeclaration
		err   error
	)
	switch cfg.Transport {
	case types.TransportHTTP, "":
		s, tools, err = c.connectREST(ctx, cfg)
	case types.TransportSSE:
		s, tools, err = c.connectSSE(ctx, cfg)
	default:
		return nil, fmt.Errorf("transport %s is not supported for remote servers", cfg.Transport)
	}
	if err != nil {
		return nil, refusedHint(cfg.URL, err)
	}

	c.mu.Lock()
	c.sessions[cfg.ID] = s
	c.mu.Unlock()

	c.logger.Info("connected to remote server",
		zap.String("server_id", cfg.ID),
		zap.String("transport", string(cfg.Transport)),
		zap.Int("tools", len(tools)),
	)
	return tools, nil
}

func (c *Connector) Disconnect(_ context.Context, serverID string) error {
	c.mu.Lock()
	s, ok := c.sessions[serverID]
	delete(c.sessions, serverID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.close(); err != nil {
		return fmt.Errorf("failed to close session of remote server %s: %w", serverID, err)
	}
	c.logger.Info("disconnected from remote server", zap.String("server_id", serverID))
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
	return s.callTool(ctx, toolName, args)
}

// Connected reports whether a session exists for serverID.
func (c *Connector) Connected(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[serverID]
	return ok
}

// Close closes every session.
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

// timeoutError turns an expired deadline into a message naming the server and the limit.
// Transports that hide the context error are caught through ctx.
func timeoutError(ctx context.Context, serverID string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("request to remote server %s timed out after %s: %w", serverID, timeout, err)
	}
	return err
}

// readLimited reads at most limit bytes and fails when the body is longer.
func readLimited(r io.Reader, limit int64, serverID string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response from remote server %s is larger than %d bytes", serverID, limit)
	}
	return body, nil
}

// refusedHint explains a refused connection to a loopback address, the usual mistake
// when toolgate runs inside a container.
func refusedHint(rawURL string, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) && mcputil.IsLoopbackURL(rawURL) {
		return fmt.Errorf(
			"connection to %s was refused. If toolgate is running inside Docker, "+
				"use 'host.docker.internal' as the server's hostname: %w", rawURL, err,
		)
	}
	return err
}
