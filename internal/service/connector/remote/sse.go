package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

// sseSession is an MCP session over SSE.
type sseSession struct {
	serverID string
	client   *client.Client
	timeout  time.Duration
}

func (c *Connector) connectSSE(ctx context.Context, cfg *types.ToolServerConfig) (session, []types.ToolDeclaration, error) {
	var opts []transport.ClientOption
	if headers := mcputil.PrepareHeaders(cfg.ID, cfg.Headers, cfg.BearerToken, c.logger); len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}
	opts = append(opts, transport.WithHTTPClient(c.cfg.HTTPClient))

	mcpClient, err := client.NewSSEMCPClient(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SSE client for remote server %s: %w", cfg.ID, err)
	}

	timeout := cfg.Timeout(c.cfg.DefaultTimeout)
	tools, err := c.handshakeSSE(ctx, cfg, mcpClient, timeout)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}
	return &sseSession{serverID: cfg.ID, client: mcpClient, timeout: timeout}, tools, nil
}

func (c *Connector) handshakeSSE(
	ctx context.Context, cfg *types.ToolServerConfig, mcpClient *client.Client, timeout time.Duration,
) ([]types.ToolDeclaration, error) {
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// the event stream outlives the connect call, so it must not inherit its cancellation
	if err := mcpClient.Start(context.WithoutCancel(startCtx)); err != nil {
		return nil, fmt.Errorf("failed to start SSE transport for remote server %s: %w", cfg.ID, err)
	}

	if err := mcputil.Initialize(ctx, mcpClient, clientName, cfg.URL, timeout); err != nil {
		return nil, fmt.Errorf("failed to initialize remote server %s: %w", cfg.ID, err)
	}

	listCtx, cancelList := context.WithTimeout(ctx, timeout)
	defer cancelList()
	tools, err := mcputil.ListTools(listCtx, mcpClient)
	if err != nil {
		return nil, timeoutError(listCtx, cfg.ID, timeout, fmt.Errorf("failed to discover tools of remote server %s: %w", cfg.ID, err))
	}
	return mcputil.ConvertTools(tools), nil
}

func (s *sseSession) callTool(ctx context.Context, toolName string, args map[string]any) (*types.ToolInvokeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := mcputil.CallTool(ctx, s.client, toolName, args)
	if err != nil {
		return nil, timeoutError(ctx, s.serverID, s.timeout, err)
	}
	return mcputil.ConvertCallToolResult(resp)
}

func (s *sseSession) close() error {
	return s.client.Close()
}
