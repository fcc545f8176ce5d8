package inprocess

import (
	"context"
	"fmt"

	"github.com/toolgate/toolgate/internal/service/connector"
	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

// Connector exposes a Registry through the connector interface used by the gateway.
// In-process servers need no session, so Connect only reports the tools and Disconnect does nothing.
type Connector struct {
	reg *Registry
}

var _ connector.Connector = (*Connector)(nil)

func NewConnector(reg *Registry) *Connector {
	return &Connector{reg: reg}
}

func (c *Connector) Connect(_ context.Context, cfg *types.ToolServerConfig) ([]types.ToolDeclaration, error) {
	return c.reg.Tools(cfg.ID)
}

func (c *Connector) Disconnect(context.Context, string) error {
	return nil
}

func (c *Connector) CallTool(
	ctx context.Context, serverID, toolName string, args map[string]any,
) (*types.ToolInvokeResult, error) {
	res, err := c.reg.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, err
	}
	out, err := mcputil.ConvertCallToolResult(res)
	if err != nil {
		return nil, fmt.Errorf("failed to convert result of tool %s: %w", toolName, err)
	}
	return out, nil
}
