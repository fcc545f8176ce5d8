// Package mcpproxy exposes every tool available through the gateway on a single MCP server.
// Tools are published as <serverId>__<toolName> and kept in sync with server status changes.
package mcpproxy

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
	"github.com/toolgate/toolgate/pkg/version"
)

// ServerName is the name the proxy reports in its initialize response.
const ServerName = "toolgate"

// ToolRouter is the part of the gateway the proxy needs.
type ToolRouter interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) *types.ToolCallResult
	ListAllAvailableTools() []types.AvailableTool
}

// Proxy mirrors the tools of connected servers onto an MCP server.
// It implements the gateway's status observer interface.
type Proxy struct {
	router ToolRouter
	server *server.MCPServer
	logger *zap.Logger

	mu sync.Mutex
	// published holds the canonical tool names registered for each server id.
	published map[string][]string
}

// New creates the proxy MCP server and publishes the tools already available.
func New(router ToolRouter, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Proxy{
		router: router,
		server: server.NewMCPServer(
			ServerName,
			version.GetVersion(),
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		logger:    logger,
		published: make(map[string][]string),
	}

	byServer := make(map[string][]types.ToolDeclaration)
	for _, t := range router.ListAllAvailableTools() {
		byServer[t.ServerID] = append(byServer[t.ServerID], t.Tool)
	}
	for id, tools := range byServer {
		p.sync(id, tools)
	}
	return p
}

// MCPServer returns the underlying MCP server, to be mounted on a transport.
func (p *Proxy) MCPServer() *server.MCPServer {
	return p.server
}

// OnStatusChange republishes the tools of a server. Tools of servers that are not
// connected are withdrawn.
func (p *Proxy) OnStatusChange(status types.ToolServerStatus) {
	if status.State == types.StateConnected {
		p.sync(status.ServerID, status.Tools)
		return
	}
	p.sync(status.ServerID, nil)
}

// ToolNames returns every published canonical tool name, sorted.
func (p *Proxy) ToolNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, names := range p.published {
		out = append(out, names...)
	}
	sort.Strings(out)
	return out
}

func (p *Proxy) sync(serverID string, tools []types.ToolDeclaration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old := p.published[serverID]; len(old) > 0 {
		p.server.DeleteTools(old...)
		delete(p.published, serverID)
	}
	if len(tools) == 0 {
		return
	}

	names := make([]string, 0, len(tools))
	serverTools := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		name := mcputil.MergeServerToolNames(serverID, t.Name)
		names = append(names, name)
		serverTools = append(serverTools, server.ServerTool{
			Tool:    mcputil.ToMCPTool(name, t),
			Handler: p.handler(serverID, t.Name),
		})
	}
	p.server.AddTools(serverTools...)
	p.published[serverID] = names
	p.logger.Debug("published proxy tools", zap.String("server_id", serverID), zap.Int("count", len(names)))
}

func (p *Proxy) handler(serverID, toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := p.router.CallTool(ctx, serverID, toolName, req.GetArguments())
		return mcputil.ToMCPResult(res), nil
	}
}
