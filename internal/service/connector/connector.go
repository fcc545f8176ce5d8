// Package connector defines how the gateway talks to tool servers that live outside its process.
// Each transport family provides an implementation in a sub-package.
package connector

import (
	"context"
	"errors"

	"github.com/toolgate/toolgate/pkg/types"
)

// ErrNotConnected is returned by a connector that has no session for a server.
var ErrNotConnected = errors.New("server is not connected")

// Connector manages the sessions of one kind of tool server.
// Implementations must be safe for concurrent use. The gateway serializes
// Connect and Disconnect per server id but calls CallTool concurrently.
type Connector interface {
	// Connect opens a session and discovers the tools of the server.
	// On failure, any resource acquired along the way is released.
	Connect(ctx context.Context, cfg *types.ToolServerConfig) ([]types.ToolDeclaration, error)

	// Disconnect closes the session of serverID. It is a no-op if there is none.
	Disconnect(ctx context.Context, serverID string) error

	// CallTool invokes a tool over the session of serverID.
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*types.ToolInvokeResult, error)
}

// Proxier forwards raw requests to the host of a server.
// It does not need an open session.
type Proxier interface {
	ProxyRequest(ctx context.Context, cfg *types.ToolServerConfig, req *types.ProxyRequest) (*types.ProxyResponse, error)
}
