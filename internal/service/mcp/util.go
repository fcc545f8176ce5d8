// Package mcp holds the helpers shared by everything in toolgate that speaks MCP:
// server id validation, canonical tool names, client handshakes and result conversion.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/pkg/version"
)

// serverToolNameSep is the separator used to combine server id and tool name.
// This combination produces the canonical name that uniquely identifies a tool across toolgate.
const serverToolNameSep = "__"

// Only allow letters, numbers, hyphens, and underscores
var validServerID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateServerID checks if the server id is valid.
// Server id must not contain double underscores `__`.
// Tools exposed through the MCP proxy are identified by `<server_id>__<tool_name>` (eg- `github__git_commit`)
// When such a tool is invoked, the text before the first __ is treated as the server id.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("invalid server id: '%s' must not be empty", id)
	}
	if !validServerID.MatchString(id) {
		return fmt.Errorf("invalid server id: '%s' must follow the regular expression %s", id, validServerID)
	}
	if strings.Contains(id, serverToolNameSep) {
		return fmt.Errorf("invalid server id: '%s' must not contain multiple consecutive underscores", id)
	}
	if strings.HasSuffix(id, string(serverToolNameSep[0])) {
		// `aws_` + `ec2_create_sg` -> `aws___ec2_create_sg` would split into `aws` + `_ec2_create_sg`
		return fmt.Errorf("invalid server id: '%s' must not end with an underscore", id)
	}
	return nil
}

// MergeServerToolNames combines the server id and tool name into a single tool name unique across toolgate.
func MergeServerToolNames(s, t string) string {
	return s + serverToolNameSep + t
}

// SplitServerToolName splits the canonical tool name into server id and tool name.
func SplitServerToolName(name string) (string, string, bool) {
	return strings.Cut(name, serverToolNameSep)
}

// IsLoopbackURL returns true if rawURL resolves to a loopback address.
// It assumes that rawURL is a valid URL.
func IsLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()

	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// PrepareHeaders merges the configured headers of a remote server with its bearer token.
// If a bearer token is provided and a custom Authorization header is set, the custom header
// takes precedence and the bearer token is ignored.
func PrepareHeaders(serverID string, headers map[string]string, bearerToken string, logger *zap.Logger) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for key, value := range headers {
		out[key] = value
	}

	if bearerToken != "" {
		if _, hasAuthorizationHeader := out["Authorization"]; hasAuthorizationHeader {
			logger.Info("custom Authorization header will be used; bearer_token ignored", zap.String("server_id", serverID))
		} else {
			out["Authorization"] = "Bearer " + bearerToken
		}
	}
	return out
}

// EnvSlice converts an environment overlay to the KEY=VALUE form expected by process APIs.
// The output is sorted so that the spawned environment is deterministic.
func EnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// NewInitializeRequest builds the MCP initialize request sent by toolgate to every backend.
func NewInitializeRequest(clientName string) mcp.InitializeRequest {
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: version.GetVersion(),
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	return initRequest
}

// Initialize performs the MCP handshake bounded by timeout.
// Timeouts and refused loopback connections are turned into actionable messages.
func Initialize(ctx context.Context, c *client.Client, clientName, target string, timeout time.Duration) error {
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := c.Initialize(initCtx, NewInitializeRequest(clientName))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf(
			"initialization request to tool server timed out after %s, check toolgate logs for any errors from this server",
			timeout,
		)
	}
	if errors.Is(err, syscall.ECONNREFUSED) && IsLoopbackURL(target) {
		return fmt.Errorf(
			"connection to the tool server %s was refused. "+
				"If toolgate is running inside Docker, use 'host.docker.internal' as your server's hostname",
			target,
		)
	}
	return fmt.Errorf("failed to initialize connection with tool server: %w", err)
}

// ListTools fetches the tool declarations of an initialized session.
func ListTools(ctx context.Context, c *client.Client) ([]mcp.Tool, error) {
	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tools: %w", err)
	}
	return resp.Tools, nil
}

// CallTool invokes a tool on an initialized session.
func CallTool(ctx context.Context, c *client.Client, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	callToolReq := mcp.CallToolRequest{}
	callToolReq.Params.Name = toolName
	callToolReq.Params.Arguments = args

	resp, err := c.CallTool(ctx, callToolReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", toolName, err)
	}
	return resp, nil
}
