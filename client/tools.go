package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/toolgate/toolgate/pkg/types"
)

// ListTools returns the tools available through the gateway.
// If serverID is not empty, only the tools of that server are returned.
func (c *Client) ListTools(serverID string) ([]types.AvailableTool, error) {
	u, err := c.constructAPIEndpoint("/tools")
	if err != nil {
		return nil, fmt.Errorf("failed to construct API endpoint: %w", err)
	}
	if serverID != "" {
		u += "?" + url.Values{"server": {serverID}}.Encode()
	}

	req, err := c.newRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", u, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	var tools []types.AvailableTool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return tools, nil
}

// GetTool returns a single tool of a server
func (c *Client) GetTool(serverID, toolName string) (*types.AvailableTool, error) {
	var tool types.AvailableTool
	path := "/servers/" + url.PathEscape(serverID) + "/tools/" + url.PathEscape(toolName)
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// InvokeTool calls a tool through the gateway.
// A failed call is not an error: it is described by the returned result.
func (c *Client) InvokeTool(serverID, toolName string, args map[string]any) (*types.ToolCallResult, error) {
	body, err := json.Marshal(types.ToolCallRequest{ServerID: serverID, ToolName: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool call: %w", err)
	}
	var res types.ToolCallResult
	if err := c.do(http.MethodPost, "/tools/call", bytes.NewReader(body), http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// InvokeTools runs several tool calls concurrently. Results are in the order of calls.
func (c *Client) InvokeTools(calls []types.ToolCallRequest) (*types.BatchCallResponse, error) {
	body, err := json.Marshal(types.BatchCallRequest{Calls: calls})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch call: %w", err)
	}
	var res types.BatchCallResponse
	if err := c.do(http.MethodPost, "/tools/batch", bytes.NewReader(body), http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ProxyRequest forwards a raw request to the host of a remote server
func (c *Client) ProxyRequest(serverID string, preq *types.ProxyRequest) (*types.ProxyResponse, error) {
	body, err := json.Marshal(preq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proxy request: %w", err)
	}
	var res types.ProxyResponse
	path := "/servers/" + url.PathEscape(serverID) + "/proxy"
	if err := c.do(http.MethodPost, path, bytes.NewReader(body), http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
