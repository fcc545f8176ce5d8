package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/toolgate/toolgate/pkg/types"
)

// ListServers returns the configs of every registered tool server
func (c *Client) ListServers() ([]*types.ToolServerConfig, error) {
	var servers []*types.ToolServerConfig
	if err := c.do(http.MethodGet, "/servers", nil, http.StatusOK, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// RegisterServer adds a tool server. If connect is true, the gateway connects to it right away.
func (c *Client) RegisterServer(cfg *types.ToolServerConfig, connect bool) (*types.ToolServerStatus, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal server config: %w", err)
	}
	// the query string must not be escaped by the path join
	u, err := c.constructAPIEndpoint("/servers")
	if err != nil {
		return nil, err
	}
	if connect {
		u += "?connect=true"
	}
	req, err := c.newRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", u, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}
	var status types.ToolServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// DeregisterServer removes a tool server
func (c *Client) DeregisterServer(id string) error {
	return c.do(http.MethodDelete, "/servers/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

// GetServerStatus returns the connection status of a tool server
func (c *Client) GetServerStatus(id string) (*types.ToolServerStatus, error) {
	var status types.ToolServerStatus
	if err := c.do(http.MethodGet, "/servers/"+url.PathEscape(id)+"/status", nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListServerStatus returns the status of every tool server
func (c *Client) ListServerStatus() ([]types.ToolServerStatus, error) {
	var statuses []types.ToolServerStatus
	if err := c.do(http.MethodGet, "/status", nil, http.StatusOK, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ConnectServer asks the gateway to connect to a tool server.
// A failed attempt returns the error status of the server together with an error.
func (c *Client) ConnectServer(id string) (*types.ToolServerStatus, error) {
	u, err := c.constructAPIEndpoint("/servers/" + url.PathEscape(id) + "/connect")
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", u, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadGateway:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		var out types.ConnectResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if out.Error != "" {
			return out.Status, fmt.Errorf("failed to connect to %s: %s", id, out.Error)
		}
		return out.Status, nil
	default:
		return nil, c.parseErrorResponse(resp)
	}
}

// DisconnectServer closes the connection to a tool server
func (c *Client) DisconnectServer(id string) (*types.ToolServerStatus, error) {
	var status types.ToolServerStatus
	if err := c.do(http.MethodPost, "/servers/"+url.PathEscape(id)+"/disconnect", nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
