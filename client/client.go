// Package client provides an HTTP client for the toolgate API.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/toolgate/toolgate/internal/api"
)

// Client talks to a toolgate server.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a client for the server at baseURL.
// accessToken may be empty if the server does not require one.
func NewClient(baseURL, accessToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  httpClient,
	}
}

// BaseURL returns the URL of the server
func (c *Client) BaseURL() string {
	return c.baseURL
}

// constructAPIEndpoint builds the full URL of an API path like "/servers".
func (c *Client) constructAPIEndpoint(suffixPath string) (string, error) {
	return url.JoinPath(c.baseURL, api.V0ApiPathPrefix, suffixPath)
}

func (c *Client) newRequest(method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return req, nil
}

// parseErrorResponse turns a non-successful response into an error.
// The server answers errors as {"error": "..."}; any other body is included verbatim.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("request failed with status %d, message: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// do sends a request and decodes the JSON response into out when the status is wantStatus.
func (c *Client) do(method, path string, body io.Reader, wantStatus int, out any) error {
	u, err := c.constructAPIEndpoint(path)
	if err != nil {
		return fmt.Errorf("failed to construct API endpoint: %w", err)
	}
	req, err := c.newRequest(method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
