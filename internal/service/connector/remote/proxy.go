package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

// ProxyRequest forwards a raw request to the host of a remote server and returns
// the response without interpreting it. The endpoint is resolved against the server URL
// and must stay on the same host.
func (c *Connector) ProxyRequest(
	ctx context.Context, cfg *types.ToolServerConfig, preq *types.ProxyRequest,
) (*types.ProxyResponse, error) {
	target, err := resolveEndpoint(cfg.URL, preq.Endpoint)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(preq.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := cfg.Timeout(c.cfg.DefaultTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(preq.Body) > 0 {
		body = bytes.NewReader(preq.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range mcputil.PrepareHeaders(cfg.ID, cfg.Headers, cfg.BearerToken, c.logger) {
		req.Header.Set(k, v)
	}
	for k, v := range preq.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, timeoutError(ctx, cfg.ID, timeout, fmt.Errorf("proxy request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body, c.cfg.MaxBodyBytes, cfg.ID)
	if err != nil {
		return nil, timeoutError(ctx, cfg.ID, timeout, fmt.Errorf("failed to read proxy response: %w", err))
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	c.logger.Debug("proxied request to remote server",
		zap.String("server_id", cfg.ID),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
	)
	return &types.ProxyResponse{StatusCode: resp.StatusCode, Headers: headers, Body: respBody}, nil
}

func resolveEndpoint(baseURL, endpoint string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid server url %q", baseURL)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	// relative endpoints extend the server url instead of replacing its last segment
	if !ref.IsAbs() && !strings.HasPrefix(ref.Path, "/") && !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	resolved := base.ResolveReference(ref)
	if resolved.Host != base.Host || resolved.Scheme != base.Scheme {
		return "", fmt.Errorf("endpoint %q is not on the host of the server", endpoint)
	}
	return resolved.String(), nil
}
