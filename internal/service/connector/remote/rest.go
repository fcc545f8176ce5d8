package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

// restSession talks to a server exposing GET {url}/tools and POST {url}/tools/call.
type restSession struct {
	serverID     string
	baseURL      string
	headers      map[string]string
	timeout      time.Duration
	maxBodyBytes int64
	client       *http.Client
	logger       *zap.Logger
}

type restTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	// some servers use snake case or the function calling field name
	InputSchemaSnake json.RawMessage `json:"input_schema"`
	Parameters       json.RawMessage `json:"parameters"`
}

type restToolsResponse struct {
	Tools []restTool `json:"tools"`
}

type restCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (c *Connector) connectREST(ctx context.Context, cfg *types.ToolServerConfig) (session, []types.ToolDeclaration, error) {
	s := &restSession{
		serverID:     cfg.ID,
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		headers:      mcputil.PrepareHeaders(cfg.ID, cfg.Headers, cfg.BearerToken, c.logger),
		timeout:      cfg.Timeout(c.cfg.DefaultTimeout),
		maxBodyBytes: c.cfg.MaxBodyBytes,
		client:       c.cfg.HTTPClient,
		logger:       c.logger,
	}
	tools, err := s.listTools(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, tools, nil
}

func (s *restSession) listTools(ctx context.Context) ([]types.ToolDeclaration, error) {
	body, err := s.do(ctx, http.MethodGet, "/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tools of remote server %s: %w", s.serverID, err)
	}

	var resp restToolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tools of remote server %s: %w", s.serverID, err)
	}

	tools := make([]types.ToolDeclaration, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		if t.Name == "" {
			s.logger.Warn("ignoring remote tool without a name", zap.String("server_id", s.serverID))
			continue
		}
		schema := firstNonEmpty(t.InputSchema, t.InputSchemaSnake, t.Parameters)
		if schema == nil {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, types.ToolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (s *restSession) callTool(ctx context.Context, toolName string, args map[string]any) (*types.ToolInvokeResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(restCallRequest{Name: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments of tool %s: %w", toolName, err)
	}

	body, err := s.do(ctx, http.MethodPost, "/tools/call", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", toolName, err)
	}
	return NormalizeResponse(body), nil
}

// do sends a request bounded by the session timeout and returns the body of a 2xx response.
func (s *restSession) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, timeoutError(ctx, s.serverID, s.timeout, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, s.maxBodyBytes, s.serverID)
	if err != nil {
		return nil, timeoutError(ctx, s.serverID, s.timeout, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (s *restSession) close() error { return nil }

// NormalizeResponse turns the body of a tool call into a result.
// The body may be a gateway style result (it has a "success" key), an MCP result
// (it has a "content" key) or anything else, which becomes a single text block.
func NormalizeResponse(body []byte) *types.ToolInvokeResult {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return &types.ToolInvokeResult{Content: []map[string]any{types.NewTextContent(string(body))}}
	}

	obj, ok := decoded.(map[string]any)
	if ok {
		if success, has := obj["success"].(bool); has {
			return normalizeGatewayResult(obj, success)
		}
		if content, has := obj["content"].([]any); has {
			isError, _ := obj["isError"].(bool)
			return &types.ToolInvokeResult{
				IsError:           isError,
				Content:           contentBlocks(content),
				StructuredContent: obj["structuredContent"],
			}
		}
	}

	if str, isString := decoded.(string); isString {
		return &types.ToolInvokeResult{Content: []map[string]any{types.NewTextContent(str)}}
	}
	return &types.ToolInvokeResult{Content: []map[string]any{types.NewTextContent(string(bytes.TrimSpace(body)))}}
}

func normalizeGatewayResult(obj map[string]any, success bool) *types.ToolInvokeResult {
	res := &types.ToolInvokeResult{IsError: !success}
	if content, ok := obj["content"].([]any); ok {
		res.Content = contentBlocks(content)
	} else if data, ok := obj["data"]; ok && data != nil {
		res.Content = dataBlocks(data)
	}
	res.StructuredContent = obj["structuredContent"]
	if res.StructuredContent == nil {
		res.StructuredContent = obj["structured_content"]
	}
	if !success && len(res.Content) == 0 {
		msg := "remote tool call failed"
		if e, ok := obj["error"].(map[string]any); ok {
			if m, ok := e["message"].(string); ok && m != "" {
				msg = m
			}
		} else if m, ok := obj["error"].(string); ok && m != "" {
			msg = m
		}
		res.Content = []map[string]any{types.NewTextContent(msg)}
	}
	if res.Content == nil {
		res.Content = []map[string]any{}
	}
	return res
}

// dataBlocks converts the "data" payload of a gateway style result.
// A list is treated as content blocks, a string is one text block and anything else is JSON text.
func dataBlocks(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		return contentBlocks(v)
	case string:
		return []map[string]any{types.NewTextContent(v)}
	default:
		b, _ := json.Marshal(v)
		return []map[string]any{types.NewTextContent(string(b))}
	}
}

// contentBlocks keeps object blocks as they are and wraps anything else as text.
func contentBlocks(content []any) []map[string]any {
	out := make([]map[string]any, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case map[string]any:
			out = append(out, v)
		case string:
			out = append(out, types.NewTextContent(v))
		default:
			b, _ := json.Marshal(v)
			out = append(out, types.NewTextContent(string(b)))
		}
	}
	return out
}

func firstNonEmpty(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 && string(c) != "null" {
			return c
		}
	}
	return nil
}
