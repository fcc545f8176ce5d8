package types

import "encoding/json"

// Error codes carried by a failed ToolCallResult.
const (
	ErrCodeServerNotFound       = "SERVER_NOT_FOUND"
	ErrCodeServerNotConnected   = "SERVER_NOT_CONNECTED"
	ErrCodeToolCallFailed       = "TOOL_CALL_FAILED"
	ErrCodeUnsupportedTransport = "UNSUPPORTED_TRANSPORT"
)

// ToolInputSchema defines the schema for the input parameters of a tool
type ToolInputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// ToolDeclaration describes a callable tool of a server.
// Name is unique only within the context of its server.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Schema decodes the declaration's input schema.
// A missing or undecodable schema yields an empty object schema.
func (d ToolDeclaration) Schema() ToolInputSchema {
	s := ToolInputSchema{Type: "object"}
	if len(d.InputSchema) == 0 {
		return s
	}
	if err := json.Unmarshal(d.InputSchema, &s); err != nil {
		return ToolInputSchema{Type: "object"}
	}
	return s
}

// AvailableTool is a tool together with the server that provides it.
type AvailableTool struct {
	ServerID string          `json:"server_id"`
	Tool     ToolDeclaration `json:"tool"`
}

// ToolInvokeResult is the raw result of a tool call as reported by a backend,
// before the gateway attaches success and metadata.
type ToolInvokeResult struct {
	Meta    map[string]any `json:"_meta,omitempty"`
	IsError bool           `json:"isError,omitempty"`

	Content           []map[string]any `json:"content"`
	StructuredContent any              `json:"structuredContent,omitempty"`
}

// ToolCallError is the declared error of a failed call.
type ToolCallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolCallMetadata describes a single call.
type ToolCallMetadata struct {
	ServerID    string `json:"server_id"`
	ToolName    string `json:"tool_name"`
	TimestampMs int64  `json:"timestamp_ms"`
	DurationMs  int64  `json:"duration_ms"`
}

// ToolCallResult is the normalized result of every call made through the gateway.
// It is designed to be passed down to the chat pipeline as a plain value.
type ToolCallResult struct {
	Success bool `json:"success"`

	// Content is a sequence of typed content blocks (text, image or embedded resource)
	// in the shape defined by MCP.
	Content           []map[string]any `json:"content"`
	StructuredContent any              `json:"structuredContent,omitempty"`

	Error    *ToolCallError   `json:"error,omitempty"`
	Metadata ToolCallMetadata `json:"metadata"`
}

// Text concatenates the text blocks of the result.
func (r *ToolCallResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c["type"] != "text" {
			continue
		}
		if s, ok := c["text"].(string); ok {
			if out != "" {
				out += "\n"
			}
			out += s
		}
	}
	return out
}

// ToolCallRequest is a single element of a batch call.
type ToolCallRequest struct {
	ServerID  string         `json:"server_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ProxyRequest is an arbitrary REST call forwarded to a remote server's host.
type ProxyRequest struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Body     json.RawMessage   `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// ProxyResponse is returned without interpretation.
type ProxyResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
}

// NewTextContent builds a text content block.
func NewTextContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}
