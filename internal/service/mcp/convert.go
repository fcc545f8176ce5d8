package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolgate/toolgate/pkg/types"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ConvertCallToolResult converts the result of an MCP tool call into the raw invoke result
// shared by every connector.
func ConvertCallToolResult(resp *mcp.CallToolResult) (*types.ToolInvokeResult, error) {
	if resp == nil {
		return &types.ToolInvokeResult{Content: []map[string]any{}}, nil
	}
	contentList, err := convertContent(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to convert content: %w", err)
	}

	return &types.ToolInvokeResult{
		Meta:              convertMetaToMap(resp.Meta),
		IsError:           resp.IsError,
		Content:           contentList,
		StructuredContent: resp.StructuredContent,
	}, nil
}

// convertContent converts []mcp.Content to []map[string]any.
func convertContent(content []mcp.Content) ([]map[string]any, error) {
	if len(content) == 0 {
		return []map[string]any{}, nil
	}

	contentList := make([]map[string]any, 0, len(content))
	for i, item := range content {
		serialized, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal content item %d: %w", i, err)
		}

		var contentMap map[string]any
		if err := json.Unmarshal(serialized, &contentMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content item %d: %w", i, err)
		}

		contentList = append(contentList, contentMap)
	}

	return contentList, nil
}

// convertMetaToMap converts *mcp.Meta to map[string]any with proper nil handling.
func convertMetaToMap(meta *mcp.Meta) map[string]any {
	if meta == nil {
		return nil
	}

	metaMap := make(map[string]any)
	for k, v := range meta.AdditionalFields {
		metaMap[k] = v
	}
	if meta.ProgressToken != nil {
		metaMap["progressToken"] = meta.ProgressToken
	}

	if len(metaMap) == 0 {
		return nil
	}
	return metaMap
}

// ConvertTool converts an mcp.Tool to a declaration. The input schema is kept verbatim.
func ConvertTool(t mcp.Tool) types.ToolDeclaration {
	d := types.ToolDeclaration{
		Name:        t.GetName(),
		Description: t.Description,
		InputSchema: emptyObjectSchema,
	}

	// extracting the json schema is best-effort; the raw schema wins over the structured one
	serialized, err := json.Marshal(t)
	if err != nil {
		return d
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(serialized, &wire); err == nil && len(wire.InputSchema) > 0 {
		d.InputSchema = wire.InputSchema
	}
	return d
}

// ConvertTools converts a list of mcp.Tool to declarations.
func ConvertTools(tools []mcp.Tool) []types.ToolDeclaration {
	out := make([]types.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, ConvertTool(t))
	}
	return out
}

// ToMCPTool builds an mcp.Tool from a declaration under the given name.
func ToMCPTool(name string, d types.ToolDeclaration) mcp.Tool {
	schema := d.InputSchema
	if len(schema) == 0 {
		schema = emptyObjectSchema
	}
	return mcp.NewToolWithRawSchema(name, d.Description, schema)
}

// ToMCPResult converts a normalized tool call result back to the MCP wire shape.
// Text and image blocks are kept as such, every other block is forwarded as its JSON text.
func ToMCPResult(r *types.ToolCallResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{
		IsError:           !r.Success,
		StructuredContent: r.StructuredContent,
	}
	for _, c := range r.Content {
		out.Content = append(out.Content, toMCPContent(c))
	}
	if len(out.Content) == 0 && r.Error != nil {
		out.Content = append(out.Content, mcp.NewTextContent(r.Error.Message))
	}
	return out
}

func toMCPContent(c map[string]any) mcp.Content {
	switch c["type"] {
	case "text":
		if text, ok := c["text"].(string); ok {
			return mcp.NewTextContent(text)
		}
	case "image":
		data, _ := c["data"].(string)
		mimeType, _ := c["mimeType"].(string)
		if data != "" {
			return mcp.NewImageContent(data, mimeType)
		}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return mcp.NewTextContent(fmt.Sprintf("%v", c))
	}
	return mcp.NewTextContent(string(b))
}
