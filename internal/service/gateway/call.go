package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/telemetry"
	"github.com/toolgate/toolgate/pkg/types"
)

// CallTool invokes a tool and always returns a result; failures are described by
// the result's error instead of a Go error.
func (g *Gateway) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) *types.ToolCallResult {
	started := time.Now()
	meta := types.ToolCallMetadata{ServerID: serverID, ToolName: toolName, TimestampMs: started.UnixMilli()}

	id := serverID
	if canonical, ok := g.registry.Resolve(serverID); ok {
		id = canonical
	}

	g.mu.RLock()
	cfg, found := g.configs[id]
	var state types.ServerState
	if st, ok := g.statuses[id]; ok {
		state = st.State
	}
	g.mu.RUnlock()

	if !found {
		return failure(meta, types.ErrCodeServerNotFound, fmt.Sprintf("tool server %s not found", serverID))
	}
	if state != types.StateConnected {
		res := failure(meta, types.ErrCodeServerNotConnected, fmt.Sprintf("tool server %s is not connected", serverID))
		res.Metadata.DurationMs = time.Since(started).Milliseconds()
		return res
	}

	out, err := g.invoke(ctx, cfg, id, toolName, args)
	meta.DurationMs = time.Since(started).Milliseconds()

	var res *types.ToolCallResult
	switch {
	case err != nil:
		g.logger.Warn("tool call failed",
			zap.String("server_id", serverID), zap.String("tool", toolName), zap.Error(err),
		)
		res = failure(meta, types.ErrCodeToolCallFailed, err.Error())
	case out.IsError:
		res = &types.ToolCallResult{
			Success:           false,
			Content:           out.Content,
			StructuredContent: out.StructuredContent,
			Error:             &types.ToolCallError{Code: types.ErrCodeToolCallFailed, Message: errorText(out)},
			Metadata:          meta,
		}
	default:
		res = &types.ToolCallResult{
			Success:           true,
			Content:           out.Content,
			StructuredContent: out.StructuredContent,
			Metadata:          meta,
		}
	}
	if res.Content == nil {
		res.Content = []map[string]any{}
	}

	outcome := telemetry.ToolCallOutcomeSuccess
	if !res.Success {
		outcome = telemetry.ToolCallOutcomeError
	}
	g.metrics.RecordToolCall(ctx, id, toolName, outcome, time.Since(started))
	return res
}

// invoke dispatches to the connector of the server's kind and turns panics into errors.
func (g *Gateway) invoke(
	ctx context.Context, cfg *types.ToolServerConfig, id, toolName string, args map[string]any,
) (out *types.ToolInvokeResult, err error) {
	conn, ok := g.connectors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("no connector for %s servers", cfg.Kind)
	}
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("connector panicked during tool call",
				zap.String("server_id", id), zap.String("tool", toolName), zap.Any("panic", p),
			)
			out, err = nil, fmt.Errorf("tool call panicked: %v", p)
		}
	}()
	out, err = conn.CallTool(ctx, id, toolName, args)
	if err == nil && out == nil {
		out = &types.ToolInvokeResult{}
	}
	return out, err
}

func failure(meta types.ToolCallMetadata, code, message string) *types.ToolCallResult {
	return &types.ToolCallResult{
		Success:  false,
		Content:  []map[string]any{types.NewTextContent(message)},
		Error:    &types.ToolCallError{Code: code, Message: message},
		Metadata: meta,
	}
}

// errorText is the text of a result flagged as an error by its backend.
func errorText(out *types.ToolInvokeResult) string {
	var parts []string
	for _, c := range out.Content {
		if c["type"] != "text" {
			continue
		}
		if s, ok := c["text"].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// CallToolsBatch runs every request concurrently and returns the results in request order.
// A failed call does not affect the others.
func (g *Gateway) CallToolsBatch(ctx context.Context, reqs []types.ToolCallRequest) []*types.ToolCallResult {
	results := make([]*types.ToolCallResult, len(reqs))

	var eg errgroup.Group
	if g.batchConcurrency > 0 {
		eg.SetLimit(g.batchConcurrency)
	}
	for i, req := range reqs {
		eg.Go(func() error {
			results[i] = g.CallTool(ctx, req.ServerID, req.ToolName, req.Arguments)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
