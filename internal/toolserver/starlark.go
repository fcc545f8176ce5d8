package toolserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/sandbox/starlarkvm"
	"github.com/toolgate/toolgate/internal/service/inprocess"
)

type starlarkServer struct {
	rt  *starlarkvm.Runtime
	cfg Config
}

func newStarlarkServer(cfg Config) *inprocess.Definition {
	s := &starlarkServer{rt: starlarkvm.New(cfg.Starlark), cfg: cfg}
	return &inprocess.Definition{
		ID:          StarlarkServerID,
		Name:        "Starlark",
		Description: "Evaluates Starlark programs for calculations and data manipulation",
		Tools: []server.ServerTool{
			{
				Tool: mcp.NewTool("run_starlark",
					mcp.WithDescription(
						"Evaluate a Starlark (Python dialect) program. A single expression returns its value; "+
							"a longer program returns the global named '"+starlarkvm.ResultVar+"'. "+
							"print() output is captured. The math, json and time modules are available.",
					),
					mcp.WithString("code", mcp.Required(), mcp.Description("The Starlark source to evaluate")),
					mcp.WithNumber("timeout_sec", mcp.Description("Timeout in seconds (default 5, max 30)")),
				),
				Handler: s.runStarlark,
			},
		},
		Initialize: s.rt.Warm,
	}
}

func (s *starlarkServer) runStarlark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec := newRecorder(s.cfg.Metrics, "starlark")
	res, err := s.rt.Run(ctx, code, timeoutArg(req))
	if err != nil {
		out, outcome := sandboxErrorResult(err)
		rec.done(ctx, outcome)
		return out, nil
	}
	rec.done(ctx, outcomeSuccess)
	return mcp.NewToolResultStructured(res, vmOutput(res.Output, res.Value)), nil
}
