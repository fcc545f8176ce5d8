package toolserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/sandbox/jsvm"
	"github.com/toolgate/toolgate/internal/service/inprocess"
)

type javaScriptServer struct {
	rt  *jsvm.Runtime
	cfg Config
}

func newJavaScriptServer(cfg Config) *inprocess.Definition {
	s := &javaScriptServer{rt: jsvm.New(cfg.JS), cfg: cfg}
	return &inprocess.Definition{
		ID:          JavaScriptServerID,
		Name:        "JavaScript",
		Description: "Runs JavaScript in an embedded sandbox without host access",
		Tools: []server.ServerTool{
			{
				Tool: mcp.NewTool("run_javascript",
					mcp.WithDescription(
						"Run JavaScript (ES5.1 with most of ES6) in a sandbox. "+
							"console.log output is returned together with the value of the last expression. "+
							"There is no filesystem, network or module access.",
					),
					mcp.WithString("code", mcp.Required(), mcp.Description("The JavaScript source to run")),
					mcp.WithNumber("timeout_sec", mcp.Description("Timeout in seconds (default 5, max 30)")),
				),
				Handler: s.runJavaScript,
			},
		},
		Initialize: s.rt.Warm,
	}
}

func (s *javaScriptServer) runJavaScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec := newRecorder(s.cfg.Metrics, "javascript")
	res, err := s.rt.Run(ctx, code, timeoutArg(req))
	if err != nil {
		out, outcome := sandboxErrorResult(err)
		rec.done(ctx, outcome)
		return out, nil
	}
	rec.done(ctx, outcomeSuccess)
	return mcp.NewToolResultStructured(res, vmOutput(res.Output, res.Value)), nil
}
