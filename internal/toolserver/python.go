package toolserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/sandbox/external"
	"github.com/toolgate/toolgate/internal/service/inprocess"
)

type pythonServer struct {
	exec *external.Executor
	cfg  Config
}

func newPythonServer(cfg Config) *inprocess.Definition {
	s := &pythonServer{exec: external.NewExecutor(cfg.Python), cfg: cfg}
	return &inprocess.Definition{
		ID:          PythonServerID,
		Name:        "Python",
		Description: "Runs Python code with the interpreter installed on the host",
		Tools: []server.ServerTool{
			{
				Tool: mcp.NewTool("run_python",
					mcp.WithDescription(
						"Run a Python program and return its exit code, stdout and stderr. "+
							"Print the values you want to see.",
					),
					mcp.WithString("code", mcp.Required(), mcp.Description("The Python source to run")),
					mcp.WithNumber("timeout_sec", mcp.Description("Timeout in seconds (default 30, max 120)")),
					mcp.WithObject("env", mcp.Description("Environment variables added for this run only")),
				),
				Handler: s.runPython,
			},
		},
		Initialize: func(context.Context) error {
			// a missing interpreter is reported per call so the server stays listed
			if err := s.exec.Available(); err != nil {
				cfg.Logger.Warn("python interpreter is not available", zap.Error(err))
			}
			return nil
		},
	}
}

func (s *pythonServer) runPython(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec := newRecorder(s.cfg.Metrics, "python")
	res, err := s.exec.Run(ctx, code, timeoutArg(req), envArg(req))
	if err != nil {
		out, outcome := sandboxErrorResult(err)
		rec.done(ctx, outcome)
		return out, nil
	}
	text := processOutput(res.ExitCode, res.Stdout, res.Stderr, res.Truncated)
	if res.TimedOut {
		rec.done(ctx, outcomeTimeout)
		return mcp.NewToolResultError(fmt.Sprintf("%s python exceeded its time limit\n%s", PrefixTimeout, text)), nil
	}
	// a non-zero exit is reported through the exit code, not as a failed call
	rec.done(ctx, outcomeSuccess)
	return mcp.NewToolResultStructured(res, text), nil
}
