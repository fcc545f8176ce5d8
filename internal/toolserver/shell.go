package toolserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/sandbox/shell"
	"github.com/toolgate/toolgate/internal/service/inprocess"
)

type shellServer struct {
	exec *shell.Executor
	cfg  Config
}

func newShellServer(cfg Config) (*inprocess.Definition, error) {
	exec, err := shell.NewExecutor(cfg.Shell)
	if err != nil {
		return nil, err
	}
	s := &shellServer{exec: exec, cfg: cfg}

	return &inprocess.Definition{
		ID:          ShellServerID,
		Name:        "Shell",
		Description: "Runs shell commands and scripts on the host",
		Tools: []server.ServerTool{
			{
				Tool: mcp.NewTool("execute_command",
					mcp.WithDescription(
						"Execute a single shell command and return its exit code, stdout and stderr. "+
							"Destructive commands such as wiping the filesystem or formatting disks are refused.",
					),
					mcp.WithString("command", mcp.Required(), mcp.Description("The command line to run")),
					mcp.WithString("cwd", mcp.Description("Working directory of the command")),
					mcp.WithNumber("timeout_sec", mcp.Description("Timeout in seconds (default 30, max 120)")),
					mcp.WithObject("env", mcp.Description("Environment variables added for this command only")),
				),
				Handler: s.executeCommand,
			},
			{
				Tool: mcp.NewTool("execute_script",
					mcp.WithDescription("Execute a multi-line shell script and return its exit code, stdout and stderr."),
					mcp.WithString("script", mcp.Required(), mcp.Description("The script body")),
					mcp.WithString("cwd", mcp.Description("Working directory of the script")),
					mcp.WithNumber("timeout_sec", mcp.Description("Timeout in seconds (default 60, max 300)")),
					mcp.WithObject("env", mcp.Description("Environment variables added for this script only")),
				),
				Handler: s.executeScript,
			},
		},
	}, nil
}

func (s *shellServer) executeCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec := newRecorder(s.cfg.Metrics, "shell")
	res, err := s.exec.RunCommand(ctx, shell.Request{
		Command: command,
		Cwd:     req.GetString("cwd", ""),
		Timeout: timeoutArg(req),
		Env:     envArg(req),
	})
	return s.result(ctx, rec, res, err)
}

func (s *shellServer) executeScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script, err := req.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec := newRecorder(s.cfg.Metrics, "shell")
	res, err := s.exec.RunScript(ctx, shell.Request{
		Command: script,
		Cwd:     req.GetString("cwd", ""),
		Timeout: timeoutArg(req),
		Env:     envArg(req),
	})
	return s.result(ctx, rec, res, err)
}

// result reports a non-zero exit code as a successful call; only timeouts and
// refusals are errors.
func (s *shellServer) result(ctx context.Context, rec *recorder, res *shell.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		out, outcome := sandboxErrorResult(err)
		rec.done(ctx, outcome)
		return out, nil
	}
	text := processOutput(res.ExitCode, res.Stdout, res.Stderr, res.Truncated)
	if res.TimedOut {
		rec.done(ctx, outcomeTimeout)
		return mcp.NewToolResultError(fmt.Sprintf("%s command exceeded its time limit\n%s", PrefixTimeout, text)), nil
	}
	rec.done(ctx, outcomeSuccess)
	return mcp.NewToolResultStructured(res, text), nil
}
