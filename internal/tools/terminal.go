package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// RunInTerminalTool executes a shell command through the context router.
// Background commands detach and return a pid immediately; foreground
// commands block (bounded by the terminal's timeout) and return output.
type RunInTerminalTool struct {
	router *execctx.Router
}

func NewRunInTerminalTool(router *execctx.Router) *RunInTerminalTool {
	return &RunInTerminalTool{router: router}
}

func (t *RunInTerminalTool) Name() string { return "run_in_terminal" }

func (t *RunInTerminalTool) Description() string {
	return "Run a shell command in the active context. Use isBackground for long-running processes."
}

func (t *RunInTerminalTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string"},
			"explanation": map[string]interface{}{
				"type":        "string",
				"description": "One sentence describing what the command does.",
			},
			"isBackground": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"command", "explanation"},
	}
}

func (t *RunInTerminalTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Fail(protocol.ErrInvalidArgument, "command must not be empty")
	}
	term := t.router.GetTerminal()

	if background, _ := args["isBackground"].(bool); background {
		return t.runBackground(ctx, term, command)
	}

	res, err := term.ExecuteCommand(ctx, command)
	if err != nil {
		if ctx.Err() != nil {
			return Fail(protocol.ErrTimeout, "command timed out or was cancelled")
		}
		return FailErr(protocol.ErrInternal, "command execution failed", err)
	}
	return Ok(map[string]interface{}{
		"status":     res.Status,
		"stdout":     res.Stdout,
		"stderr":     res.Stderr,
		"context_id": res.ContextID,
	})
}

// runBackground detaches the command and reports its pid. The same shell
// wrapper works on local and remote terminals.
func (t *RunInTerminalTool) runBackground(ctx context.Context, term execctx.Terminal, command string) *Result {
	wrapped := fmt.Sprintf("nohup sh -c %s >/dev/null 2>&1 & echo $!", shellQuoteArg(command))
	res, err := term.ExecuteCommand(ctx, wrapped)
	if err != nil {
		return FailErr(protocol.ErrInternal, "background start failed", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return Fail(protocol.ErrInternal, "background start produced no pid")
	}
	return Ok(map[string]interface{}{
		"pid":        pid,
		"background": true,
		"context_id": res.ContextID,
	})
}

func shellQuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
