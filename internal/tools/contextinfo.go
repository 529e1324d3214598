package tools

import (
	"context"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// GetContextTool reports the active execution context.
type GetContextTool struct {
	router *execctx.Router
}

func NewGetContextTool(router *execctx.Router) *GetContextTool {
	return &GetContextTool{router: router}
}

func (t *GetContextTool) Name() string        { return "get_execution_context" }
func (t *GetContextTool) Description() string { return "Report the active execution context." }

func (t *GetContextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *GetContextTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return Ok(t.router.GetContext())
}

// SwitchContextTool moves subsequent tool calls to another context.
type SwitchContextTool struct {
	router *execctx.Router
}

func NewSwitchContextTool(router *execctx.Router) *SwitchContextTool {
	return &SwitchContextTool{router: router}
}

func (t *SwitchContextTool) Name() string { return "switch_execution_context" }

func (t *SwitchContextTool) Description() string {
	return "Switch the active execution context to a registered hop or back to local."
}

func (t *SwitchContextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"contextId": map[string]interface{}{"type": "string"},
		},
		"required": []string{"contextId"},
	}
}

func (t *SwitchContextTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	contextID, _ := args["contextId"].(string)
	if err := t.router.SwitchContext(contextID); err != nil {
		return Fail(protocol.ErrNotFound, "unknown context %q", contextID)
	}
	return Ok(t.router.GetContext())
}
