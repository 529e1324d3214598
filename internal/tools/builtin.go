package tools

import (
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/execctx"
)

// Builtins constructs the full built-in tool set.
func Builtins(router *execctx.Router, cfg *config.Config) []Tool {
	builtins := []Tool{
		NewReadFileTool(router),
		NewCreateFileTool(router),
		NewReplaceStringTool(router),
		NewListDirectoryTool(router),
		NewCreateDirectoryTool(router),
		NewSemanticSearchTool(router),
		NewRunInTerminalTool(router),
		NewReadDocTool(router),
		NewWriteDocTool(router),
		NewWebFetchTool(cfg.Tools.WebFetch.MaxLength),
		NewGetContextTool(router),
		NewSwitchContextTool(router),
	}
	return append(builtins, NewMediaTools(cfg.Tools.Media.BaseURL, cfg.Tools.Media.APIKey, router)...)
}

// RegisterBuiltins populates the registry with the full built-in tool set.
func RegisterBuiltins(reg *Registry, router *execctx.Router, cfg *config.Config) error {
	for _, t := range Builtins(router, cfg) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
