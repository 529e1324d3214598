package capability

import (
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/internal/tools"
)

// RegisterBuiltins exposes the built-in tool set as capabilities. Every
// builtin works on any framework, so no framework filters are applied.
func RegisterBuiltins(r *Registry, router *execctx.Router, cfg *config.Config) error {
	for _, t := range tools.Builtins(router, cfg) {
		if err := r.Register(t, "builtin"); err != nil {
			return err
		}
	}
	return nil
}
