package tools

import (
	"context"

	"github.com/icotes/agenthub/internal/execctx"
)

// Tool execution context keys. Values are injected by the caller (agent
// runtime or registry user) and read by individual tools during Execute,
// keeping tool instances free of mutable per-call state.

type toolContextKey string

const (
	ctxRouter    toolContextKey = "tool_router"
	ctxSessionID toolContextKey = "tool_session_id"
	ctxAgentID   toolContextKey = "tool_agent_id"
)

func WithRouter(ctx context.Context, r *execctx.Router) context.Context {
	return context.WithValue(ctx, ctxRouter, r)
}

func RouterFromCtx(ctx context.Context) *execctx.Router {
	v, _ := ctx.Value(ctxRouter).(*execctx.Router)
	return v
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxSessionID, id)
}

func SessionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}

func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxAgentID, id)
}

func AgentIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxAgentID).(string)
	return v
}
