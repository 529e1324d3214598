// Package tools implements the global tool registry and the built-in tool
// set exposed to agents for function-calling. Every tool self-describes with
// a JSON-schema parameters document; the registry validates arguments
// against it before dispatch.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/pkg/protocol"
)

// Tool is the contract every registered tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools. Populated at startup; read-mostly
// afterwards. Re-registering a name replaces the previous tool.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	tracer  trace.Tracer
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		tracer:  otel.Tracer("agenthub/tools"),
	}
}

// Register adds or replaces a tool. The parameters document must compile as
// a JSON schema.
func (r *Registry) Register(t Tool) error {
	schema, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		return fmt.Errorf("register %s: %w", t.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t.Name()]; exists {
		slog.Debug("replacing registered tool", "tool", t.Name())
	}
	r.entries[t.Name()] = entry{tool: t, schema: schema}
	return nil
}

// Get returns the named tool, or nil when unknown.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].tool
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the function-calling descriptors for all tools.
func (r *Registry) Definitions() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]map[string]interface{}, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, map[string]interface{}{
			"name":        e.tool.Name(),
			"description": e.tool.Description(),
			"parameters":  e.tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i]["name"].(string) < defs[j]["name"].(string)
	})
	return defs
}

// ProviderDefs returns the definitions in the shape adapters send to the
// LLM provider for function-calling.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	raw := r.Definitions()
	defs := make([]providers.ToolDefinition, 0, len(raw))
	for _, d := range raw {
		defs = append(defs, providers.ToolDefinition{
			Name:        d["name"].(string),
			Description: d["description"].(string),
			Parameters:  d["parameters"].(map[string]interface{}),
		})
	}
	return defs
}

// Invoke validates args against the tool's schema and executes it. A tool
// panic is converted to an INTERNAL failure; it must never take down the
// enclosing agent run.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (result *Result) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Fail(protocol.ErrNotFound, "unknown tool %q", name)
	}

	ctx, span := r.tracer.Start(ctx, "tool.invoke",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := e.schema.Validate(normalizeArgs(args)); err != nil {
		return FailErr(protocol.ErrInvalidArgument, "invalid arguments for "+name, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			result = Fail(protocol.ErrInternal, "tool %s failed internally", name)
		}
		span.SetAttributes(attribute.Bool("tool.success", result.Success))
	}()

	result = e.tool.Execute(ctx, args)
	if result == nil {
		result = Fail(protocol.ErrInternal, "tool %s returned no result", name)
	}
	return result
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "tool://" + name + "/parameters.json"
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// normalizeArgs round-trips args through JSON so values carry the types the
// validator expects (e.g. json.Number-free float64 maps).
func normalizeArgs(args map[string]interface{}) interface{} {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
