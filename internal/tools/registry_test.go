package tools

import (
	"context"
	"testing"

	"github.com/icotes/agenthub/pkg/protocol"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args map[string]interface{}) *Result
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value": map[string]interface{}{"type": "string"},
		},
		"required": []string{"value"},
	}
}
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return f.execute(ctx, args)
}

func TestRegistryGetUnknownReturnsNil(t *testing.T) {
	reg := NewRegistry()
	if got := reg.Get("nope"); got != nil {
		t.Errorf("Get(unknown) = %v, want nil", got)
	}
}

func TestRegistryReRegistrationReplaces(t *testing.T) {
	reg := NewRegistry()
	first := &fakeTool{name: "dup", execute: func(context.Context, map[string]interface{}) *Result {
		return Ok("first")
	}}
	second := &fakeTool{name: "dup", execute: func(context.Context, map[string]interface{}) *Result {
		return Ok("second")
	}}
	if err := reg.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatal(err)
	}
	res := reg.Invoke(context.Background(), "dup", map[string]interface{}{"value": "x"})
	if res.Data != "second" {
		t.Errorf("Data = %v, want replacement tool's result", res.Data)
	}
	if len(reg.Names()) != 1 {
		t.Errorf("Names = %v", reg.Names())
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Invoke(context.Background(), "missing", nil)
	if res.Success || res.Code != protocol.ErrNotFound {
		t.Errorf("result = %+v", res)
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	reg := NewRegistry()
	called := false
	tool := &fakeTool{name: "strict", execute: func(context.Context, map[string]interface{}) *Result {
		called = true
		return Ok(nil)
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}

	res := reg.Invoke(context.Background(), "strict", map[string]interface{}{})
	if res.Success || res.Code != protocol.ErrInvalidArgument {
		t.Errorf("missing required arg accepted: %+v", res)
	}
	if called {
		t.Error("tool executed despite invalid args")
	}

	res = reg.Invoke(context.Background(), "strict", map[string]interface{}{"value": 42})
	if res.Success || res.Code != protocol.ErrInvalidArgument {
		t.Errorf("wrong-typed arg accepted: %+v", res)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	tool := &fakeTool{name: "boom", execute: func(context.Context, map[string]interface{}) *Result {
		panic("kaboom")
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}
	res := reg.Invoke(context.Background(), "boom", map[string]interface{}{"value": "x"})
	if res.Success || res.Code != protocol.ErrInternal {
		t.Errorf("panic not converted: %+v", res)
	}
}

func TestDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha"} {
		tool := &fakeTool{name: name, execute: func(context.Context, map[string]interface{}) *Result {
			return Ok(nil)
		}}
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	defs := reg.Definitions()
	if len(defs) != 2 || defs[0]["name"] != "alpha" {
		t.Errorf("defs = %v", defs)
	}
}
