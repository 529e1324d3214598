package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/internal/tools"
)

func newReadyAgent(t *testing.T, spec config.AgentSpec, adapter providers.Adapter) *Agent {
	t.Helper()
	if adapter == nil {
		adapter = providers.NewSimulatedAdapter(providers.Options{})
	}
	a := New("agent-1", spec, adapter, nil)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return a
}

func collect(t *testing.T, ch <-chan Message) []Message {
	t.Helper()
	var msgs []Message
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	a := New("agent-1", config.AgentSpec{}, providers.NewSimulatedAdapter(providers.Options{}), nil)
	if a.Status() != StatusCreated {
		t.Fatalf("status = %s, want CREATED", a.Status())
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusReady {
		t.Fatalf("status = %s, want READY", a.Status())
	}

	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "hello world"}))
	if len(msgs) == 0 {
		t.Fatal("no messages")
	}
	var full strings.Builder
	for _, m := range msgs {
		if m.Kind != MsgText {
			t.Fatalf("unexpected kind %s: %+v", m.Kind, m)
		}
		if m.AgentID != "agent-1" {
			t.Errorf("agent_id = %q", m.AgentID)
		}
		full.WriteString(m.Content)
	}
	if !strings.Contains(full.String(), "hello world") {
		t.Errorf("assembled output = %q", full.String())
	}
	if a.Status() != StatusReady {
		t.Errorf("status after run = %s, want READY", a.Status())
	}
	if m := a.Metrics(); m.TasksStarted != 1 || m.TasksCompleted != 1 || m.TasksFailed != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestExecuteRejectedBeforeInitialize(t *testing.T) {
	a := New("agent-1", config.AgentSpec{}, providers.NewSimulatedAdapter(providers.Options{}), nil)
	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "task"}))
	if len(msgs) != 1 || msgs[0].Kind != MsgError {
		t.Fatalf("msgs = %+v, want single error item", msgs)
	}
	if !strings.Contains(msgs[0].Content, string(StatusCreated)) {
		t.Errorf("error content = %q", msgs[0].Content)
	}
}

func TestExecuteRejectedWhilePaused(t *testing.T) {
	a := newReadyAgent(t, config.AgentSpec{}, nil)
	if err := a.Pause(); err != nil {
		t.Fatal(err)
	}
	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "task"}))
	if len(msgs) != 1 || msgs[0].Kind != MsgError {
		t.Fatalf("msgs = %+v, want single error item", msgs)
	}
	if err := a.Resume(); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusReady {
		t.Errorf("status after resume = %s", a.Status())
	}
}

// blockingAdapter emits one chunk and then holds the stream open until the
// run context is cancelled.
type blockingAdapter struct {
	providers.SimulatedAdapter
	started chan struct{}
}

func (b *blockingAdapter) Name() string { return "blocking" }

func (b *blockingAdapter) RunStreaming(ctx context.Context, prompt string, tc providers.TaskContext) (<-chan providers.StreamEvent, error) {
	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		out <- providers.StreamEvent{Text: "partial"}
		close(b.started)
		<-ctx.Done()
	}()
	return out, nil
}

func TestStopDuringRun(t *testing.T) {
	adapter := &blockingAdapter{started: make(chan struct{})}
	a := newReadyAgent(t, config.AgentSpec{}, adapter)

	ch := a.Execute(context.Background(), Task{Prompt: "long task"})
	first := <-ch
	if first.Kind != MsgText || first.Content != "partial" {
		t.Fatalf("first = %+v", first)
	}
	<-adapter.started

	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}
	collect(t, ch)
	if a.Status() != StatusStopped {
		t.Errorf("status = %s, want STOPPED", a.Status())
	}

	// A stopped agent can be brought back.
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusReady {
		t.Errorf("status after re-init = %s", a.Status())
	}
}

func TestCancelDuringRunReturnsAgentToReady(t *testing.T) {
	adapter := &blockingAdapter{started: make(chan struct{})}
	a := newReadyAgent(t, config.AgentSpec{}, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.Execute(ctx, Task{Prompt: "long task"})
	first := <-ch
	if first.Kind != MsgText {
		t.Fatalf("first = %+v", first)
	}
	<-adapter.started

	cancel()
	collect(t, ch)
	if a.Status() != StatusReady {
		t.Errorf("status = %s, want READY", a.Status())
	}
}

// failingAdapter errors mid-stream.
type failingAdapter struct {
	providers.SimulatedAdapter
}

func (f *failingAdapter) RunStreaming(ctx context.Context, prompt string, tc providers.TaskContext) (<-chan providers.StreamEvent, error) {
	out := make(chan providers.StreamEvent, 2)
	out <- providers.StreamEvent{Text: "before "}
	out <- providers.StreamEvent{Err: errors.New("upstream exploded")}
	close(out)
	return out, nil
}

func TestStreamErrorMovesAgentToError(t *testing.T) {
	a := newReadyAgent(t, config.AgentSpec{}, &failingAdapter{})
	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "task"}))

	last := msgs[len(msgs)-1]
	if last.Kind != MsgError || !strings.Contains(last.Content, "upstream exploded") {
		t.Fatalf("last = %+v", last)
	}
	if a.Status() != StatusError {
		t.Errorf("status = %s, want ERROR", a.Status())
	}
	if m := a.Metrics(); m.TasksFailed != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestDestroyIsTerminal(t *testing.T) {
	a := newReadyAgent(t, config.AgentSpec{}, nil)
	if err := a.Destroy(); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusDestroyed {
		t.Fatalf("status = %s", a.Status())
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Error("destroyed agent re-initialized")
	}
	if err := a.AttachCapability("x"); err == nil {
		t.Error("capability attached to destroyed agent")
	}
}

func TestCapabilityAttachDetach(t *testing.T) {
	spec := config.AgentSpec{Capabilities: []string{"search"}}
	a := newReadyAgent(t, spec, nil)

	if !a.HasCapability("search") {
		t.Error("spec capability not attached")
	}
	if err := a.AttachCapability("search"); err == nil {
		t.Error("duplicate attach accepted")
	}
	if err := a.AttachCapability("fetch"); err != nil {
		t.Fatal(err)
	}
	got := a.Capabilities()
	if len(got) != 2 || got[0] != "fetch" || got[1] != "search" {
		t.Errorf("capabilities = %v", got)
	}
	if err := a.DetachCapability("search"); err != nil {
		t.Fatal(err)
	}
	if a.HasCapability("search") {
		t.Error("detached capability still present")
	}
	if err := a.DetachCapability("search"); err == nil {
		t.Error("double detach accepted")
	}
}

// echoTool returns its text argument, for exercising the tool loop.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes the given text back." }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"text"},
	}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.Ok(map[string]interface{}{"echo": args["text"]})
}

// toolCallingAdapter requests one echo call on the first round trip and
// answers in text once the conversation carries the tool result.
type toolCallingAdapter struct {
	providers.SimulatedAdapter

	mu       sync.Mutex
	contexts []providers.TaskContext
}

func (a *toolCallingAdapter) Name() string { return "toolcalling" }

func (a *toolCallingAdapter) RunStreaming(ctx context.Context, prompt string, tc providers.TaskContext) (<-chan providers.StreamEvent, error) {
	a.mu.Lock()
	a.contexts = append(a.contexts, tc)
	a.mu.Unlock()

	hasToolResult := false
	for _, turn := range tc.History {
		if turn.Role == "tool" {
			hasToolResult = true
		}
	}

	out := make(chan providers.StreamEvent, 2)
	if hasToolResult {
		out <- providers.StreamEvent{Text: "final answer"}
	} else {
		out <- providers.StreamEvent{Text: "thinking "}
		out <- providers.StreamEvent{ToolCalls: []providers.ToolCall{{
			ID:        "call-1",
			Name:      "echo",
			Arguments: map[string]interface{}{"text": "ping"},
		}}}
	}
	close(out)
	return out, nil
}

func (a *toolCallingAdapter) recorded() []providers.TaskContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]providers.TaskContext(nil), a.contexts...)
}

func newEchoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestExecuteRunsToolCalls(t *testing.T) {
	adapter := &toolCallingAdapter{}
	a := New("agent-1", config.AgentSpec{}, adapter, nil)
	a.SetTools(newEchoRegistry(t))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "use the echo tool"}))

	var kinds []MessageKind
	for _, m := range msgs {
		kinds = append(kinds, m.Kind)
	}
	want := []MessageKind{MsgText, MsgToolUse, MsgToolResult, MsgText}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}

	use := msgs[1]
	if use.Content != "echo" || use.Metadata["call_id"] != "call-1" {
		t.Errorf("tool_use item = %+v", use)
	}
	result := msgs[2]
	if result.Metadata["success"] != true || !strings.Contains(result.Content, "ping") {
		t.Errorf("tool_result item = %+v", result)
	}
	if msgs[3].Content != "final answer" {
		t.Errorf("final item = %+v", msgs[3])
	}
	if a.Status() != StatusReady {
		t.Errorf("status after run = %s", a.Status())
	}
}

func TestToolLoopFeedsResultBack(t *testing.T) {
	adapter := &toolCallingAdapter{}
	a := New("agent-1", config.AgentSpec{}, adapter, nil)
	a.SetTools(newEchoRegistry(t))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	collect(t, a.Execute(context.Background(), Task{Prompt: "use the echo tool"}))

	contexts := adapter.recorded()
	if len(contexts) != 2 {
		t.Fatalf("adapter called %d times, want 2", len(contexts))
	}
	if len(contexts[0].Tools) == 0 || contexts[0].Tools[0].Name != "echo" {
		t.Errorf("first call tools = %+v", contexts[0].Tools)
	}

	second := contexts[1].History
	if len(second) != 3 {
		t.Fatalf("continuation history = %+v", second)
	}
	if second[0].Role != "user" || second[0].Content != "use the echo tool" {
		t.Errorf("user turn = %+v", second[0])
	}
	if second[1].Role != "assistant" || len(second[1].ToolCalls) != 1 || second[1].ToolCalls[0].ID != "call-1" {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != "tool" || second[2].ToolCallID != "call-1" || !strings.Contains(second[2].Content, "ping") {
		t.Errorf("tool turn = %+v", second[2])
	}
}

// loopingAdapter never stops asking for tools.
type loopingAdapter struct {
	providers.SimulatedAdapter
}

func (a *loopingAdapter) Name() string { return "looping" }

func (a *loopingAdapter) RunStreaming(ctx context.Context, prompt string, tc providers.TaskContext) (<-chan providers.StreamEvent, error) {
	out := make(chan providers.StreamEvent, 1)
	out <- providers.StreamEvent{ToolCalls: []providers.ToolCall{{
		ID: "call-n", Name: "echo", Arguments: map[string]interface{}{"text": "again"},
	}}}
	close(out)
	return out, nil
}

func TestToolIterationBound(t *testing.T) {
	a := New("agent-1", config.AgentSpec{}, &loopingAdapter{}, nil)
	a.SetTools(newEchoRegistry(t))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs := collect(t, a.Execute(context.Background(), Task{Prompt: "loop forever"}))
	last := msgs[len(msgs)-1]
	if last.Kind != MsgError || !strings.Contains(last.Content, "tool iterations") {
		t.Fatalf("last = %+v", last)
	}
	if a.Status() != StatusError {
		t.Errorf("status = %s, want ERROR", a.Status())
	}
}

func TestSystemPromptSections(t *testing.T) {
	a := New("agent-1", config.AgentSpec{
		Role: "researcher", Goal: "find facts", Backstory: "ex-librarian",
	}, providers.NewSimulatedAdapter(providers.Options{}), nil)
	got := a.systemPrompt()
	for _, want := range []string{"Role: researcher", "Goal: find facts", "Backstory: ex-librarian"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt %q missing %q", got, want)
		}
	}
}

func TestStatusTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusCreated, StatusInitializing, true},
		{StatusCreated, StatusRunning, false},
		{StatusReady, StatusRunning, true},
		{StatusRunning, StatusReady, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusReady, true},
		{StatusPaused, StatusRunning, false},
		{StatusStopped, StatusInitializing, true},
		{StatusError, StatusError, false},
		{StatusRunning, StatusError, true},
		{StatusReady, StatusDestroyed, true},
		{StatusDestroyed, StatusInitializing, false},
		{StatusDestroyed, StatusError, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
