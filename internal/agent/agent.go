// Package agent implements the agent lifecycle around a provider adapter:
// a status machine, streaming task execution, and per-agent capability
// bookkeeping.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/internal/tools"
	"github.com/icotes/agenthub/pkg/protocol"
)

// maxToolIterations bounds the think-act-observe loop of one task: each
// iteration is one provider round trip plus the tool calls it requested.
const maxToolIterations = 20

// MessageKind classifies one item on an Execute stream.
type MessageKind string

const (
	MsgText       MessageKind = "text"
	MsgError      MessageKind = "error"
	MsgToolUse    MessageKind = "tool_use"
	MsgToolResult MessageKind = "tool_result"
)

// Message is one item produced by a running task.
type Message struct {
	AgentID   string                 `json:"agent_id"`
	Content   string                 `json:"content"`
	Kind      MessageKind            `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Metrics counts work done by one agent since creation.
type Metrics struct {
	TasksStarted   int `json:"tasks_started"`
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
	TotalTokens    int `json:"total_tokens"`
}

// Task is one execution request.
type Task struct {
	Prompt      string
	Context     map[string]interface{} // pushed onto the agent's context list
	History     []providers.Turn
	Attachments []protocol.Attachment
}

// Agent binds one adapter to the lifecycle machine. All exported methods
// are safe for concurrent use.
type Agent struct {
	id      string
	spec    config.AgentSpec
	adapter providers.Adapter
	tools   *tools.Registry
	logger  *slog.Logger
	tracer  trace.Tracer

	mu           sync.Mutex
	status       Status
	capabilities map[string]bool
	contexts     []map[string]interface{}
	metrics      Metrics
	cancelRun    context.CancelFunc
}

// New builds an agent in CREATED state. The adapter is not touched until
// Initialize.
func New(id string, spec config.AgentSpec, adapter providers.Adapter, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		id:           id,
		spec:         spec,
		adapter:      adapter,
		logger:       logger.With("agent_id", id, "framework", adapter.Name()),
		tracer:       otel.Tracer("agenthub/agent"),
		status:       StatusCreated,
		capabilities: make(map[string]bool),
	}
	for _, c := range spec.Capabilities {
		a.capabilities[c] = true
	}
	return a
}

// SetTools installs the registry whose tools the agent offers the model
// for function-calling. Without one the agent runs text-only.
func (a *Agent) SetTools(reg *tools.Registry) { a.tools = reg }

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Spec returns the configuration the agent was built from.
func (a *Agent) Spec() config.AgentSpec { return a.spec }

// Status returns the current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Metrics returns a snapshot of the agent's counters.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func (a *Agent) transition(to Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transitionLocked(to)
}

func (a *Agent) transitionLocked(to Status) error {
	if !canTransition(a.status, to) {
		return invalidTransition(a.status, to)
	}
	a.logger.Debug("agent status change", "from", a.status, "to", to)
	a.status = to
	return nil
}

// Initialize prepares the adapter and moves the agent to READY. A STOPPED
// agent may be initialized again.
func (a *Agent) Initialize(ctx context.Context) error {
	if err := a.transition(StatusInitializing); err != nil {
		return err
	}
	if err := a.adapter.Initialize(ctx); err != nil {
		a.fail(fmt.Errorf("adapter initialize: %w", err))
		return fmt.Errorf("initialize agent %s: %w", a.id, err)
	}
	return a.transition(StatusReady)
}

// fail moves the agent to ERROR unconditionally short of DESTROYED.
func (a *Agent) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if canTransition(a.status, StatusError) {
		a.logger.Error("agent entered error state", "error", err, "from", a.status)
		a.status = StatusError
	}
}

// Execute runs one task and streams its output. The channel always closes;
// when the agent cannot accept work it carries exactly one error item.
// The agent is RUNNING for the duration of the call and returns to READY
// on success.
func (a *Agent) Execute(ctx context.Context, task Task) <-chan Message {
	out := make(chan Message, 16)

	a.mu.Lock()
	if !a.status.acceptsTasks() {
		status := a.status
		a.mu.Unlock()
		out <- a.errorMessage(fmt.Sprintf("agent cannot execute in status %s", status), nil)
		close(out)
		return out
	}
	if a.status == StatusReady {
		a.status = StatusRunning
	}
	if task.Context != nil {
		a.contexts = append(a.contexts, task.Context)
	}
	a.metrics.TasksStarted++
	runCtx, cancel := context.WithCancel(ctx)
	a.cancelRun = cancel
	a.mu.Unlock()

	go func() {
		defer close(out)
		defer cancel()
		err := a.runTask(runCtx, task, out)

		a.mu.Lock()
		a.cancelRun = nil
		if errors.Is(err, context.Canceled) {
			// Cooperative cancel. When Stop or Destroy triggered it the
			// status is already past RUNNING and they own the rest.
			if a.status == StatusRunning {
				a.status = StatusReady
			}
			a.mu.Unlock()
			return
		}
		if err != nil {
			a.metrics.TasksFailed++
			a.mu.Unlock()
			a.fail(err)
			out <- a.errorMessage(err.Error(), nil)
			return
		}
		a.metrics.TasksCompleted++
		if a.status == StatusRunning {
			a.status = StatusReady
		}
		a.mu.Unlock()
	}()
	return out
}

func (a *Agent) runTask(ctx context.Context, task Task, out chan<- Message) (err error) {
	ctx, span := a.tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("agent.framework", a.adapter.Name()),
		attribute.String("agent.model", a.spec.Model),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tc := providers.TaskContext{
		System:      a.systemPrompt(),
		History:     append([]providers.Turn(nil), task.History...),
		Attachments: task.Attachments,
		Extra:       task.Context,
	}
	if a.tools != nil {
		tc.Tools = a.tools.ProviderDefs()
	}

	// Think-act-observe: run the model, execute any tool calls it makes,
	// feed the results back, and repeat until it answers in text.
	prompt := task.Prompt
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		stream, err := a.adapter.RunStreaming(ctx, prompt, tc)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}

		var text strings.Builder
		var calls []providers.ToolCall
		for ev := range stream {
			if ev.Err != nil {
				return ev.Err
			}
			calls = append(calls, ev.ToolCalls...)
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := a.send(ctx, out, Message{AgentID: a.id, Content: ev.Text, Kind: MsgText, Timestamp: time.Now()}); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(calls) == 0 {
			return nil
		}

		// The prompt joins the history once the conversation continues.
		if prompt != "" {
			tc.History = append(tc.History, providers.Turn{Role: "user", Content: prompt, Attachments: tc.Attachments})
			tc.Attachments = nil
			prompt = ""
		}
		tc.History = append(tc.History, providers.Turn{Role: "assistant", Content: text.String(), ToolCalls: calls})

		for _, call := range calls {
			if err := a.runToolCall(ctx, call, &tc, out); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("task exceeded %d tool iterations", maxToolIterations)
}

// runToolCall dispatches one model-requested tool call and appends its
// result to the conversation.
func (a *Agent) runToolCall(ctx context.Context, call providers.ToolCall, tc *providers.TaskContext, out chan<- Message) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("tool_call", trace.WithAttributes(attribute.String("tool.name", call.Name)))

	err := a.send(ctx, out, Message{
		AgentID:   a.id,
		Content:   call.Name,
		Kind:      MsgToolUse,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"call_id": call.ID, "arguments": call.Arguments},
	})
	if err != nil {
		return err
	}

	var result *tools.Result
	if a.tools != nil {
		result = a.tools.Invoke(ctx, call.Name, call.Arguments)
	} else {
		result = tools.Fail(protocol.ErrNotFound, "no tools available")
	}
	if !result.Success {
		a.logger.Warn("tool call failed", "tool", call.Name, "error", result.Error)
	}
	rendered := result.ForModel()

	err = a.send(ctx, out, Message{
		AgentID:   a.id,
		Content:   rendered,
		Kind:      MsgToolResult,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"call_id": call.ID, "tool": call.Name, "success": result.Success},
	})
	if err != nil {
		return err
	}

	tc.History = append(tc.History, providers.Turn{
		Role:       "tool",
		Content:    rendered,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	})
	return nil
}

func (a *Agent) send(ctx context.Context, out chan<- Message, m Message) error {
	select {
	case out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// systemPrompt assembles the persona sections set on the agent's config.
func (a *Agent) systemPrompt() string {
	var parts []string
	if a.spec.Role != "" {
		parts = append(parts, "Role: "+a.spec.Role)
	}
	if a.spec.Goal != "" {
		parts = append(parts, "Goal: "+a.spec.Goal)
	}
	if a.spec.Backstory != "" {
		parts = append(parts, "Backstory: "+a.spec.Backstory)
	}
	return strings.Join(parts, "\n")
}

func (a *Agent) errorMessage(content string, meta map[string]interface{}) Message {
	return Message{
		AgentID:   a.id,
		Content:   content,
		Kind:      MsgError,
		Timestamp: time.Now(),
		Metadata:  meta,
	}
}

// Stop aborts any in-flight run and parks the agent in STOPPED.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.status == StatusStopped {
		a.mu.Unlock()
		return nil
	}
	if !canTransition(a.status, StatusStopping) && !canTransition(a.status, StatusStopped) {
		from := a.status
		a.mu.Unlock()
		return invalidTransition(from, StatusStopped)
	}
	cancel := a.cancelRun
	a.status = StatusStopping
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.adapter.Stop()

	a.mu.Lock()
	a.status = StatusStopped
	a.mu.Unlock()
	a.logger.Info("agent stopped")
	return nil
}

// Pause suspends task intake. A RUNNING agent finishes its current task
// first; new Execute calls are rejected until Resume.
func (a *Agent) Pause() error {
	return a.transition(StatusPaused)
}

// Resume returns a paused agent to READY.
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusPaused {
		return invalidTransition(a.status, StatusReady)
	}
	return a.transitionLocked(StatusReady)
}

// Destroy tears the agent down permanently. Safe to call from any state.
func (a *Agent) Destroy() error {
	a.mu.Lock()
	if a.status == StatusDestroyed {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancelRun
	a.status = StatusDestroyed
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.adapter.Stop()
	if err := a.adapter.Cleanup(); err != nil {
		return fmt.Errorf("cleanup agent %s: %w", a.id, err)
	}
	return nil
}

// AttachCapability grants a capability to this agent. Attaching a
// capability the agent already holds is an error.
func (a *Agent) AttachCapability(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.terminal() {
		return fmt.Errorf("agent %s is destroyed", a.id)
	}
	if a.capabilities[name] {
		return fmt.Errorf("capability %q already attached to agent %s", name, a.id)
	}
	a.capabilities[name] = true
	return nil
}

// DetachCapability removes a capability from this agent.
func (a *Agent) DetachCapability(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.capabilities[name] {
		return fmt.Errorf("capability %q not attached to agent %s", name, a.id)
	}
	delete(a.capabilities, name)
	return nil
}

// HasCapability reports whether the agent holds the named capability.
func (a *Agent) HasCapability(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capabilities[name]
}

// Capabilities lists the agent's capabilities, sorted.
func (a *Agent) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.capabilities))
	for name := range a.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
