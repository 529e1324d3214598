// Package providers wraps external LLM APIs behind a single Adapter
// contract. Adapters are cheap value-like objects; the agent runtime owns
// one per agent and drives it through Run or RunStreaming.
package providers

import (
	"context"
	"fmt"

	"github.com/icotes/agenthub/pkg/protocol"
)

// Adapter is the uniform wrapper over one LLM provider.
type Adapter interface {
	// Name returns the adapter tag (e.g. "openai", "anthropic").
	Name() string

	// Initialize verifies the adapter can accept work. It never performs
	// network calls; credential absence switches the adapter to simulated
	// mode rather than failing.
	Initialize(ctx context.Context) error

	// Run executes one prompt to completion.
	Run(ctx context.Context, prompt string, tc TaskContext) (*RunResult, error)

	// RunStreaming executes one prompt and delivers output incrementally.
	// The returned channel is closed when the run ends; a mid-stream
	// failure arrives as a final event with Err set. A non-nil error
	// return means the run never started.
	RunStreaming(ctx context.Context, prompt string, tc TaskContext) (<-chan StreamEvent, error)

	// Stop aborts any in-flight run.
	Stop()

	// Cleanup releases adapter resources.
	Cleanup() error
}

// StreamEvent is one item of a streaming run. ToolCalls arrive as a single
// event once the provider finishes emitting them, after any text.
type StreamEvent struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// ToolDefinition is one function-calling descriptor sent to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Turn is one prior conversation turn, oldest first in TaskContext.History.
// An assistant turn may carry the tool calls it made; a "tool" turn carries
// one call's result, referenced by ToolCallID.
type Turn struct {
	Role        string // "user", "assistant" or "tool"
	Content     string
	Attachments []protocol.Attachment
	ToolCalls   []ToolCall
	ToolCallID  string
	ToolName    string
}

// TaskContext carries everything beyond the prompt itself. An empty prompt
// with a non-empty History continues the conversation where it stands,
// without appending a user turn.
type TaskContext struct {
	System      string
	History     []Turn
	Attachments []protocol.Attachment
	Tools       []ToolDefinition
	Extra       map[string]interface{}
}

// RunResult is the outcome of a completed Run.
type RunResult struct {
	Content  string                 `json:"content"`
	Status   string                 `json:"status"` // "success" or "error"
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Usage    *Usage                 `json:"usage,omitempty"`
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Options configures a concrete adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	APIKey      string
	BaseURL     string
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, e.Body)
}
