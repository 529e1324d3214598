package providers

import (
	"context"
	"fmt"
	"strings"
)

// SimulatedAdapter produces deterministic canned responses with no network
// use. It backs the "simulated" framework tag and is also what the real
// adapters degrade to when no API key is configured.
type SimulatedAdapter struct {
	model string
}

func NewSimulatedAdapter(opts Options) *SimulatedAdapter {
	model := opts.Model
	if model == "" {
		model = "simulated-1"
	}
	return &SimulatedAdapter{model: model}
}

func (a *SimulatedAdapter) Name() string                        { return "simulated" }
func (a *SimulatedAdapter) Initialize(ctx context.Context) error { return nil }
func (a *SimulatedAdapter) Stop()                               {}
func (a *SimulatedAdapter) Cleanup() error                      { return nil }

func (a *SimulatedAdapter) Run(ctx context.Context, prompt string, tc TaskContext) (*RunResult, error) {
	return &RunResult{
		Content:  simulateResponse(a.Name(), a.model, prompt),
		Status:   "success",
		Metadata: map[string]interface{}{"simulated": true, "model": a.model},
	}, nil
}

func (a *SimulatedAdapter) RunStreaming(ctx context.Context, prompt string, tc TaskContext) (<-chan StreamEvent, error) {
	return streamText(ctx, simulateResponse(a.Name(), a.model, prompt)), nil
}

// simulateResponse is shared by every adapter running without credentials.
// The output is a pure function of its inputs so tests can assert on it.
func simulateResponse(adapter, model, prompt string) string {
	p := strings.TrimSpace(prompt)
	if len(p) > 120 {
		p = p[:120] + "..."
	}
	return fmt.Sprintf("[simulated %s/%s] Received: %s", adapter, model, p)
}

// streamText yields text word by word on a closed-when-done channel.
func streamText(ctx context.Context, text string) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			select {
			case out <- StreamEvent{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
