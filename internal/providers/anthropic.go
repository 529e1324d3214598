package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter targets the Anthropic Messages API.
type AnthropicAdapter struct {
	model       string
	apiKey      string
	apiBase     string
	temperature float64
	maxTokens   int
	client      *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewAnthropicAdapter(opts Options) *AnthropicAdapter {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.anthropic.com/v1"
	}
	model := opts.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // required by the Messages API
	}
	return &AnthropicAdapter{
		model:       model,
		apiKey:      opts.APIKey,
		apiBase:     strings.TrimRight(base, "/"),
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Initialize(ctx context.Context) error { return nil }

func (a *AnthropicAdapter) Cleanup() error {
	a.Stop()
	return nil
}

func (a *AnthropicAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *AnthropicAdapter) trackable(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return ctx, cancel
}

func (a *AnthropicAdapter) Run(ctx context.Context, prompt string, tc TaskContext) (*RunResult, error) {
	if a.apiKey == "" {
		return &RunResult{
			Content:  simulateResponse(a.Name(), a.model, prompt),
			Status:   "success",
			Metadata: map[string]interface{}{"simulated": true, "model": a.model},
		}, nil
	}
	ctx, cancel := a.trackable(ctx)
	defer cancel()

	body, err := a.doRequest(ctx, a.buildBody(prompt, tc, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result := &RunResult{
		Content:  text.String(),
		Status:   "success",
		Metadata: map[string]interface{}{"model": a.model, "stop_reason": resp.StopReason},
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return result, nil
}

func (a *AnthropicAdapter) RunStreaming(ctx context.Context, prompt string, tc TaskContext) (<-chan StreamEvent, error) {
	if a.apiKey == "" {
		return streamText(ctx, simulateResponse(a.Name(), a.model, prompt)), nil
	}
	ctx, cancel := a.trackable(ctx)

	body, err := a.doRequest(ctx, a.buildBody(prompt, tc, true))
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer cancel()
		defer body.Close()

		acc := newToolCallAccumulator()
		flush := func() {
			calls := acc.calls()
			if len(calls) == 0 {
				return
			}
			select {
			case out <- StreamEvent{ToolCalls: calls}:
			case <-ctx.Done():
			}
		}

		var currentEvent string
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				currentEvent = strings.TrimPrefix(line, "event: ")
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			switch currentEvent {
			case "content_block_start":
				var ev struct {
					Index        int `json:"index"`
					ContentBlock struct {
						Type string `json:"type"`
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"content_block"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.ContentBlock.Type != "tool_use" {
					continue
				}
				acc.add(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name, "")
			case "content_block_delta":
				var ev struct {
					Index int `json:"index"`
					Delta struct {
						Type        string `json:"type"`
						Text        string `json:"text"`
						PartialJSON string `json:"partial_json"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					continue
				}
				switch ev.Delta.Type {
				case "input_json_delta":
					acc.add(ev.Index, "", "", ev.Delta.PartialJSON)
				case "text_delta":
					select {
					case out <- StreamEvent{Text: ev.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "error":
				var ev struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if json.Unmarshal([]byte(data), &ev) == nil {
					out <- StreamEvent{Err: fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)}
					return
				}
			case "message_stop":
				flush()
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamEvent{Err: fmt.Errorf("anthropic: stream read: %w", err)}
			return
		}
		flush()
	}()
	return out, nil
}

func (a *AnthropicAdapter) buildBody(prompt string, tc TaskContext, stream bool) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(tc.History)+1)
	for _, turn := range tc.History {
		msgs = append(msgs, anthropicTurn(turn))
	}
	if prompt != "" {
		msgs = append(msgs, map[string]interface{}{"role": "user", "content": prompt})
	}

	body := map[string]interface{}{
		"model":      a.model,
		"messages":   msgs,
		"max_tokens": a.maxTokens,
		"stream":     stream,
	}
	if len(tc.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(tc.Tools))
		for _, def := range tc.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         def.Name,
				"description":  def.Description,
				"input_schema": def.Parameters,
			})
		}
		body["tools"] = tools
	}
	if tc.System != "" {
		body["system"] = tc.System
	}
	if a.temperature > 0 {
		body["temperature"] = a.temperature
	}
	return body
}

// anthropicTurn maps one conversation turn to a Messages API message. Tool
// calls become tool_use content blocks on the assistant turn; a tool result
// is a user turn holding a tool_result block.
func anthropicTurn(turn Turn) map[string]interface{} {
	if turn.Role == "tool" {
		return map[string]interface{}{
			"role": "user",
			"content": []map[string]interface{}{{
				"type":        "tool_result",
				"tool_use_id": turn.ToolCallID,
				"content":     turn.Content,
			}},
		}
	}
	if len(turn.ToolCalls) == 0 {
		return map[string]interface{}{"role": turn.Role, "content": turn.Content}
	}
	blocks := make([]map[string]interface{}, 0, len(turn.ToolCalls)+1)
	if turn.Content != "" {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": turn.Content})
	}
	for _, call := range turn.ToolCalls {
		input := call.Arguments
		if input == nil {
			input = map[string]interface{}{}
		}
		blocks = append(blocks, map[string]interface{}{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Name,
			"input": input,
		})
	}
	return map[string]interface{}{"role": turn.Role, "content": blocks}
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", a.apiBase+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
