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

	"github.com/icotes/agenthub/pkg/protocol"
)

// OpenAIAdapter targets OpenAI-compatible chat completion APIs.
type OpenAIAdapter struct {
	model       string
	apiKey      string
	apiBase     string
	temperature float64
	maxTokens   int
	images      *ImageResolver
	client      *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewOpenAIAdapter(opts Options, images *ImageResolver) *OpenAIAdapter {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		model:       model,
		apiKey:      opts.APIKey,
		apiBase:     strings.TrimRight(base, "/"),
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		images:      images,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Initialize(ctx context.Context) error { return nil }

func (a *OpenAIAdapter) Cleanup() error {
	a.Stop()
	return nil
}

// Stop aborts the in-flight run, if any.
func (a *OpenAIAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *OpenAIAdapter) trackable(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return ctx, cancel
}

func (a *OpenAIAdapter) Run(ctx context.Context, prompt string, tc TaskContext) (*RunResult, error) {
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

	var resp openAIResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	result := &RunResult{
		Content:  resp.Choices[0].Message.Content,
		Status:   "success",
		Metadata: map[string]interface{}{"model": a.model, "finish_reason": resp.Choices[0].FinishReason},
	}
	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

func (a *OpenAIAdapter) RunStreaming(ctx context.Context, prompt string, tc TaskContext) (<-chan StreamEvent, error) {
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

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				flush()
				return
			}
			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if delta.Content == "" {
				continue
			}
			select {
			case out <- StreamEvent{Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamEvent{Err: fmt.Errorf("openai: stream read: %w", err)}
			return
		}
		flush()
	}()
	return out, nil
}

// buildBody assembles the chat completions request. A user turn with image
// attachments becomes a parts list of text and image_url entries; tool
// definitions go out as function descriptors.
func (a *OpenAIAdapter) buildBody(prompt string, tc TaskContext, stream bool) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(tc.History)+2)
	if tc.System != "" {
		msgs = append(msgs, map[string]interface{}{"role": "system", "content": tc.System})
	}
	for _, turn := range tc.History {
		msgs = append(msgs, a.buildHistoryTurn(turn))
	}
	if prompt != "" {
		msgs = append(msgs, a.buildTurn("user", prompt, tc.Attachments))
	}

	body := map[string]interface{}{
		"model":    a.model,
		"messages": msgs,
		"stream":   stream,
	}
	if len(tc.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(tc.Tools))
		for _, def := range tc.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	if stream {
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}
	if a.maxTokens > 0 {
		body[tokenParam(a.model)] = a.maxTokens
	}
	// Reasoning models reject non-default temperature.
	if !isReasoningModel(a.model) && a.temperature > 0 {
		body["temperature"] = a.temperature
	}
	return body
}

// buildHistoryTurn maps one conversation turn to its wire message: tool
// results use the "tool" role keyed by call id, assistant turns replay the
// tool calls they made.
func (a *OpenAIAdapter) buildHistoryTurn(turn Turn) map[string]interface{} {
	if turn.Role == "tool" {
		return map[string]interface{}{
			"role":         "tool",
			"tool_call_id": turn.ToolCallID,
			"content":      turn.Content,
		}
	}
	msg := a.buildTurn(turn.Role, turn.Content, turn.Attachments)
	if len(turn.ToolCalls) > 0 {
		calls := make([]map[string]interface{}, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			calls = append(calls, map[string]interface{}{
				"id":   call.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      call.Name,
					"arguments": string(args),
				},
			})
		}
		msg["tool_calls"] = calls
	}
	return msg
}

func (a *OpenAIAdapter) buildTurn(role, content string, atts []protocol.Attachment) map[string]interface{} {
	msg := map[string]interface{}{"role": role}
	var imageURLs []string
	if role == "user" && a.images != nil {
		for _, att := range atts {
			if att.Kind != protocol.AttachImages {
				continue
			}
			if url := a.images.Resolve(att); url != "" {
				imageURLs = append(imageURLs, url)
			}
		}
	}
	if len(imageURLs) == 0 {
		msg["content"] = content
		return msg
	}
	parts := make([]map[string]interface{}, 0, len(imageURLs)+1)
	for _, url := range imageURLs {
		parts = append(parts, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]interface{}{"url": url},
		})
	}
	if content != "" {
		parts = append(parts, map[string]interface{}{"type": "text", "text": content})
	}
	msg["content"] = parts
	return msg
}

func (a *OpenAIAdapter) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", a.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

// tokenParam picks the max-token parameter name for a model family.
// Reasoning models only accept the completion-tokens variant.
func tokenParam(model string) string {
	if isReasoningModel(model) {
		return "max_completion_tokens"
	}
	return "max_tokens"
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
