// Package config holds the root configuration for the agenthub gateway.
// Values come from a JSON5 config file overlaid with environment variables;
// env vars take precedence.
package config

import (
	"fmt"
	"sync"
)

// Config is the root configuration. A single instance is constructed at
// startup and passed by reference; there are no config singletons.
type Config struct {
	Workspace WorkspaceConfig `json:"workspace"`
	Gateway   GatewayConfig   `json:"gateway"`
	Chat      ChatConfig      `json:"chat"`
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// WorkspaceConfig locates the workspace root all tools are sandboxed to.
type WorkspaceConfig struct {
	Root string `json:"root"`
}

// GatewayConfig configures the WebSocket/HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ChatConfig tunes the streaming and persistence layer.
type ChatConfig struct {
	// Chunk batching: buffer stream chunks until MinChunkSize bytes or
	// BatchIntervalMS elapse, whichever first.
	Batching        bool `json:"batching"`
	BatchIntervalMS int  `json:"batch_interval_ms"`
	MinChunkSize    int  `json:"min_chunk_size"`

	// Buffered JSONL persister.
	BufferedStore bool `json:"buffered_store"`
	StoreFlushMS  int  `json:"store_flush_ms"`

	// Attachment limits.
	MaxImageAttachments int `json:"max_image_attachments"`
	MaxImageSizeMB      int `json:"max_image_size_mb"`

	// History turns passed to custom agents.
	HistoryContextTurns int `json:"history_context_turns"`

	// Typing indicator frames around agent work.
	TypingIndicators bool `json:"typing_indicators"`
}

// AgentSpec is the on-disk form of an agent configuration.
type AgentSpec struct {
	Name          string                 `json:"name"`
	Framework     string                 `json:"framework"`
	Role          string                 `json:"role,omitempty"`
	Goal          string                 `json:"goal,omitempty"`
	Backstory     string                 `json:"backstory,omitempty"`
	Model         string                 `json:"model"`
	Temperature   float64                `json:"temperature"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	MemoryEnabled bool                   `json:"memory_enabled"`
	ContextWindow int                    `json:"context_window"`
	CustomConfig  map[string]interface{} `json:"custom_config,omitempty"`
}

// AgentsConfig holds the default agent plus named templates.
type AgentsConfig struct {
	Default   AgentSpec            `json:"default"`
	Templates map[string]AgentSpec `json:"templates,omitempty"`
}

// ProviderCredentials is one provider's connection settings.
type ProviderCredentials struct {
	APIKey  string `json:"-"` // env only, never persisted
	BaseURL string `json:"base_url,omitempty"`
}

// ProvidersConfig holds credentials per LLM provider.
type ProvidersConfig struct {
	OpenAI    ProviderCredentials `json:"openai,omitempty"`
	Anthropic ProviderCredentials `json:"anthropic,omitempty"`
}

// WebFetchConfig tunes the web_fetch tool.
type WebFetchConfig struct {
	MaxLength      int `json:"max_length"`      // hard cap 200000
	TimeoutSeconds int `json:"timeout_seconds"` // hard cap 60
}

// MediaConfig configures the external media-generation provider.
type MediaConfig struct {
	APIKey  string `json:"-"` // env only
	BaseURL string `json:"base_url,omitempty"`
}

// ToolsConfig holds per-tool settings.
type ToolsConfig struct {
	WebFetch WebFetchConfig `json:"web_fetch"`
	Media    MediaConfig    `json:"media,omitempty"`
}

// MemoryConfig selects the context-manager backend.
type MemoryConfig struct {
	Backend          string `json:"backend"` // "memory" or "sqlite"
	Path             string `json:"path,omitempty"`
	MaxContextLength int    `json:"max_context_length"`
	RetentionPolicy  string `json:"retention_policy"` // "fifo", "importance", "recency"
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// knownFrameworks are the adapter tags accepted in AgentSpec.Framework.
// Unknown frameworks fail at config load, not at first use.
var knownFrameworks = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"simulated": true,
}

// Validate rejects configs that would fail at runtime.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	specs := map[string]AgentSpec{"default": c.Agents.Default}
	for name, t := range c.Agents.Templates {
		specs["template "+name] = t
	}
	for where, spec := range specs {
		if spec.Framework == "" {
			continue
		}
		if !knownFrameworks[spec.Framework] {
			return fmt.Errorf("%s: unknown framework %q", where, spec.Framework)
		}
	}
	if c.Memory.Backend != "" && c.Memory.Backend != "memory" && c.Memory.Backend != "sqlite" {
		return fmt.Errorf("memory.backend must be \"memory\" or \"sqlite\", got %q", c.Memory.Backend)
	}
	return nil
}

// ClientView returns the subset of configuration pushed to WebSocket
// clients in the config frame. Secrets never appear here.
func (c *Config) ClientView() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"batching":              c.Chat.Batching,
		"max_image_attachments": c.Chat.MaxImageAttachments,
		"max_image_size_mb":     c.Chat.MaxImageSizeMB,
		"default_agent":         c.Agents.Default.Name,
	}
}
