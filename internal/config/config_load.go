package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{Root: "~/.agenthub/workspace"},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Chat: ChatConfig{
			Batching:            false,
			BatchIntervalMS:     50,
			MinChunkSize:        64,
			BufferedStore:       true,
			StoreFlushMS:        250,
			MaxImageAttachments: 5,
			MaxImageSizeMB:      10,
			HistoryContextTurns: 10,
			TypingIndicators:    true,
		},
		Agents: AgentsConfig{
			Default: AgentSpec{
				Name:          "assistant",
				Framework:     "openai",
				Model:         "gpt-4o-mini",
				Temperature:   0.7,
				MemoryEnabled: true,
				ContextWindow: 128000,
			},
		},
		Tools: ToolsConfig{
			WebFetch: WebFetchConfig{
				MaxLength:      50000,
				TimeoutSeconds: 30,
			},
		},
		Memory: MemoryConfig{
			Backend:          "memory",
			MaxContextLength: 100,
			RetentionPolicy:  "importance",
		},
	}
}

// Load reads config from a JSON5 file (missing file is fine), overlays env
// vars, expands the workspace path, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Workspace.Root = ExpandHome(cfg.Workspace.Root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("WORKSPACE_ROOT", &c.Workspace.Root)

	envBool("ENABLE_CHAT_BATCHING", &c.Chat.Batching)
	envInt("CHAT_BATCH_INTERVAL_MS", &c.Chat.BatchIntervalMS)
	envInt("CHAT_MIN_CHUNK_SIZE", &c.Chat.MinChunkSize)
	envBool("CHAT_BUFFERED_STORE", &c.Chat.BufferedStore)
	envInt("CHAT_STORE_FLUSH_MS", &c.Chat.StoreFlushMS)
	envInt("CHAT_MAX_IMAGE_ATTACHMENTS", &c.Chat.MaxImageAttachments)
	envInt("CHAT_MAX_IMAGE_SIZE_MB", &c.Chat.MaxImageSizeMB)

	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_BASE_URL", &c.Providers.OpenAI.BaseURL)
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("MEDIA_API_KEY", &c.Tools.Media.APIKey)
	envStr("MEDIA_BASE_URL", &c.Tools.Media.BaseURL)

	envStr("AGENTHUB_HOST", &c.Gateway.Host)
	envInt("AGENTHUB_PORT", &c.Gateway.Port)

	envBool("AGENTHUB_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("AGENTHUB_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTHUB_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
