package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.StoreFlushMS != 250 {
		t.Errorf("StoreFlushMS = %d, want 250", cfg.Chat.StoreFlushMS)
	}
	if !cfg.Chat.BufferedStore {
		t.Error("BufferedStore should default to true")
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// comments are allowed
		workspace: { root: "/tmp/ws" },
		chat: { batching: true, min_chunk_size: 128 },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace.Root != "/tmp/ws" {
		t.Errorf("Root = %q", cfg.Workspace.Root)
	}
	if !cfg.Chat.Batching || cfg.Chat.MinChunkSize != 128 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "/env/ws")
	t.Setenv("ENABLE_CHAT_BATCHING", "true")
	t.Setenv("CHAT_STORE_FLUSH_MS", "100")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace.Root != "/env/ws" {
		t.Errorf("Root = %q", cfg.Workspace.Root)
	}
	if !cfg.Chat.Batching {
		t.Error("batching not enabled from env")
	}
	if cfg.Chat.StoreFlushMS != 100 {
		t.Errorf("StoreFlushMS = %d", cfg.Chat.StoreFlushMS)
	}
}

func TestUnknownFrameworkRejectedAtLoad(t *testing.T) {
	cfg := Default()
	cfg.Agents.Default.Framework = "crewai"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown framework accepted")
	}

	cfg = Default()
	cfg.Agents.Templates = map[string]AgentSpec{"bad": {Framework: "nope"}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown template framework accepted")
	}
}

func TestClientViewHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-secret"
	view := cfg.ClientView()
	for k, v := range view {
		if s, ok := v.(string); ok && s == "sk-secret" {
			t.Errorf("secret leaked under key %q", k)
		}
	}
}
