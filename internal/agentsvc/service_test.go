package agentsvc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/icotes/agenthub/internal/agent"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/capability"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/memory"
	"github.com/icotes/agenthub/internal/tools"
	"github.com/icotes/agenthub/pkg/protocol"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Workspace.Root = t.TempDir()
	cfg.Agents.Default = config.AgentSpec{Name: "Default", Framework: "simulated", Model: "sim-1"}
	cfg.Agents.Templates = map[string]config.AgentSpec{
		"researcher": {Name: "Researcher", Framework: "simulated", Model: "sim-1"},
	}
	return NewService(cfg, nil, broker.New())
}

func drain(t *testing.T, ch <-chan agent.Message) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return sb.String()
			}
			if m.Kind == agent.MsgError {
				t.Fatalf("error item: %s", m.Content)
			}
			sb.WriteString(m.Content)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestCreateInitializesAgent(t *testing.T) {
	s := newTestService(t)
	sess, err := s.Create(context.Background(), config.AgentSpec{Name: "A", Framework: "simulated"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.Agent.Status() != agent.StatusReady {
		t.Errorf("status = %s", sess.Agent.Status())
	}
	if got, ok := s.Get(sess.SessionID); !ok || got.AgentID != sess.AgentID {
		t.Errorf("Get = %+v %v", got, ok)
	}
}

func TestCreateRejectsUnknownFramework(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Create(context.Background(), config.AgentSpec{Framework: "mystery"}); err == nil {
		t.Error("unknown framework accepted")
	}
}

func TestDefaultIsLazyAndReused(t *testing.T) {
	s := newTestService(t)
	first, err := s.Default(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Default(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.SessionID != second.SessionID {
		t.Error("default session recreated")
	}
	if len(s.List()) != 1 {
		t.Errorf("sessions = %d", len(s.List()))
	}
}

func TestStreamRoutesToTemplate(t *testing.T) {
	s := newTestService(t)
	ch, info, err := s.Stream(context.Background(), chat.RunRequest{
		SessionID: "chat-1", Content: "dig into this", AgentType: "custom-researcher",
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "Researcher" || !info.Available {
		t.Errorf("info = %+v", info)
	}
	out := drain(t, ch)
	if !strings.Contains(out, "dig into this") {
		t.Errorf("output = %q", out)
	}

	// Template sessions are reused across runs.
	_, info2, err := s.Stream(context.Background(), chat.RunRequest{Content: "again", AgentType: "custom-researcher"})
	if err != nil {
		t.Fatal(err)
	}
	if info2.AgentID != info.AgentID {
		t.Error("template agent recreated per run")
	}
	if len(s.List()) != 1 {
		t.Errorf("sessions = %d", len(s.List()))
	}
}

func TestStreamFallsBackToDefault(t *testing.T) {
	s := newTestService(t)
	ch, info, err := s.Stream(context.Background(), chat.RunRequest{Content: "hello", AgentType: "custom-nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "Default" || info.Type != "custom-nonexistent" {
		t.Errorf("info = %+v", info)
	}
	drain(t, ch)
}

func TestDestroyRemovesSession(t *testing.T) {
	s := newTestService(t)
	sess, err := s.Create(context.Background(), config.AgentSpec{Name: "A", Framework: "simulated"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Destroy(sess.SessionID); err != nil {
		t.Fatal(err)
	}
	if sess.Agent.Status() != agent.StatusDestroyed {
		t.Errorf("agent status = %s", sess.Agent.Status())
	}
	if _, ok := s.Get(sess.SessionID); ok {
		t.Error("destroyed session still registered")
	}
	if err := s.Destroy(sess.SessionID); err == nil {
		t.Error("double destroy succeeded")
	}
}

type summarizeTool struct{}

func (summarizeTool) Name() string        { return "summarize" }
func (summarizeTool) Description() string { return "Summarize text" }
func (summarizeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
	}
}
func (summarizeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.Ok("summary")
}

func TestCreateAttachesConfiguredCapabilities(t *testing.T) {
	s := newTestService(t)
	caps := capability.NewRegistry()
	if err := caps.Register(summarizeTool{}, "analysis"); err != nil {
		t.Fatal(err)
	}
	s.SetCapabilities(caps)

	sess, err := s.Create(context.Background(), config.AgentSpec{
		Name: "A", Framework: "simulated", Capabilities: []string{"summarize"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Agent.HasCapability("summarize") {
		t.Error("agent missing configured capability")
	}
	if !caps.Has(sess.AgentID, "summarize") {
		t.Error("registry missing attachment")
	}

	if err := s.Destroy(sess.SessionID); err != nil {
		t.Fatal(err)
	}
	if caps.Has(sess.AgentID, "summarize") {
		t.Error("attachment survived destroy")
	}
}

func TestCreateRejectsUnknownCapability(t *testing.T) {
	s := newTestService(t)
	s.SetCapabilities(capability.NewRegistry())
	if _, err := s.Create(context.Background(), config.AgentSpec{
		Name: "A", Framework: "simulated", Capabilities: []string{"nope"},
	}); err == nil {
		t.Error("unknown capability accepted")
	}
}

func TestStreamRecordsMemoryWhenEnabled(t *testing.T) {
	s := newTestService(t)
	mem, err := memory.NewManager(config.MemoryConfig{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	s.SetMemory(mem)
	s.cfg.Agents.Default.MemoryEnabled = true

	ch, info, err := s.Stream(context.Background(), chat.RunRequest{SessionID: "chat-9", Content: "remember me"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, ch)

	entries, err := mem.ForAgent(context.Background(), info.AgentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "remember me" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestHistoryTurns(t *testing.T) {
	msgs := []protocol.Message{
		{Sender: protocol.SenderUser, Content: "hi"},
		{Sender: protocol.SenderAI, Content: "hello"},
		{Sender: protocol.SenderSystem, Content: "internal note"},
	}
	turns := historyTurns(msgs)
	if len(turns) != 2 {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("roles = %s %s", turns[0].Role, turns[1].Role)
	}
}
