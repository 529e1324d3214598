// Package agentsvc owns agent sessions and workflow runs: it builds agents
// from configs and templates, tracks their lifecycle, serves streaming runs
// to the chat service, and registers workflow engines that borrow its
// agents.
package agentsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icotes/agenthub/internal/agent"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/capability"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/memory"
	"github.com/icotes/agenthub/internal/providers"
	"github.com/icotes/agenthub/internal/tools"
	"github.com/icotes/agenthub/pkg/protocol"
)

// Session pairs an agent with its bookkeeping record.
type Session struct {
	SessionID    string           `json:"session_id"`
	AgentID      string           `json:"agent_id"`
	Config       config.AgentSpec `json:"config"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`

	Agent *agent.Agent `json:"-"`
}

// Service is the agent session registry.
type Service struct {
	cfg    *config.Config
	images *providers.ImageResolver
	bus    *broker.Broker
	caps   *capability.Registry
	mem    *memory.Manager
	tools  *tools.Registry
	logger *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	byTemplate map[string]string // template name -> session id, reused runs
	defaultID  string

	wfMu      sync.Mutex
	workflows map[string]*workflowRun
}

func NewService(cfg *config.Config, images *providers.ImageResolver, bus *broker.Broker) *Service {
	return &Service{
		cfg:        cfg,
		images:     images,
		bus:        bus,
		logger:     slog.Default().With("component", "agentsvc"),
		sessions:   make(map[string]*Session),
		byTemplate: make(map[string]string),
	}
}

// SetCapabilities installs the capability registry agents attach their
// configured capabilities through.
func (s *Service) SetCapabilities(r *capability.Registry) { s.caps = r }

// SetMemory installs the context manager. Agents with memory enabled get
// their chat turns recorded as episodic memories.
func (s *Service) SetMemory(m *memory.Manager) { s.mem = m }

// SetTools installs the tool registry every created agent offers to its
// model for function-calling.
func (s *Service) SetTools(r *tools.Registry) { s.tools = r }

// Create builds and initializes an agent from a spec.
func (s *Service) Create(ctx context.Context, spec config.AgentSpec) (*Session, error) {
	fw, err := providers.ParseFramework(spec.Framework)
	if err != nil {
		return nil, err
	}
	opts := providers.Options{
		Model:       spec.Model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	}
	switch fw {
	case providers.FrameworkOpenAI:
		opts.APIKey = s.cfg.Providers.OpenAI.APIKey
		opts.BaseURL = s.cfg.Providers.OpenAI.BaseURL
	case providers.FrameworkAnthropic:
		opts.APIKey = s.cfg.Providers.Anthropic.APIKey
		opts.BaseURL = s.cfg.Providers.Anthropic.BaseURL
	}
	adapter, err := providers.New(fw, opts, s.images)
	if err != nil {
		return nil, err
	}

	agentID := uuid.NewString()
	a := agent.New(agentID, spec, adapter, s.logger)
	if s.tools != nil {
		a.SetTools(s.tools)
	}
	if err := a.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("create agent %q: %w", spec.Name, err)
	}

	for _, name := range spec.Capabilities {
		if s.caps != nil {
			if err := s.caps.Attach(agentID, spec.Framework, name, nil); err != nil {
				a.Destroy()
				return nil, fmt.Errorf("create agent %q: %w", spec.Name, err)
			}
		}
		if err := a.AttachCapability(name); err != nil {
			a.Destroy()
			return nil, fmt.Errorf("create agent %q: %w", spec.Name, err)
		}
	}

	sess := &Session{
		SessionID:    uuid.NewString(),
		AgentID:      agentID,
		Config:       spec,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
		Agent:        a,
	}
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()

	s.bus.Publish("agent.created", map[string]interface{}{
		"session_id": sess.SessionID, "agent_id": agentID, "name": spec.Name,
	}, "agentsvc")
	return sess, nil
}

// CreateFromTemplate builds an agent from a named template in config.
func (s *Service) CreateFromTemplate(ctx context.Context, name string) (*Session, error) {
	spec, ok := s.cfg.Agents.Templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent template %q", name)
	}
	sess, err := s.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.byTemplate[name] = sess.SessionID
	s.mu.Unlock()
	return sess, nil
}

// Default returns the session for the configured default agent, creating
// it on first use.
func (s *Service) Default(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[s.defaultID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess, err := s.Create(ctx, s.cfg.Agents.Default)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.defaultID = sess.SessionID
	s.mu.Unlock()
	return sess, nil
}

// Get looks a session up by id.
func (s *Service) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// List returns all sessions ordered by creation time.
func (s *Service) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Destroy tears a session's agent down and removes the record.
func (s *Service) Destroy(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		if s.defaultID == sessionID {
			s.defaultID = ""
		}
		for name, id := range s.byTemplate {
			if id == sessionID {
				delete(s.byTemplate, name)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent session %s not found", sessionID)
	}

	if err := sess.Agent.Destroy(); err != nil {
		return err
	}
	if s.caps != nil {
		s.caps.DetachAll(sess.AgentID)
	}
	s.bus.Publish("agent.destroyed", map[string]interface{}{
		"session_id": sessionID, "agent_id": sess.AgentID,
	}, "agentsvc")
	return nil
}

// StopAll stops every live agent, used on shutdown.
func (s *Service) StopAll() {
	for _, sess := range s.List() {
		if err := sess.Agent.Stop(); err != nil {
			s.logger.Warn("agent stop failed", "agent_id", sess.AgentID, "error", err)
		}
	}
}

// customAgentPrefix marks agent_type values that resolve to templates.
const customAgentPrefix = "custom-"

// sessionFor resolves the serving session for a run request: a custom
// agent_type maps to its template (one shared session per template), and
// everything else lands on the default agent.
func (s *Service) sessionFor(ctx context.Context, agentType string) (*Session, error) {
	if agentType != "" {
		name := strings.TrimPrefix(agentType, customAgentPrefix)
		if _, ok := s.cfg.Agents.Templates[name]; ok {
			s.mu.Lock()
			id := s.byTemplate[name]
			sess, live := s.sessions[id]
			s.mu.Unlock()
			if live {
				return sess, nil
			}
			return s.CreateFromTemplate(ctx, name)
		}
	}
	return s.Default(ctx)
}

// Stream implements chat.Runner.
func (s *Service) Stream(ctx context.Context, req chat.RunRequest) (<-chan agent.Message, protocol.AgentInfo, error) {
	sess, err := s.sessionFor(ctx, req.AgentType)
	if err != nil {
		return nil, protocol.AgentInfo{}, err
	}

	s.mu.Lock()
	sess.LastActivity = time.Now().UTC()
	s.mu.Unlock()

	if s.mem != nil && sess.Config.MemoryEnabled {
		if _, err := s.mem.Store(ctx, memory.Entry{
			AgentID:   sess.AgentID,
			SessionID: req.SessionID,
			Content:   req.Content,
			Kind:      memory.KindEpisodic,
		}); err != nil {
			s.logger.Warn("memory store failed", "agent_id", sess.AgentID, "error", err)
		}
	}

	task := agent.Task{
		Prompt:      req.Content,
		History:     historyTurns(req.History),
		Attachments: req.Attachments,
		Context: map[string]interface{}{
			"chat_session_id": req.SessionID,
		},
	}
	info := protocol.AgentInfo{
		Available:    true,
		Name:         sess.Config.Name,
		Type:         req.AgentType,
		Capabilities: sess.Agent.Capabilities(),
		AgentID:      sess.AgentID,
	}
	if info.Type == "" {
		info.Type = "default"
	}
	return sess.Agent.Execute(ctx, task), info, nil
}

// historyTurns converts persisted chat messages to adapter turns. System
// and typing records never reach the model.
func historyTurns(msgs []protocol.Message) []providers.Turn {
	turns := make([]providers.Turn, 0, len(msgs))
	for _, m := range msgs {
		var role string
		switch m.Sender {
		case protocol.SenderUser:
			role = "user"
		case protocol.SenderAI:
			role = "assistant"
		default:
			continue
		}
		turns = append(turns, providers.Turn{
			Role:        role,
			Content:     m.Content,
			Attachments: m.Attachments,
		})
	}
	return turns
}
