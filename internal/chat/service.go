package chat

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icotes/agenthub/internal/agent"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/pkg/protocol"
)

// Conn is one transport connection the service pushes frames to. The
// gateway's client type implements it.
type Conn interface {
	ID() string
	Send(v interface{}) error
}

// RunRequest asks the agent layer for one streaming run.
type RunRequest struct {
	SessionID   string
	Content     string
	AgentType   string // empty selects the default agent
	History     []protocol.Message
	Attachments []protocol.Attachment
}

// Runner starts agent runs on behalf of the chat service. Implemented by
// the agent service; abstract here so chat never reaches into agent
// lifecycle management.
type Runner interface {
	Stream(ctx context.Context, req RunRequest) (<-chan agent.Message, protocol.AgentInfo, error)
}

// Service is the streaming core: it owns sessions, their JSONL logs and
// the connection-to-session bindings.
type Service struct {
	cfg       *config.Config
	persister *Persister
	sessions  *Sessions
	media     *MediaStore
	runner    Runner
	bus       *broker.Broker
	logger    *slog.Logger

	mu     sync.Mutex
	conns  map[string]Conn
	bound  map[string]string                        // conn id -> session id
	active map[string]map[string]context.CancelFunc // session id -> message id -> cancel
}

func NewService(cfg *config.Config, runner Runner, bus *broker.Broker) (*Service, error) {
	historyDir := filepath.Join(cfg.Workspace.Root, "chat_history")
	flushInterval := time.Duration(cfg.Chat.StoreFlushMS) * time.Millisecond
	persister, err := NewPersister(historyDir, cfg.Chat.BufferedStore, flushInterval)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		persister: persister,
		sessions:  NewSessions(historyDir, persister),
		media:     NewMediaStore(cfg.Workspace.Root, cfg.Chat.MaxImageAttachments, cfg.Chat.MaxImageSizeMB),
		runner:    runner,
		bus:       bus,
		logger:    slog.Default().With("component", "chat"),
		conns:     make(map[string]Conn),
		bound:     make(map[string]string),
		active:    make(map[string]map[string]context.CancelFunc),
	}, nil
}

// Sessions exposes session CRUD for the gateway's method handlers.
func (s *Service) Sessions() *Sessions { return s.sessions }

// Media exposes the attachment store.
func (s *Service) Media() *MediaStore { return s.media }

// Close flushes pending messages synchronously.
func (s *Service) Close() error { return s.persister.Close() }

// AddConnection registers a transport connection.
func (s *Service) AddConnection(c Conn) {
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()
}

// RemoveConnection drops a connection and its session binding.
func (s *Service) RemoveConnection(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	delete(s.bound, connID)
	s.mu.Unlock()
}

// Bind attaches a connection to a session.
func (s *Service) Bind(connID, sessionID string) {
	s.mu.Lock()
	s.bound[connID] = sessionID
	s.mu.Unlock()
}

// HandleFrame dispatches one decoded client frame.
func (s *Service) HandleFrame(ctx context.Context, conn Conn, f *protocol.InboundFrame) error {
	switch f.Type {
	case protocol.FrameMessage:
		return s.handleMessage(ctx, conn, f)
	case protocol.FrameStopStreaming:
		s.StopStreaming(s.resolveSession(conn.ID(), f.SessionID))
		return nil
	case protocol.FrameGetHistory:
		msgs, total, err := s.sessions.History(f.SessionID, f.Limit, f.Offset)
		if err != nil {
			return err
		}
		return conn.Send(&protocol.HistoryFrame{
			Type: protocol.FrameHistory, SessionID: f.SessionID, Messages: msgs, Total: total,
		})
	case protocol.FrameSessionsCreate:
		id, err := s.sessions.Create(f.Name)
		if err != nil {
			return err
		}
		s.Bind(conn.ID(), id)
		return conn.Send(&protocol.SessionsFrame{Type: protocol.FrameSessions, SessionID: id})
	case protocol.FrameSessionsUpdate:
		if err := s.sessions.Update(f.SessionID, f.Name); err != nil {
			return err
		}
		return conn.Send(&protocol.SessionsFrame{Type: protocol.FrameSessions, SessionID: f.SessionID})
	case protocol.FrameSessionsDelete:
		if err := s.sessions.Delete(f.SessionID); err != nil {
			return err
		}
		return conn.Send(&protocol.SessionsFrame{Type: protocol.FrameSessions, SessionID: f.SessionID})
	case protocol.FrameSessionsList:
		metas, err := s.sessions.List()
		if err != nil {
			return err
		}
		return conn.Send(&protocol.SessionsFrame{Type: protocol.FrameSessions, Sessions: metas})
	default:
		return conn.Send(protocol.NewErrorFrame(protocol.ErrInvalidArgument,
			fmt.Sprintf("unknown frame type %q", f.Type)))
	}
}

// resolveSession picks the session for a frame: an explicit id wins, then
// the connection's binding, then a fresh session.
func (s *Service) resolveSession(connID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bound[connID]; ok && id != "" {
		return id
	}
	id := uuid.NewString()
	s.bound[connID] = id
	return id
}

func (s *Service) handleMessage(ctx context.Context, conn Conn, f *protocol.InboundFrame) error {
	sessionID := f.Metadata.SessionID
	if sessionID == "" {
		sessionID = f.SessionID
	}
	sessionID = s.resolveSession(conn.ID(), sessionID)
	s.Bind(conn.ID(), sessionID)

	attachments := s.media.Normalize(f.Metadata.Attachments)

	// History snapshot precedes the new turn so custom agents get the
	// prior N messages plus the current turn, not the turn twice.
	history, _ := s.persister.Messages(sessionID)
	if n := s.cfg.Chat.HistoryContextTurns; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	userMsg := protocol.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Sender:      protocol.SenderUser,
		Kind:        protocol.KindMessage,
		Content:     f.Content,
		Timestamp:   time.Now().UTC(),
		Attachments: attachments,
	}
	if err := s.persister.Append(userMsg); err != nil {
		return err
	}
	s.broadcast(sessionID, protocol.NewMessageFrame(userMsg))
	s.bus.Publish("chat.message.user", userMsg, "chat")

	go s.runAgentStream(context.WithoutCancel(ctx), RunRequest{
		SessionID:   sessionID,
		Content:     f.Content,
		AgentType:   f.Metadata.AgentType,
		History:     history,
		Attachments: attachments,
	})
	return nil
}

// runAgentStream drives one agent run end to end: typing markers,
// stream_start, chunks (optionally batched), stream_end, and the single
// aggregated persisted message.
func (s *Service) runAgentStream(ctx context.Context, req RunRequest) {
	messageID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	s.trackRun(req.SessionID, messageID, cancel)
	defer s.untrackRun(req.SessionID, messageID)
	defer cancel()

	if s.cfg.Chat.TypingIndicators {
		s.broadcast(req.SessionID, protocol.NewTypingFrame(req.SessionID, true))
		defer s.broadcast(req.SessionID, protocol.NewTypingFrame(req.SessionID, false))
	}

	items, info, err := s.runner.Stream(runCtx, req)
	if err != nil {
		s.logger.Error("agent dispatch failed", "session_id", req.SessionID, "error", err)
		s.finishStream(req, messageID, info, "The agent is unavailable right now.", true, false)
		return
	}

	s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamStart, "", nil)
	s.bus.Publish("chat.stream.started", map[string]interface{}{
		"session_id": req.SessionID, "message_id": messageID,
	}, "chat")

	chunks := make(chan string)
	errText := make(chan string, 1)
	go func() {
		defer close(chunks)
		for item := range items {
			switch item.Kind {
			case agent.MsgText:
				chunks <- item.Content
			case agent.MsgError:
				// Error policy: the failure becomes a visible chunk on the
				// live stream, never a concurrent error message.
				errText <- "The agent hit a problem: " + item.Content
				return
			}
		}
	}()

	var out <-chan string = chunks
	if s.cfg.Chat.Batching {
		interval := time.Duration(s.cfg.Chat.BatchIntervalMS) * time.Millisecond
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		out = batchChunks(chunks, s.cfg.Chat.MinChunkSize, interval)
	}

	var content string
	for chunk := range out {
		content += chunk
		s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamChunk, chunk, nil)
	}

	hasError := false
	select {
	case text := <-errText:
		content += text
		s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamChunk, text, nil)
		hasError = true
	default:
	}
	cancelled := runCtx.Err() != nil

	s.finishStreamContent(req, messageID, info, content, hasError, cancelled)
}

func (s *Service) finishStream(req RunRequest, messageID string, info protocol.AgentInfo, text string, hasError, cancelled bool) {
	s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamStart, "", nil)
	s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamChunk, text, nil)
	s.finishStreamContent(req, messageID, info, text, hasError, cancelled)
}

// finishStreamContent emits stream_end and persists the aggregated AI
// message. The final message is never broadcast; clients rebuild it from
// the chunks.
func (s *Service) finishStreamContent(req RunRequest, messageID string, info protocol.AgentInfo, content string, hasError, cancelled bool) {
	s.sendStreamFrame(req.SessionID, messageID, info, protocol.StreamEnd, "", nil)

	meta := map[string]interface{}{"streaming_complete": true}
	if hasError {
		meta["has_error"] = true
	}
	if cancelled {
		meta["cancelled"] = true
	}
	aiMsg := protocol.Message{
		ID:        messageID,
		SessionID: req.SessionID,
		Sender:    protocol.SenderAI,
		Kind:      protocol.KindMessage,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}
	if err := s.persister.Append(aiMsg); err != nil {
		s.logger.Error("persisting ai message failed", "session_id", req.SessionID, "error", err)
	}
	s.bus.Publish("chat.stream.ended", map[string]interface{}{
		"session_id": req.SessionID, "message_id": messageID, "cancelled": cancelled,
	}, "chat")
}

func (s *Service) sendStreamFrame(sessionID, messageID string, info protocol.AgentInfo, phase, chunk string, meta map[string]interface{}) {
	s.broadcast(sessionID, &protocol.StreamFrame{
		Type:      protocol.FrameMessageStream,
		ID:        messageID,
		Phase:     phase,
		Chunk:     chunk,
		Sender:    protocol.SenderAI,
		Timestamp: time.Now().UTC(),
		AgentID:   info.AgentID,
		AgentName: info.Name,
		AgentType: info.Type,
		SessionID: sessionID,
		Metadata:  meta,
	})
}

// broadcast sends a frame to every connection bound to the session.
func (s *Service) broadcast(sessionID string, frame interface{}) {
	s.mu.Lock()
	targets := make([]Conn, 0, len(s.bound))
	for connID, sid := range s.bound {
		if sid != sessionID {
			continue
		}
		if c, ok := s.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			s.logger.Warn("frame send failed", "conn_id", c.ID(), "error", err)
		}
	}
}

func (s *Service) trackRun(sessionID, messageID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[sessionID] == nil {
		s.active[sessionID] = make(map[string]context.CancelFunc)
	}
	s.active[sessionID][messageID] = cancel
}

func (s *Service) untrackRun(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active[sessionID], messageID)
}

// StopStreaming cancels every run on a session. The run loop still emits
// its stream_end; the persisted message carries metadata.cancelled=true.
func (s *Service) StopStreaming(sessionID string) {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active[sessionID]))
	for _, cancel := range s.active[sessionID] {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.broadcast(sessionID, protocol.NewStreamStoppedFrame(sessionID, "Streaming stopped."))
	if s.cfg.Chat.TypingIndicators {
		s.broadcast(sessionID, protocol.NewTypingFrame(sessionID, false))
	}
}
