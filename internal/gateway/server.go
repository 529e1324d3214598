// Package gateway is the WebSocket front door: it upgrades connections,
// runs the per-client read/write pumps, and hands decoded frames to the
// chat service.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/icotes/agenthub/internal/agentsvc"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/pkg/protocol"
)

// Server handles WebSocket and HTTP connections.
type Server struct {
	cfg    *config.Config
	chat   *chat.Service
	agents *agentsvc.Service
	bus    *broker.Broker
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, chatSvc *chat.Service, agents *agentsvc.Service, bus *broker.Broker) *Server {
	s := &Server{
		cfg:     cfg,
		chat:    chatSvc,
		agents:  agents,
		bus:     bus,
		logger:  slog.Default().With("component", "gateway"),
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// Agent lifecycle changes reach every connected client as a fresh
	// agent_status frame.
	s.bus.Subscribe("gateway", "agent.*", func(broker.Event) {
		s.broadcastAgentStatus()
	})
	return s
}

// checkOrigin validates the Origin header against the configured
// allowlist. No configured origins means allow all; an empty Origin
// (CLI and SDK clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	s.logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	s.sendWelcome(client)
	client.Run(r.Context())
}

// sendWelcome pushes the config frame and the current agent status to a
// freshly connected client.
func (s *Server) sendWelcome(c *Client) {
	c.Send(&protocol.ConfigFrame{
		Type:      protocol.FrameConfig,
		Config:    s.cfg.ClientView(),
		Timestamp: time.Now().UTC(),
	})
	c.Send(&protocol.AgentStatusFrame{Type: protocol.FrameAgentStatus, Agent: s.agentInfo()})
}

// agentInfo describes the configured default agent. Available flips once
// a session for it exists.
func (s *Server) agentInfo() protocol.AgentInfo {
	info := protocol.AgentInfo{
		Name: s.cfg.Agents.Default.Name,
		Type: "default",
	}
	for _, sess := range s.agents.List() {
		if sess.Config.Name == info.Name {
			info.Available = true
			info.AgentID = sess.AgentID
			info.Capabilities = sess.Agent.Capabilities()
			break
		}
	}
	return info
}

func (s *Server) broadcastAgentStatus() {
	frame := &protocol.AgentStatusFrame{Type: protocol.FrameAgentStatus, Agent: s.agentInfo()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.Send(frame)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.chat.AddConnection(c)
	s.logger.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.chat.RemoveConnection(c.id)
	s.logger.Info("client disconnected", "id", c.id)
}

// StartTestServer listens on a random local port and returns the actual
// address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
