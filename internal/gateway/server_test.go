package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/icotes/agenthub/internal/agentsvc"
	"github.com/icotes/agenthub/internal/broker"
	"github.com/icotes/agenthub/internal/chat"
	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/pkg/protocol"
)

func newTestStack(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Workspace.Root = t.TempDir()
	cfg.Agents.Default = config.AgentSpec{Name: "Default", Framework: "simulated", Model: "sim-1"}

	bus := broker.New()
	agents := agentsvc.NewService(cfg, nil, bus)
	chatSvc, err := chat.NewService(cfg, agents, bus)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { chatSvc.Close() })
	return NewServer(cfg, chatSvc, agents, bus)
}

func dialTest(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	addr, start := StartTestServer(s, context.Background())
	go start()

	url := "ws://" + addr + "/ws"
	var conn *websocket.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

// readFrame decodes the next text frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestConnectPushesConfigAndAgentStatus(t *testing.T) {
	conn := dialTest(t, newTestStack(t))

	first := readFrame(t, conn)
	if first["type"] != protocol.FrameConfig {
		t.Fatalf("first frame type = %v", first["type"])
	}
	cfg, _ := first["config"].(map[string]interface{})
	if cfg["default_agent"] != "Default" {
		t.Errorf("config = %v", cfg)
	}
	if _, leaked := cfg["api_key"]; leaked {
		t.Error("config frame carries a secret-looking key")
	}

	second := readFrame(t, conn)
	if second["type"] != protocol.FrameAgentStatus {
		t.Errorf("second frame type = %v", second["type"])
	}
}

func TestMessageRoundTrip(t *testing.T) {
	conn := dialTest(t, newTestStack(t))

	// Skip the welcome frames.
	readFrame(t, conn)
	readFrame(t, conn)

	out, _ := json.Marshal(map[string]interface{}{
		"type":    protocol.FrameMessage,
		"content": "ping from the wire",
	})
	if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatal(err)
	}

	var sawUser, sawStart, sawEnd bool
	var streamed string
	for !sawEnd {
		f := readFrame(t, conn)
		switch f["type"] {
		case protocol.FrameMessage:
			msg, _ := f["message"].(map[string]interface{})
			if msg["sender"] == string(protocol.SenderUser) && msg["content"] == "ping from the wire" {
				sawUser = true
			}
		case protocol.FrameMessageStream:
			switch f["phase"] {
			case protocol.StreamStart:
				sawStart = true
			case protocol.StreamChunk:
				chunk, _ := f["chunk"].(string)
				streamed += chunk
			case protocol.StreamEnd:
				sawEnd = true
			}
		}
	}
	if !sawUser || !sawStart {
		t.Errorf("sawUser=%v sawStart=%v", sawUser, sawStart)
	}
	if streamed == "" {
		t.Error("no chunks streamed")
	}
}

func TestMalformedFrameGetsError(t *testing.T) {
	conn := dialTest(t, newTestStack(t))
	readFrame(t, conn)
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f["type"] != protocol.FrameError {
		t.Errorf("frame type = %v", f["type"])
	}
	if f["code"] != string(protocol.ErrInvalidArgument) {
		t.Errorf("code = %v", f["code"])
	}
}

func TestCheckOrigin(t *testing.T) {
	s := newTestStack(t)
	s.cfg.Gateway.AllowedOrigins = []string{"https://app.example.com"}

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		r, _ := http.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := s.checkOrigin(r); got != tc.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestStack(t)
	addr, start := StartTestServer(s, context.Background())
	go start()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
