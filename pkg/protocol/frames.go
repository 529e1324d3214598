package protocol

import (
	"encoding/json"
	"time"
)

// Client → server frame types.
const (
	FrameMessage        = "message"
	FrameStopStreaming  = "stop_streaming"
	FrameGetHistory     = "get_history"
	FrameSessionsCreate = "sessions.create"
	FrameSessionsUpdate = "sessions.update"
	FrameSessionsDelete = "sessions.delete"
	FrameSessionsList   = "sessions.list"
)

// Server → client frame types.
const (
	FrameMessageStream = "message_stream"
	FrameTyping        = "typing"
	FrameStreamStopped = "stream_stopped"
	FrameAgentStatus   = "agent_status"
	FrameConfig        = "config"
	FrameHistory       = "history"
	FrameSessions      = "sessions"
	FrameError         = "error"
)

// Streaming phases within a message_stream frame.
const (
	StreamStart = "stream_start"
	StreamChunk = "stream_chunk"
	StreamEnd   = "stream_end"
)

// InboundFrame is a decoded client → server frame. Fields are populated
// according to Type; unused fields stay zero.
type InboundFrame struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Metadata  InboundMetadata `json:"metadata,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// InboundMetadata carries routing hints on a user message.
type InboundMetadata struct {
	SessionID   string       `json:"session_id,omitempty"`
	AgentType   string       `json:"agent_type,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ParseInbound decodes a raw client frame.
func ParseInbound(data []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// MessageFrame wraps a persisted message for delivery to clients.
type MessageFrame struct {
	Type    string  `json:"type"` // "message"
	Message Message `json:"message"`
}

func NewMessageFrame(m Message) *MessageFrame {
	return &MessageFrame{Type: FrameMessage, Message: m}
}

// StreamFrame is one leg of a streamed AI message:
// stream_start, stream_chunk or stream_end.
type StreamFrame struct {
	Type      string                 `json:"type"` // "message_stream"
	ID        string                 `json:"id"`   // logical message id
	Phase     string                 `json:"phase"`
	Chunk     string                 `json:"chunk,omitempty"`
	Sender    Sender                 `json:"sender"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agentId,omitempty"`
	AgentName string                 `json:"agentName,omitempty"`
	AgentType string                 `json:"agentType,omitempty"`
	SessionID string                 `json:"session_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TypingFrame signals agent activity on a session.
type TypingFrame struct {
	Type      string    `json:"type"` // "typing"
	SessionID string    `json:"session_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTypingFrame(sessionID string, typing bool) *TypingFrame {
	return &TypingFrame{Type: FrameTyping, SessionID: sessionID, IsTyping: typing, Timestamp: time.Now().UTC()}
}

// StreamStoppedFrame confirms a stop_streaming request.
type StreamStoppedFrame struct {
	Type      string    `json:"type"` // "stream_stopped"
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

func NewStreamStoppedFrame(sessionID, msg string) *StreamStoppedFrame {
	return &StreamStoppedFrame{Type: FrameStreamStopped, SessionID: sessionID, Timestamp: time.Now().UTC(), Message: msg}
}

// AgentInfo describes the agent currently serving a connection.
type AgentInfo struct {
	Available    bool     `json:"available"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
	AgentID      string   `json:"agent_id,omitempty"`
}

// AgentStatusFrame announces agent availability to a client.
type AgentStatusFrame struct {
	Type  string    `json:"type"` // "agent_status"
	Agent AgentInfo `json:"agent"`
}

// ConfigFrame pushes client-relevant configuration.
type ConfigFrame struct {
	Type      string                 `json:"type"` // "config"
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// HistoryFrame answers a get_history request.
type HistoryFrame struct {
	Type      string    `json:"type"` // "history"
	SessionID string    `json:"session_id,omitempty"`
	Messages  []Message `json:"messages"`
	Total     int       `json:"total"`
}

// SessionMeta is a lightweight session descriptor for sessions.list.
type SessionMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	MessageCount int       `json:"message_count"`
	LastMessage  time.Time `json:"last_message,omitempty"`
}

// SessionsFrame answers the sessions.* methods.
type SessionsFrame struct {
	Type      string        `json:"type"` // "sessions"
	SessionID string        `json:"session_id,omitempty"`
	Sessions  []SessionMeta `json:"sessions,omitempty"`
}

// ErrorFrame reports a request-level failure.
type ErrorFrame struct {
	Type          string    `json:"type"` // "error"
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewErrorFrame(code ErrorCode, msg string) *ErrorFrame {
	return &ErrorFrame{Type: FrameError, Code: code, Message: msg}
}
