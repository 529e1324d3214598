// Package protocol defines the JSON wire shapes exchanged between the
// gateway and its WebSocket clients, plus the message record persisted to
// the per-session JSONL logs.
package protocol

import "time"

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 3

// Sender identifies the origin of a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// MessageKind classifies a chat message.
type MessageKind string

const (
	KindMessage MessageKind = "message"
	KindStatus  MessageKind = "status"
	KindError   MessageKind = "error"
	KindTyping  MessageKind = "typing"
)

// AttachmentKind buckets attachments by media-store subdirectory.
type AttachmentKind string

const (
	AttachImages AttachmentKind = "images"
	AttachAudio  AttachmentKind = "audio"
	AttachFiles  AttachmentKind = "files"
)

// Attachment is a normalized file reference carried on a message.
type Attachment struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	MimeType     string         `json:"mime_type"`
	SizeBytes    int64          `json:"size_bytes"`
	RelativePath string         `json:"relative_path"`
	AbsolutePath string         `json:"absolute_path,omitempty"`
	Kind         AttachmentKind `json:"kind"`
	URL          string         `json:"url,omitempty"`
}

// Message is an immutable chat record. One per line in the session JSONL.
type Message struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Sender      Sender                 `json:"sender"`
	Kind        MessageKind            `json:"kind"`
	Content     string                 `json:"content"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
}
