// Package memory implements the context manager: per-agent and per-session
// memory entries with retention policies, shared cross-agent contexts, and
// pluggable storage backends (in-memory and SQLite).
package memory

import (
	"context"
	"time"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
)

// Entry is one stored memory.
type Entry struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Kind         Kind      `json:"kind"`
	AgentID      string    `json:"agent_id"`
	SessionID    string    `json:"session_id"`
	Importance   float64   `json:"importance"`
	Timestamp    time.Time `json:"timestamp"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
}

// Store is the storage backend contract. Implementations index entries by
// agent and by session.
type Store interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	ByAgent(ctx context.Context, agentID string) ([]Entry, error)
	BySession(ctx context.Context, sessionID string) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	// Touch bumps access_count and last_accessed for a retrieval.
	Touch(ctx context.Context, id string, at time.Time) error
	// DeleteBefore removes entries whose timestamp predates the cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
