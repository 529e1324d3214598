package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/icotes/agenthub/pkg/protocol"
)

// sessionSidecar is the optional <id>.meta.json next to a session log.
type sessionSidecar struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Sessions provides CRUD and history retrieval over the persister's logs.
type Sessions struct {
	dir       string
	persister *Persister
}

func NewSessions(dir string, persister *Persister) *Sessions {
	return &Sessions{dir: dir, persister: persister}
}

func (s *Sessions) metaPath(id string) string {
	return filepath.Join(s.dir, id+".meta.json")
}

// Create opens a new session and returns its id. The log file exists from
// creation so listings include empty sessions.
func (s *Sessions) Create(name string) (string, error) {
	id := uuid.NewString()
	if err := writeJSONL(filepath.Join(s.dir, id+".jsonl"), nil); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if name != "" {
		if err := s.Update(id, name); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Update names a session via its sidecar file.
func (s *Sessions) Update(id, name string) error {
	data, err := json.Marshal(sessionSidecar{ID: id, Name: name})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.metaPath(id), data, 0644); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	return nil
}

// Delete removes the session log and its sidecar.
func (s *Sessions) Delete(id string) error {
	if err := s.persister.Drop(id); err != nil {
		return err
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session meta: %w", err)
	}
	return nil
}

// List aggregates every JSONL log in the chat history directory, newest
// last message first; sessions that never received one sort last.
func (s *Sessions) List() ([]protocol.SessionMeta, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var metas []protocol.SessionMeta
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		msgs, err := s.persister.Messages(id)
		if err != nil {
			return nil, err
		}
		meta := protocol.SessionMeta{ID: id, MessageCount: len(msgs)}
		if n := len(msgs); n > 0 {
			meta.LastMessage = msgs[n-1].Timestamp
		}
		if sidecar := s.readSidecar(id); sidecar != nil {
			meta.Name = sidecar.Name
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastMessage.After(metas[j].LastMessage)
	})
	return metas, nil
}

func (s *Sessions) readSidecar(id string) *sessionSidecar {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil
	}
	var sc sessionSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil
	}
	return &sc
}

// History returns messages sorted ascending by timestamp with
// [offset, offset+limit) applied. An empty sessionID merges all sessions.
func (s *Sessions) History(sessionID string, limit, offset int) ([]protocol.Message, int, error) {
	var msgs []protocol.Message
	if sessionID != "" {
		var err error
		msgs, err = s.persister.Messages(sessionID)
		if err != nil {
			return nil, 0, err
		}
	} else {
		metas, err := s.List()
		if err != nil {
			return nil, 0, err
		}
		for _, meta := range metas {
			part, err := s.persister.Messages(meta.ID)
			if err != nil {
				return nil, 0, err
			}
			msgs = append(msgs, part...)
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	total := len(msgs)

	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return msgs[offset:end], total, nil
}
