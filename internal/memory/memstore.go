package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore keeps entries in process memory. It is the default backend and
// the one tests use.
type MemStore struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	byAgent   map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries:   make(map[string]Entry),
		byAgent:   make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

func (s *MemStore) Init(ctx context.Context) error { return nil }
func (s *MemStore) Close() error                   { return nil }

func (s *MemStore) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[e.ID]; ok {
		s.unindexLocked(old)
	}
	s.entries[e.ID] = e
	if e.AgentID != "" {
		if s.byAgent[e.AgentID] == nil {
			s.byAgent[e.AgentID] = make(map[string]struct{})
		}
		s.byAgent[e.AgentID][e.ID] = struct{}{}
	}
	if e.SessionID != "" {
		if s.bySession[e.SessionID] == nil {
			s.bySession[e.SessionID] = make(map[string]struct{})
		}
		s.bySession[e.SessionID][e.ID] = struct{}{}
	}
	return nil
}

func (s *MemStore) unindexLocked(e Entry) {
	delete(s.byAgent[e.AgentID], e.ID)
	delete(s.bySession[e.SessionID], e.ID)
}

func (s *MemStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("memory entry %s not found", id)
	}
	return &e, nil
}

func (s *MemStore) ByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byAgent[agentID]), nil
}

func (s *MemStore) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySession[sessionID]), nil
}

// collectLocked returns indexed entries ordered oldest first.
func (s *MemStore) collectLocked(ids map[string]struct{}) []Entry {
	out := make([]Entry, 0, len(ids))
	for id := range ids {
		out = append(out, s.entries[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory entry %s not found", id)
	}
	s.unindexLocked(e)
	delete(s.entries, id)
	return nil
}

func (s *MemStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory entry %s not found", id)
	}
	e.AccessCount++
	e.LastAccessed = at
	s.entries[id] = e
	return nil
}

func (s *MemStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			s.unindexLocked(e)
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
