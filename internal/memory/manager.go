package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icotes/agenthub/internal/config"
)

// Policy selects which entries are evicted when a session exceeds its cap.
type Policy string

const (
	PolicyFIFO       Policy = "fifo"       // oldest first
	PolicyImportance Policy = "importance" // least important first
	PolicyRecency    Policy = "recency"    // least recently accessed first
)

const defaultMaxContextLength = 100

// SharedContext grants a set of agents visibility into a shared pool of
// entries.
type SharedContext struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Visibility []string `json:"visibility"` // agent ids allowed to read
	EntryIDs   []string `json:"entry_ids"`
}

func (c *SharedContext) visibleTo(agentID string) bool {
	for _, id := range c.Visibility {
		if id == agentID {
			return true
		}
	}
	return false
}

// Manager enforces retention on top of a Store and owns shared contexts.
type Manager struct {
	store     Store
	maxLength int
	policy    Policy

	mu     sync.RWMutex
	shared map[string]*SharedContext
}

// NewManager builds a manager from config. An empty backend selects the
// in-memory store.
func NewManager(cfg config.MemoryConfig) (*Manager, error) {
	var store Store
	switch cfg.Backend {
	case "", "memory":
		store = NewMemStore()
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
	return NewManagerWithStore(store, cfg), nil
}

func NewManagerWithStore(store Store, cfg config.MemoryConfig) *Manager {
	maxLength := cfg.MaxContextLength
	if maxLength <= 0 {
		maxLength = defaultMaxContextLength
	}
	policy := Policy(cfg.RetentionPolicy)
	if policy == "" {
		policy = PolicyFIFO
	}
	return &Manager{
		store:     store,
		maxLength: maxLength,
		policy:    policy,
		shared:    make(map[string]*SharedContext),
	}
}

func (m *Manager) Init(ctx context.Context) error { return m.store.Init(ctx) }
func (m *Manager) Close() error                   { return m.store.Close() }

// Store inserts an entry, filling id and timestamp when absent, then
// applies the session retention policy.
func (m *Manager) Store(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Kind == "" {
		e.Kind = KindEpisodic
	}
	if err := m.store.Put(ctx, e); err != nil {
		return Entry{}, err
	}
	if e.SessionID != "" {
		if err := m.retain(ctx, e.SessionID); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// retain evicts the lowest-priority session entries over the cap.
func (m *Manager) retain(ctx context.Context, sessionID string) error {
	entries, err := m.store.BySession(ctx, sessionID)
	if err != nil {
		return err
	}
	excess := len(entries) - m.maxLength
	if excess <= 0 {
		return nil
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return m.evictsBefore(entries[i], entries[j])
	})
	for _, victim := range entries[:excess] {
		if err := m.store.Delete(ctx, victim.ID); err != nil {
			return fmt.Errorf("retention eviction: %w", err)
		}
	}
	return nil
}

// evictsBefore orders entries from first-evicted to last-evicted.
func (m *Manager) evictsBefore(a, b Entry) bool {
	switch m.policy {
	case PolicyImportance:
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		return a.Timestamp.Before(b.Timestamp)
	case PolicyRecency:
		return accessTime(a).Before(accessTime(b))
	default: // FIFO
		return a.Timestamp.Before(b.Timestamp)
	}
}

// accessTime is when the entry was last useful.
func accessTime(e Entry) time.Time {
	if !e.LastAccessed.IsZero() {
		return e.LastAccessed
	}
	return e.Timestamp
}

// Retrieve returns one entry and records the access.
func (m *Manager) Retrieve(ctx context.Context, id string) (*Entry, error) {
	e, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Touch(ctx, id, time.Now()); err != nil {
		return nil, err
	}
	e.AccessCount++
	e.LastAccessed = time.Now()
	return e, nil
}

// ForAgent returns an agent's entries oldest first, without recording
// accesses.
func (m *Manager) ForAgent(ctx context.Context, agentID string) ([]Entry, error) {
	return m.store.ByAgent(ctx, agentID)
}

// ForSession returns a session's entries oldest first.
func (m *Manager) ForSession(ctx context.Context, sessionID string) ([]Entry, error) {
	return m.store.BySession(ctx, sessionID)
}

// Delete removes one entry.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// CleanupExpired deletes entries older than retentionDays and returns how
// many were removed.
func (m *Manager) CleanupExpired(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return m.store.DeleteBefore(ctx, cutoff)
}

// CreateSharedContext opens a shared pool visible to the listed agents.
func (m *Manager) CreateSharedContext(name string, visibility []string) *SharedContext {
	sc := &SharedContext{
		ID:         uuid.NewString(),
		Name:       name,
		Visibility: append([]string(nil), visibility...),
	}
	m.mu.Lock()
	m.shared[sc.ID] = sc
	m.mu.Unlock()
	return sc
}

// ShareEntry adds an existing entry to a shared context.
func (m *Manager) ShareEntry(ctx context.Context, contextID, entryID string) error {
	if _, err := m.store.Get(ctx, entryID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.shared[contextID]
	if !ok {
		return fmt.Errorf("shared context %s not found", contextID)
	}
	for _, id := range sc.EntryIDs {
		if id == entryID {
			return nil
		}
	}
	sc.EntryIDs = append(sc.EntryIDs, entryID)
	return nil
}

// VisibleEntries returns the agent's own entries plus entries shared with
// it, oldest first, deduplicated by id.
func (m *Manager) VisibleEntries(ctx context.Context, agentID string) ([]Entry, error) {
	own, err := m.store.ByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(own))
	for _, e := range own {
		seen[e.ID] = true
	}

	m.mu.RLock()
	var sharedIDs []string
	for _, sc := range m.shared {
		if !sc.visibleTo(agentID) {
			continue
		}
		sharedIDs = append(sharedIDs, sc.EntryIDs...)
	}
	m.mu.RUnlock()

	out := own
	for _, id := range sharedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, err := m.store.Get(ctx, id)
		if err != nil {
			// Shared reference to a since-evicted entry.
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
