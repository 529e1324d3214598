package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/icotes/agenthub/internal/config"
)

func newTestManager(t *testing.T, cfg config.MemoryConfig) *Manager {
	t.Helper()
	m := NewManagerWithStore(NewMemStore(), cfg)
	if err := m.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func storeN(t *testing.T, m *Manager, session string, n int) []Entry {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		e, err := m.Store(context.Background(), Entry{
			Content:    fmt.Sprintf("entry %d", i),
			AgentID:    "a1",
			SessionID:  session,
			Importance: float64(i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
		entries[i] = e
	}
	return entries
}

func TestStoreFillsDefaults(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{})
	e, err := m.Store(context.Background(), Entry{Content: "x", AgentID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.Timestamp.IsZero() || e.Kind != KindEpisodic {
		t.Errorf("defaults not filled: %+v", e)
	}
}

func TestRetentionFIFO(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{MaxContextLength: 3, RetentionPolicy: "fifo"})
	entries := storeN(t, m, "s1", 5)

	got, err := m.ForSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("session holds %d entries, want 3", len(got))
	}
	// Oldest two evicted.
	if got[0].ID != entries[2].ID || got[2].ID != entries[4].ID {
		t.Errorf("kept = %v %v %v", got[0].Content, got[1].Content, got[2].Content)
	}
}

func TestRetentionImportance(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{MaxContextLength: 2, RetentionPolicy: "importance"})
	base := time.Now()
	for i, imp := range []float64{0.9, 0.1, 0.5} {
		if _, err := m.Store(context.Background(), Entry{
			Content: fmt.Sprintf("imp %v", imp), SessionID: "s1",
			Importance: imp, Timestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := m.ForSession(context.Background(), "s1")
	if len(got) != 2 {
		t.Fatalf("kept %d entries", len(got))
	}
	for _, e := range got {
		if e.Importance == 0.1 {
			t.Error("lowest-importance entry survived")
		}
	}
}

func TestRetentionRecency(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{MaxContextLength: 2, RetentionPolicy: "recency"})
	entries := storeN(t, m, "s1", 2)

	// Access the older entry so the newer-but-unread one is evicted next.
	if _, err := m.Retrieve(context.Background(), entries[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(context.Background(), Entry{Content: "third", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.ForSession(context.Background(), "s1")
	for _, e := range got {
		if e.ID == entries[1].ID {
			t.Error("least-recently-accessed entry survived")
		}
	}
}

func TestRetrieveBumpsAccess(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{})
	e, _ := m.Store(context.Background(), Entry{Content: "x", AgentID: "a1"})

	got, err := m.Retrieve(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 1 || got.LastAccessed.IsZero() {
		t.Errorf("access not recorded: %+v", got)
	}
	again, _ := m.Retrieve(context.Background(), e.ID)
	if again.AccessCount != 2 {
		t.Errorf("access_count = %d, want 2", again.AccessCount)
	}
}

func TestCleanupExpired(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{})
	old := Entry{Content: "old", AgentID: "a1", Timestamp: time.Now().AddDate(0, 0, -10)}
	fresh := Entry{Content: "fresh", AgentID: "a1"}
	if _, err := m.Store(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	n, err := m.CleanupExpired(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	left, _ := m.ForAgent(context.Background(), "a1")
	if len(left) != 1 || left[0].Content != "fresh" {
		t.Errorf("remaining = %+v", left)
	}
}

func TestSharedContextVisibility(t *testing.T) {
	m := newTestManager(t, config.MemoryConfig{})
	e, _ := m.Store(context.Background(), Entry{Content: "shared note", AgentID: "owner"})

	sc := m.CreateSharedContext("team", []string{"reader"})
	if err := m.ShareEntry(context.Background(), sc.ID, e.ID); err != nil {
		t.Fatal(err)
	}

	visible, err := m.VisibleEntries(context.Background(), "reader")
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != e.ID {
		t.Errorf("reader sees %+v", visible)
	}
	// An agent outside the visibility list sees nothing.
	hidden, _ := m.VisibleEntries(context.Background(), "outsider")
	if len(hidden) != 0 {
		t.Errorf("outsider sees %+v", hidden)
	}
	// The owner's own entries are not duplicated by sharing.
	sc2 := m.CreateSharedContext("self", []string{"owner"})
	if err := m.ShareEntry(context.Background(), sc2.ID, e.ID); err != nil {
		t.Fatal(err)
	}
	own, _ := m.VisibleEntries(context.Background(), "owner")
	if len(own) != 1 {
		t.Errorf("owner sees %d entries, want 1", len(own))
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	e := Entry{
		ID: "m1", Content: "remember this", Kind: KindSemantic,
		AgentID: "a1", SessionID: "s1", Importance: 0.7,
		Timestamp: time.Now().Truncate(time.Microsecond),
	}
	if err := store.Put(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != e.Content || got.Kind != e.Kind || got.Importance != e.Importance {
		t.Errorf("got %+v", got)
	}
	if !got.Timestamp.Equal(e.Timestamp) {
		t.Errorf("timestamp %v != %v", got.Timestamp, e.Timestamp)
	}

	if err := store.Touch(context.Background(), "m1", time.Now()); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Get(context.Background(), "m1")
	if got.AccessCount != 1 || got.LastAccessed.IsZero() {
		t.Errorf("touch not persisted: %+v", got)
	}

	bySession, err := store.BySession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bySession) != 1 {
		t.Errorf("session index = %+v", bySession)
	}

	if err := store.Delete(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), "m1"); err == nil {
		t.Error("deleted entry still readable")
	}
	if err := store.Delete(context.Background(), "m1"); err == nil {
		t.Error("double delete succeeded")
	}
}

func TestSQLiteDeleteBefore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i, ts := range []time.Time{now.Add(-48 * time.Hour), now.Add(-1 * time.Hour), now} {
		if err := store.Put(context.Background(), Entry{ID: fmt.Sprintf("m%d", i), Content: "x", Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.DeleteBefore(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
}
