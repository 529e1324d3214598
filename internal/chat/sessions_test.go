package chat

import (
	"testing"
	"time"

	"github.com/icotes/agenthub/pkg/protocol"
)

func newTestSessions(t *testing.T) (*Sessions, *Persister) {
	t.Helper()
	dir := t.TempDir()
	p, err := NewPersister(dir, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return NewSessions(dir, p), p
}

func TestSessionCreateAndList(t *testing.T) {
	s, p := newTestSessions(t)
	id, err := s.Create("planning")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	metas, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 || metas[0].ID != id || metas[0].Name != "planning" {
		t.Fatalf("metas = %+v", metas)
	}
	if metas[0].MessageCount != 0 {
		t.Errorf("fresh session has %d messages", metas[0].MessageCount)
	}

	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if err := p.Append(protocol.Message{ID: "m1", SessionID: id, Sender: protocol.SenderUser, Kind: protocol.KindMessage, Content: "hi", Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	metas, _ = s.List()
	if metas[0].MessageCount != 1 || !metas[0].LastMessage.Equal(ts) {
		t.Errorf("meta after message = %+v", metas[0])
	}
}

func TestSessionUpdateRename(t *testing.T) {
	s, _ := newTestSessions(t)
	id, _ := s.Create("")
	if err := s.Update(id, "renamed"); err != nil {
		t.Fatal(err)
	}
	metas, _ := s.List()
	if metas[0].Name != "renamed" {
		t.Errorf("name = %q", metas[0].Name)
	}
}

func TestSessionDelete(t *testing.T) {
	s, _ := newTestSessions(t)
	id, _ := s.Create("doomed")
	if err := s.Delete(id); err != nil {
		t.Fatal(err)
	}
	metas, _ := s.List()
	if len(metas) != 0 {
		t.Errorf("deleted session still listed: %+v", metas)
	}
}

func TestHistoryPagination(t *testing.T) {
	s, p := newTestSessions(t)
	id, _ := s.Create("")
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p.Append(protocol.Message{
			ID: string(rune('a' + i)), SessionID: id, Sender: protocol.SenderUser,
			Kind: protocol.KindMessage, Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	msgs, total, err := s.History(id, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(msgs) != 2 || msgs[0].ID != "b" || msgs[1].ID != "c" {
		t.Errorf("total=%d msgs=%+v", total, msgs)
	}

	// Offset past the end yields empty, not an error.
	msgs, total, err = s.History(id, 10, 99)
	if err != nil || total != 5 || len(msgs) != 0 {
		t.Errorf("past-end: total=%d msgs=%v err=%v", total, msgs, err)
	}
}

func TestHistoryMergesAllSessions(t *testing.T) {
	s, p := newTestSessions(t)
	a, _ := s.Create("")
	b, _ := s.Create("")
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p.Append(protocol.Message{ID: "late", SessionID: a, Kind: protocol.KindMessage, Timestamp: base.Add(time.Hour)})
	p.Append(protocol.Message{ID: "early", SessionID: b, Kind: protocol.KindMessage, Timestamp: base})

	msgs, total, err := s.History("", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || msgs[0].ID != "early" || msgs[1].ID != "late" {
		t.Errorf("merged = %+v", msgs)
	}
}
