package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/icotes/agenthub/pkg/protocol"
)

func msg(session, id, content string) protocol.Message {
	return protocol.Message{
		ID: id, SessionID: session, Sender: protocol.SenderUser,
		Kind: protocol.KindMessage, Content: content, Timestamp: time.Now().UTC(),
	}
}

func TestBufferedAppendFlushesOnce(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, true, time.Hour) // flusher effectively off
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Append(msg("s1", "m1", "hello")); err != nil {
		t.Fatal(err)
	}

	// Not on disk until a flush.
	if _, err := os.Stat(filepath.Join(dir, "s1.jsonl")); err == nil {
		t.Error("log file written before flush")
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), `"m1"`); got != 1 {
		t.Errorf("message appears %d times, want 1", got)
	}
}

func TestUnbufferedAppendHitsDisk(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.Append(msg("s1", "m1", "hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.jsonl")); err != nil {
		t.Errorf("log missing after unbuffered append: %v", err)
	}
}

func TestFlushPreservesInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := p.Append(msg("s1", id, id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh persister reloads from disk in the same order.
	p2, err := NewPersister(dir, true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	msgs, err := p2.Messages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].ID != "a" || msgs[2].ID != "c" {
		t.Errorf("order = %+v", msgs)
	}
}

func TestPeriodicFlusher(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, true, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.Append(msg("s1", "m1", "hello")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "s1.jsonl")); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("flusher never wrote the log")
}

func TestReadSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	raw := `{"id":"ok1","session_id":"s1","sender":"user","kind":"message","content":"hi","timestamp":"2026-08-24T10:00:00Z"}
not json at all
{"id":"ok2","session_id":"s1","sender":"user","kind":"message","content":"bye","timestamp":"2026-08-24T10:01:00Z"}
`
	if err := os.WriteFile(filepath.Join(dir, "s1.jsonl"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := NewPersister(dir, true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	msgs, err := p.Messages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "ok1" || msgs[1].ID != "ok2" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestDropRemovesLog(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.Append(msg("s1", "m1", "x")); err != nil {
		t.Fatal(err)
	}
	if err := p.Drop("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.jsonl")); !os.IsNotExist(err) {
		t.Error("log survived Drop")
	}
	msgs, err := p.Messages("s1")
	if err != nil || len(msgs) != 0 {
		t.Errorf("dropped session still has messages: %v %v", msgs, err)
	}
}
