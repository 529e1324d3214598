// Package chat implements the session and streaming layer: JSONL message
// persistence through a buffered persister, session CRUD, attachment
// normalization, and the stream_start/chunk/end multiplexer that connects
// agent runs to transport connections.
package chat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/icotes/agenthub/pkg/protocol"
)

const defaultFlushInterval = 250 * time.Millisecond

// sessionLog is one session's full message list held in memory. dirty marks
// logs with appends not yet on disk.
type sessionLog struct {
	messages []protocol.Message
	dirty    bool
}

// Persister owns the chat_history JSONL files. With buffering on (the
// default), appends land in memory and a periodic flusher rewrites dirty
// logs; Close flushes synchronously. With buffering off every append hits
// disk immediately.
type Persister struct {
	dir      string
	buffered bool
	interval time.Duration

	mu   sync.Mutex
	logs map[string]*sessionLog

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPersister(dir string, buffered bool, flushInterval time.Duration) (*Persister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chat history dir: %w", err)
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	p := &Persister{
		dir:      dir,
		buffered: buffered,
		interval: flushInterval,
		logs:     make(map[string]*sessionLog),
		done:     make(chan struct{}),
	}
	if buffered {
		p.wg.Add(1)
		go p.flushLoop()
	}
	return p, nil
}

func (p *Persister) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.Flush(); err != nil {
				slog.Error("chat: periodic flush failed", "error", err)
			}
		}
	}
}

func (p *Persister) logPath(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".jsonl")
}

// Append stores a message at the end of its session log.
func (p *Persister) Append(msg protocol.Message) error {
	p.mu.Lock()
	log, err := p.loadLocked(msg.SessionID)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	log.messages = append(log.messages, msg)
	log.dirty = true
	p.mu.Unlock()

	if !p.buffered {
		return p.Flush()
	}
	return nil
}

// Messages returns a copy of a session's log in insertion order.
func (p *Persister) Messages(sessionID string) ([]protocol.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log, err := p.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, len(log.messages))
	copy(out, log.messages)
	return out, nil
}

// loadLocked pulls a session log into memory on first touch.
func (p *Persister) loadLocked(sessionID string) (*sessionLog, error) {
	if log, ok := p.logs[sessionID]; ok {
		return log, nil
	}
	log := &sessionLog{}
	msgs, err := readJSONL(p.logPath(sessionID))
	if err != nil {
		return nil, err
	}
	log.messages = msgs
	p.logs[sessionID] = log
	return log, nil
}

// Flush rewrites every dirty session log to its file in one pass. Appends
// racing with the flush stay dirty for the next one.
func (p *Persister) Flush() error {
	p.mu.Lock()
	dirty := make(map[string][]protocol.Message)
	for id, log := range p.logs {
		if log.dirty {
			msgs := make([]protocol.Message, len(log.messages))
			copy(msgs, log.messages)
			dirty[id] = msgs
			log.dirty = false
		}
	}
	p.mu.Unlock()

	for id, msgs := range dirty {
		if err := writeJSONL(p.logPath(id), msgs); err != nil {
			p.mu.Lock()
			if log, ok := p.logs[id]; ok {
				log.dirty = true
			}
			p.mu.Unlock()
			return fmt.Errorf("flush session %s: %w", id, err)
		}
	}
	return nil
}

// Drop removes a session's log from memory and disk.
func (p *Persister) Drop(sessionID string) error {
	p.mu.Lock()
	delete(p.logs, sessionID)
	p.mu.Unlock()
	if err := os.Remove(p.logPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session log: %w", err)
	}
	return nil
}

// Close stops the flusher and flushes synchronously. Mandatory on shutdown.
func (p *Persister) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return p.Flush()
}

func readJSONL(path string) ([]protocol.Message, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var msgs []protocol.Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m protocol.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			slog.Warn("chat: skipping corrupt history line", "file", path, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, sc.Err()
}

// writeJSONL replaces the file atomically so a crash mid-flush never
// truncates history.
func writeJSONL(path string, msgs []protocol.Message) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
