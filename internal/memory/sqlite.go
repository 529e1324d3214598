package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries to a local SQLite file. Timestamps are stored
// as unix nanoseconds so ordering survives the round trip.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		kind TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		importance REAL NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("init memories table: %w", err)
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init memories index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories
		(id, content, kind, agent_id, session_id, importance, timestamp, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, kind=excluded.kind, agent_id=excluded.agent_id,
			session_id=excluded.session_id, importance=excluded.importance,
			timestamp=excluded.timestamp, access_count=excluded.access_count,
			last_accessed=excluded.last_accessed`,
		e.ID, e.Content, string(e.Kind), e.AgentID, e.SessionID, e.Importance,
		e.Timestamp.UnixNano(), e.AccessCount, lastAccessedNano(e.LastAccessed))
	if err != nil {
		return fmt.Errorf("put memory %s: %w", e.ID, err)
	}
	return nil
}

func lastAccessedNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

const entryColumns = `id, content, kind, agent_id, session_id, importance, timestamp, access_count, last_accessed`

func scanEntry(row interface{ Scan(...interface{}) error }) (Entry, error) {
	var e Entry
	var kind string
	var ts, la int64
	err := row.Scan(&e.ID, &e.Content, &kind, &e.AgentID, &e.SessionID,
		&e.Importance, &ts, &e.AccessCount, &la)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Timestamp = time.Unix(0, ts)
	if la != 0 {
		e.LastAccessed = time.Unix(0, la)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM memories WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return &e, nil
}

func (s *SQLiteStore) ByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM memories WHERE agent_id = ? ORDER BY timestamp, id`, agentID)
}

func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM memories WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory entry %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory entry %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cleanup memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
