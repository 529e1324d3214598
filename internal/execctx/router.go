// Package execctx routes filesystem and terminal operations to the active
// execution context: either the local workspace or a named remote hop.
// Tools never touch os/exec or the disk directly for user paths; they go
// through the router so that local and remote sessions behave identically.
package execctx

import (
	"context"
	"fmt"
	"sync"
)

// LocalContextID is the reserved id of the local context.
const LocalContextID = "local"

// SearchOptions tunes Filesystem.Search.
type SearchOptions struct {
	FileTypes    []string // extensions without dot, e.g. ["go","md"]
	MaxResults   int
	CaseSensitive bool
}

// SearchHit is one match from Filesystem.Search.
type SearchHit struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// DirEntry is one entry from ListDirectory.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Filesystem is the uniform file surface tools operate on. Paths are
// absolute within the owning context and are sandbox-checked by the
// implementation before any state change.
type Filesystem interface {
	Read(ctx context.Context, path string) (string, error)
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	CreateDirectory(ctx context.Context, path string) error
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error)
	ListDirectory(ctx context.Context, path string) ([]DirEntry, error)
}

// CommandResult is the outcome of Terminal.ExecuteCommand.
type CommandResult struct {
	Status    int    `json:"status"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	PID       int    `json:"pid"`
	ContextID string `json:"context_id"`
}

// Terminal executes shell commands inside a context.
type Terminal interface {
	ExecuteCommand(ctx context.Context, cmd string) (*CommandResult, error)
}

// Info describes a context for status reporting.
type Info struct {
	ContextID     string `json:"context_id"`
	Status        string `json:"status"`
	WorkspaceRoot string `json:"workspace_root"`
	Cwd           string `json:"cwd"`
}

// Hop is a named remote context whose filesystem and shell are routed
// transparently. The concrete transport (SSH or otherwise) lives outside
// the core; it registers here as a Filesystem + Terminal pair.
type Hop struct {
	ID            string
	WorkspaceRoot string
	Cwd           string
	FS            Filesystem
	Term          Terminal
}

// Router resolves "which filesystem / which shell" for the active session.
type Router struct {
	mu      sync.RWMutex
	current string
	local   *Hop
	hops    map[string]*Hop
}

// NewRouter creates a router rooted at the local workspace.
func NewRouter(workspaceRoot string) *Router {
	local := &Hop{
		ID:            LocalContextID,
		WorkspaceRoot: workspaceRoot,
		Cwd:           workspaceRoot,
		FS:            NewLocalFilesystem(workspaceRoot),
		Term:          NewLocalTerminal(workspaceRoot),
	}
	return &Router{
		current: LocalContextID,
		local:   local,
		hops:    map[string]*Hop{LocalContextID: local},
	}
}

// RegisterHop adds or replaces a remote hop. The reserved id "local" cannot
// be overridden.
func (r *Router) RegisterHop(h *Hop) error {
	if h.ID == "" || h.ID == LocalContextID {
		return fmt.Errorf("invalid hop id %q", h.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops[h.ID] = h
	return nil
}

// RemoveHop drops a remote hop. Switches back to local if it was active.
func (r *Router) RemoveHop(id string) {
	if id == LocalContextID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hops, id)
	if r.current == id {
		r.current = LocalContextID
	}
}

// SwitchContext makes the named context active for subsequent calls.
func (r *Router) SwitchContext(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hops[id]; !ok {
		return fmt.Errorf("unknown context %q", id)
	}
	r.current = id
	return nil
}

// CurrentID returns the active context id.
func (r *Router) CurrentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Router) active() *Hop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.hops[r.current]; ok {
		return h
	}
	return r.local
}

// Hop returns the named context, or the active one when id is empty.
func (r *Router) Hop(id string) (*Hop, bool) {
	if id == "" {
		return r.active(), true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hops[id]
	return h, ok
}

// GetFilesystem returns the active context's filesystem.
func (r *Router) GetFilesystem() Filesystem { return r.active().FS }

// GetTerminal returns the active context's terminal.
func (r *Router) GetTerminal() Terminal { return r.active().Term }

// GetContext reports the active context.
func (r *Router) GetContext() Info {
	h := r.active()
	status := "connected"
	return Info{ContextID: h.ID, Status: status, WorkspaceRoot: h.WorkspaceRoot, Cwd: h.Cwd}
}

// WorkspaceRoot returns the workspace root of the active context.
func (r *Router) WorkspaceRoot() string { return r.active().WorkspaceRoot }
