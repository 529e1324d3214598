package execctx

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const localExecTimeout = 60 * time.Second

// LocalFilesystem implements Filesystem against the host disk, sandboxed to
// a workspace root.
type LocalFilesystem struct {
	workspace string
}

func NewLocalFilesystem(workspace string) *LocalFilesystem {
	return &LocalFilesystem{workspace: workspace}
}

func (l *LocalFilesystem) resolve(path string) (string, error) {
	return ResolveWithinWorkspace(path, l.workspace)
}

func (l *LocalFilesystem) Read(ctx context.Context, path string) (string, error) {
	data, err := l.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *LocalFilesystem) ReadBinary(_ context.Context, path string) ([]byte, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(resolved), err)
	}
	return data, nil
}

func (l *LocalFilesystem) Write(_ context.Context, path string, data []byte) error {
	resolved, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(resolved, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(resolved), err)
	}
	return nil
}

func (l *LocalFilesystem) CreateDirectory(_ context.Context, path string) error {
	resolved, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Base(resolved), err)
	}
	return nil
}

func (l *LocalFilesystem) ListDirectory(_ context.Context, path string) ([]DirEntry, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", filepath.Base(resolved), err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}

// Search walks the workspace matching query as a substring in file content.
// The semantic_search tool prefers ripgrep; this is the in-process fallback.
func (l *LocalFilesystem) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	needle := query
	if !opts.CaseSensitive {
		needle = strings.ToLower(query)
	}

	var hits []SearchHit
	err := filepath.WalkDir(l.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(hits) >= maxResults {
			return filepath.SkipAll
		}
		if len(opts.FileTypes) > 0 && !matchesFileType(path, opts.FileTypes) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil // skip unreadable and binary files
		}
		for i, line := range strings.Split(string(data), "\n") {
			hay := line
			if !opts.CaseSensitive {
				hay = strings.ToLower(line)
			}
			if strings.Contains(hay, needle) {
				hits = append(hits, SearchHit{File: path, Line: i + 1, Snippet: strings.TrimSpace(line)})
				if len(hits) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return hits, err
	}
	return hits, nil
}

func matchesFileType(path string, types []string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, t := range types {
		if strings.EqualFold(ext, strings.TrimPrefix(t, ".")) {
			return true
		}
	}
	return false
}

// LocalTerminal runs commands through sh -c in the workspace.
type LocalTerminal struct {
	workspace string
	timeout   time.Duration
}

func NewLocalTerminal(workspace string) *LocalTerminal {
	return &LocalTerminal{workspace: workspace, timeout: localExecTimeout}
}

func (l *LocalTerminal) ExecuteCommand(ctx context.Context, command string) (*CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = l.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := &CommandResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ContextID: LocalContextID,
	}
	if cmd.Process != nil {
		res.PID = cmd.Process.Pid
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %s", l.timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.Status = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}
