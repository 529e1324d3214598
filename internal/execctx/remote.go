package execctx

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ShellFilesystem implements Filesystem on top of a Terminal, so any remote
// hop that can run shell commands gets file operations for free. Containment
// is checked lexically against the hop's workspace root; the remote side
// cannot be EvalSymlink'd from here.
type ShellFilesystem struct {
	term      Terminal
	workspace string
	contextID string
}

func NewShellFilesystem(term Terminal, workspace, contextID string) *ShellFilesystem {
	return &ShellFilesystem{term: term, workspace: workspace, contextID: contextID}
}

func (s *ShellFilesystem) resolve(p string) (string, error) {
	if !path.IsAbs(p) {
		p = path.Join(s.workspace, p)
	}
	clean := path.Clean(p)
	if !isPathInside(clean, s.workspace) {
		return "", ErrOutsideWorkspace
	}
	return clean, nil
}

func (s *ShellFilesystem) run(ctx context.Context, cmd string) (*CommandResult, error) {
	res, err := s.term.ExecuteCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.Status != 0 {
		return res, fmt.Errorf("remote command failed (status %d): %s", res.Status, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

func (s *ShellFilesystem) Read(ctx context.Context, p string) (string, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	res, err := s.run(ctx, "cat "+shellQuote(resolved))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (s *ShellFilesystem) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, "base64 "+shellQuote(resolved))
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(strings.Map(dropSpace, res.Stdout))
}

func (s *ShellFilesystem) Write(ctx context.Context, p string, data []byte) error {
	resolved, err := s.resolve(p)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	_, err = s.run(ctx, fmt.Sprintf("printf %%s %s | base64 -d > %s", shellQuote(encoded), shellQuote(resolved)))
	return err
}

func (s *ShellFilesystem) CreateDirectory(ctx context.Context, p string) error {
	resolved, err := s.resolve(p)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, "mkdir -p "+shellQuote(resolved))
	return err
}

func (s *ShellFilesystem) ListDirectory(ctx context.Context, p string) ([]DirEntry, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	// One line per entry: "<d|f> <size> <name>"
	cmd := fmt.Sprintf(
		`find %s -mindepth 1 -maxdepth 1 -printf '%%y %%s %%f\n'`, shellQuote(resolved))
	res, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			continue
		}
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		entries = append(entries, DirEntry{Name: parts[2], IsDir: parts[0] == "d", Size: size})
	}
	return entries, nil
}

// Search runs the remote search tier: rg, then grep, then find by name.
func (s *ShellFilesystem) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	q := shellQuote(query)
	ws := shellQuote(s.workspace)
	tiers := []string{
		fmt.Sprintf("rg -n --no-heading -F %s %s | head -n %d", q, ws, maxResults),
		fmt.Sprintf("grep -rn -F %s %s | head -n %d", q, ws, maxResults),
		fmt.Sprintf("find %s -name %s | head -n %d", ws, shellQuote("*"+query+"*"), maxResults),
	}
	for i, cmd := range tiers {
		res, err := s.run(ctx, cmd)
		if err != nil {
			continue
		}
		hits := parseGrepOutput(res.Stdout, i == 2)
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, nil
}

func parseGrepOutput(out string, namesOnly bool) []SearchHit {
	var hits []SearchHit
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		if namesOnly {
			hits = append(hits, SearchHit{File: line})
			continue
		}
		// file:line:snippet
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{File: parts[0], Line: n, Snippet: strings.TrimSpace(parts[2])})
	}
	return hits
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\n', '\r', '\t':
		return -1
	}
	return r
}

// shellQuote single-quotes s for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
