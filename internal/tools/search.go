package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// SemanticSearchTool searches workspace content and filenames. Locally it
// shells out to ripgrep with a tiered fallback that trades precision for
// recall; on remote contexts it delegates to the hop's filesystem search.
type SemanticSearchTool struct {
	router *execctx.Router
}

func NewSemanticSearchTool(router *execctx.Router) *SemanticSearchTool {
	return &SemanticSearchTool{router: router}
}

func (t *SemanticSearchTool) Name() string { return "semantic_search" }

func (t *SemanticSearchTool) Description() string {
	return "Search for code or files. Modes: smart (tiered relevance), content (literal), filename, regex."
}

func (t *SemanticSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"scope": map[string]interface{}{
				"type":        "string",
				"description": "Subdirectory to search, relative to the root.",
			},
			"fileTypes": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Extensions without dot, e.g. [\"go\",\"md\"].",
			},
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []string{"smart", "content", "filename", "regex"},
			},
			"contextLines": map[string]interface{}{"type": "integer", "minimum": 0.0},
			"maxResults":   map[string]interface{}{"type": "integer", "minimum": 1.0},
			"root": map[string]interface{}{
				"type": "string",
				"enum": []string{"workspace", "repo"},
			},
		},
		"required": []string{"query"},
	}
}

type searchResult struct {
	File     string                 `json:"file"`
	Line     int                    `json:"line,omitempty"`
	Snippet  string                 `json:"snippet,omitempty"`
	FilePath string                 `json:"filePath"`
	PathInfo map[string]interface{} `json:"pathInfo"`
}

func (t *SemanticSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Fail(protocol.ErrInvalidArgument, "query must not be empty")
	}
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "smart"
	}
	maxResults, ok := intArg(args, "maxResults")
	if !ok || maxResults <= 0 {
		maxResults = 50
	}
	contextLines, _ := intArg(args, "contextLines")
	var fileTypes []string
	if raw, ok := args["fileTypes"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				fileTypes = append(fileTypes, strings.TrimPrefix(s, "."))
			}
		}
	}

	ctxID := t.router.CurrentID()
	if ctxID != execctx.LocalContextID {
		return t.searchRemote(ctx, query, fileTypes, maxResults, ctxID)
	}

	root := t.router.WorkspaceRoot()
	if rootArg, _ := args["root"].(string); rootArg == "repo" {
		root = findRepoRoot(root)
	}
	if scope, _ := args["scope"].(string); scope != "" {
		scoped := filepath.Join(root, filepath.FromSlash(scope))
		if resolved, err := execctx.ResolveWithinWorkspace(scoped, root); err == nil {
			root = resolved
		} else {
			return Fail(protocol.ErrInvalidPath, "scope is outside the search root")
		}
	}

	var (
		hits []searchResult
		err  error
	)
	switch mode {
	case "filename":
		hits, err = t.searchFilenames(ctx, root, query, maxResults)
	case "regex":
		hits, err = t.ripgrep(ctx, root, []string{"-e", query}, fileTypes, contextLines, maxResults)
	case "content":
		hits, err = t.contentTiers(ctx, root, query, fileTypes, contextLines, maxResults, 2)
	default: // smart
		hits, err = t.contentTiers(ctx, root, query, fileTypes, contextLines, maxResults, 4)
	}
	if err != nil {
		return FailErr(protocol.ErrInternal, "search failed", err)
	}
	return Ok(map[string]interface{}{"results": hits, "count": len(hits), "mode": mode})
}

// contentTiers runs up to four ripgrep passes, stopping at the first that
// produces hits:
//
//	1: literal, case-sensitive
//	2: literal, case-insensitive
//	3: AND of query tokens as an ordered regex
//	4: OR of query tokens
func (t *SemanticSearchTool) contentTiers(ctx context.Context, root, query string, fileTypes []string, contextLines, maxResults, tiers int) ([]searchResult, error) {
	passes := [][]string{
		{"-F", "--", query},
		{"-F", "-i", "--", query},
	}
	if tokens := queryTokens(query); len(tokens) > 1 && tiers >= 3 {
		quoted := make([]string, len(tokens))
		for i, tok := range tokens {
			quoted[i] = regexp.QuoteMeta(tok)
		}
		passes = append(passes,
			[]string{"-i", "-e", strings.Join(quoted, ".*")},
			[]string{"-i", "-e", strings.Join(quoted, "|")},
		)
	}
	if tiers < len(passes) {
		passes = passes[:tiers]
	}

	var lastErr error
	for _, pass := range passes {
		hits, err := t.ripgrep(ctx, root, pass, fileTypes, contextLines, maxResults)
		if err != nil {
			lastErr = err
			continue
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, lastErr
}

// ripgrep runs rg and parses file:line:snippet output. Falls back to the
// local filesystem walk when the rg binary is unavailable.
func (t *SemanticSearchTool) ripgrep(ctx context.Context, root string, pattern []string, fileTypes []string, contextLines, maxResults int) ([]searchResult, error) {
	rgArgs := []string{"-n", "--no-heading"}
	if contextLines > 0 {
		rgArgs = append(rgArgs, "-C", strconv.Itoa(contextLines))
	}
	for _, ext := range fileTypes {
		rgArgs = append(rgArgs, "-g", "*."+ext)
	}
	rgArgs = append(rgArgs, pattern...)
	rgArgs = append(rgArgs, root)

	out, err := runRipgrep(ctx, rgArgs)
	if errors.Is(err, exec.ErrNotFound) {
		return t.walkFallback(ctx, pattern, fileTypes, maxResults)
	}
	if err != nil {
		return nil, err
	}
	return t.parseRgLines(out, maxResults), nil
}

func (t *SemanticSearchTool) walkFallback(ctx context.Context, pattern []string, fileTypes []string, maxResults int) ([]searchResult, error) {
	query := pattern[len(pattern)-1]
	caseSensitive := !contains(pattern, "-i")
	raw, err := t.router.GetFilesystem().Search(ctx, query, execctx.SearchOptions{
		FileTypes:     fileTypes,
		MaxResults:    maxResults,
		CaseSensitive: caseSensitive,
	})
	if err != nil {
		return nil, err
	}
	return t.fromHits(raw, maxResults), nil
}

func (t *SemanticSearchTool) searchFilenames(ctx context.Context, root, query string, maxResults int) ([]searchResult, error) {
	out, err := runRipgrep(ctx, []string{"--files", "-g", "*" + query + "*", root})
	if err != nil {
		// Walk fallback: match path components in-process.
		var hits []searchResult
		q := strings.ToLower(query)
		walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if len(hits) >= maxResults {
				return filepath.SkipAll
			}
			if strings.Contains(strings.ToLower(d.Name()), q) {
				hits = append(hits, t.fileResult(p, 0, ""))
			}
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
		return hits, nil
	}

	var hits []searchResult
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		if len(hits) >= maxResults {
			break
		}
		hits = append(hits, t.fileResult(line, 0, ""))
	}
	return hits, nil
}

func (t *SemanticSearchTool) searchRemote(ctx context.Context, query string, fileTypes []string, maxResults int, ctxID string) *Result {
	raw, err := t.router.GetFilesystem().Search(ctx, query, execctx.SearchOptions{
		FileTypes:  fileTypes,
		MaxResults: maxResults,
	})
	if err != nil {
		return FailErr(protocol.ErrExternal, "remote search failed", err)
	}
	hits := make([]searchResult, 0, len(raw))
	for _, h := range raw {
		hits = append(hits, searchResult{
			File:     h.File,
			Line:     h.Line,
			Snippet:  h.Snippet,
			FilePath: execctx.FormatNamespacedPath(ctxID, h.File),
			PathInfo: pathInfo(h.File),
		})
	}
	return Ok(map[string]interface{}{"results": hits, "count": len(hits), "mode": "remote"})
}

func (t *SemanticSearchTool) parseRgLines(out string, maxResults int) []searchResult {
	var hits []searchResult
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" || len(hits) >= maxResults {
			continue
		}
		// Match lines are file:line:snippet; context lines use '-' and are
		// skipped.
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		hits = append(hits, t.fileResult(parts[0], n, strings.TrimSpace(parts[2])))
	}
	return hits
}

func (t *SemanticSearchTool) fromHits(raw []execctx.SearchHit, maxResults int) []searchResult {
	hits := make([]searchResult, 0, len(raw))
	for _, h := range raw {
		if len(hits) >= maxResults {
			break
		}
		hits = append(hits, t.fileResult(h.File, h.Line, h.Snippet))
	}
	return hits
}

func (t *SemanticSearchTool) fileResult(file string, line int, snippet string) searchResult {
	return searchResult{
		File:     file,
		Line:     line,
		Snippet:  snippet,
		FilePath: execctx.FormatNamespacedPath(t.router.CurrentID(), file),
		PathInfo: pathInfo(file),
	}
}

func pathInfo(file string) map[string]interface{} {
	return map[string]interface{}{
		"directory": filepath.Dir(file),
		"filename":  filepath.Base(file),
		"extension": strings.TrimPrefix(filepath.Ext(file), "."),
	}
}

// queryTokens splits a query into tokens of at least 3 characters, order
// preserved.
func queryTokens(query string) []string {
	var tokens []string
	for _, tok := range strings.Fields(query) {
		if len(tok) >= 3 {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func findRepoRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// runRipgrep executes rg. A non-zero exit with no output means "no matches"
// and is not an error.
func runRipgrep(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "rg", args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil // no matches
		}
		return "", fmt.Errorf("rg: %w", err)
	}
	return string(out), nil
}
