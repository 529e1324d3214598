package execctx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace marks a path that escapes the active workspace root.
// Tools translate it to the INVALID_PATH error code; the raw target path is
// logged but never returned to the caller.
var ErrOutsideWorkspace = errors.New("access denied: path outside workspace")

// ParseNamespacedPath splits "ctx:/abs/path" into (contextID, absolutePath).
// Bare paths default to the local context. Windows drive letters ("C:/...")
// are not namespaces. Empty input resolves to ("local", "/").
func ParseNamespacedPath(raw string) (string, string) {
	if raw == "" {
		return LocalContextID, "/"
	}
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return LocalContextID, raw
	}
	id := raw[:idx]
	rest := raw[idx+1:]
	// Single letter before ':' is a drive, not a context id.
	if len(id) == 1 && isDriveLetter(rune(id[0])) {
		return LocalContextID, raw
	}
	// A namespace prefix must be followed by an absolute path.
	if !strings.HasPrefix(rest, "/") {
		return LocalContextID, raw
	}
	return id, rest
}

// FormatNamespacedPath is the inverse of ParseNamespacedPath for valid
// (contextID, absolute path) pairs.
func FormatNamespacedPath(contextID, absPath string) string {
	if contextID == "" {
		contextID = LocalContextID
	}
	return contextID + ":" + absPath
}

func isDriveLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// ResolveWithinWorkspace resolves path (relative paths against the workspace
// root), follows symlinks, and rejects anything whose canonical form leaves
// the workspace. Returns the canonical absolute path.
func ResolveWithinWorkspace(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	// Canonicalize the workspace itself (it may live behind a symlink).
	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			// Target does not exist yet (e.g. create_file): canonicalize the
			// nearest existing ancestor and rebuild the tail.
			real, err = resolveThroughExistingAncestors(absResolved)
			if err != nil {
				return "", fmt.Errorf("access denied: cannot resolve path")
			}
		} else {
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", ErrOutsideWorkspace
	}
	return real, nil
}

// isPathInside checks whether child is inside or equal to parent directory.
// Rel-based rather than a prefix check so trailing separators and sibling
// directories sharing a prefix ("/w-other" vs "/w") cannot confuse it.
func isPathInside(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveThroughExistingAncestors canonicalizes the deepest existing ancestor
// of target and appends the remaining components, so symlinked ancestors of
// not-yet-created files are still validated.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}
