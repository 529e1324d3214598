package tools

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// resolveFS maps a (possibly namespaced) path to the owning context's
// filesystem. Unknown contexts and sandbox escapes surface as INVALID_PATH.
func resolveFS(router *execctx.Router, raw string) (execctx.Filesystem, string, *Result) {
	ctxID, p := execctx.ParseNamespacedPath(raw)
	hop, ok := router.Hop(ctxID)
	if !ok {
		return nil, "", Fail(protocol.ErrInvalidPath, "unknown context %q", ctxID)
	}
	return hop.FS, p, nil
}

func fsFail(op string, err error) *Result {
	if errors.Is(err, execctx.ErrOutsideWorkspace) {
		return Fail(protocol.ErrInvalidPath, "%s: path is outside the workspace", op)
	}
	return FailErr(protocol.ErrInvalidPath, op+" failed", err)
}

// ReadFileTool reads a file, optionally slicing a 1-based inclusive line
// range.
type ReadFileTool struct {
	router *execctx.Router
}

func NewReadFileTool(router *execctx.Router) *ReadFileTool {
	return &ReadFileTool{router: router}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Optionally return only a line range."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file. May carry a context prefix like devbox:/abs/path.",
			},
			"startLine": map[string]interface{}{
				"type":        "integer",
				"description": "First line to return (1-based, inclusive).",
				"minimum":     1.0,
			},
			"endLine": map[string]interface{}{
				"type":        "integer",
				"description": "Last line to return (1-based, inclusive).",
				"minimum":     1.0,
			},
		},
		"required": []string{"filePath"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filePath, _ := args["filePath"].(string)
	fs, p, fail := resolveFS(t.router, filePath)
	if fail != nil {
		return fail
	}
	content, err := fs.Read(ctx, p)
	if err != nil {
		return fsFail("read_file", err)
	}

	start, hasStart := intArg(args, "startLine")
	end, hasEnd := intArg(args, "endLine")
	if hasStart || hasEnd {
		lines := strings.Split(content, "\n")
		if !hasStart || start < 1 {
			start = 1
		}
		if !hasEnd || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) || start > end {
			return Fail(protocol.ErrInvalidArgument, "line range %d-%d out of bounds (%d lines)", start, end, len(lines))
		}
		content = strings.Join(lines[start-1:end], "\n")
	}
	return Ok(map[string]interface{}{"content": content, "file_path": filePath})
}

// CreateFileTool writes a file, optionally creating parent directories.
type CreateFileTool struct {
	router *execctx.Router
}

func NewCreateFileTool(router *execctx.Router) *CreateFileTool {
	return &CreateFileTool{router: router}
}

func (t *CreateFileTool) Name() string { return "create_file" }

func (t *CreateFileTool) Description() string {
	return "Create or overwrite a file with the given content."
}

func (t *CreateFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath": map[string]interface{}{"type": "string"},
			"content":  map[string]interface{}{"type": "string"},
			"createDirectories": map[string]interface{}{
				"type":        "boolean",
				"description": "Create missing parent directories first.",
			},
		},
		"required": []string{"filePath", "content"},
	}
}

func (t *CreateFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filePath, _ := args["filePath"].(string)
	content, _ := args["content"].(string)
	fs, p, fail := resolveFS(t.router, filePath)
	if fail != nil {
		return fail
	}
	if mkdirs, _ := args["createDirectories"].(bool); mkdirs {
		if dir := path.Dir(p); dir != "." && dir != "/" {
			if err := fs.CreateDirectory(ctx, dir); err != nil {
				return fsFail("create_file", err)
			}
		}
	}
	if err := fs.Write(ctx, p, []byte(content)); err != nil {
		return fsFail("create_file", err)
	}
	return Ok(map[string]interface{}{"file_path": filePath, "bytes_written": len(content)})
}

// ReplaceStringTool does a literal substring replacement in one file.
type ReplaceStringTool struct {
	router *execctx.Router
}

func NewReplaceStringTool(router *execctx.Router) *ReplaceStringTool {
	return &ReplaceStringTool{router: router}
}

func (t *ReplaceStringTool) Name() string { return "replace_string_in_file" }

func (t *ReplaceStringTool) Description() string {
	return "Replace a literal string in a file. With validateContext, the old string must occur exactly once."
}

func (t *ReplaceStringTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath":  map[string]interface{}{"type": "string"},
			"oldString": map[string]interface{}{"type": "string"},
			"newString": map[string]interface{}{"type": "string"},
			"validateContext": map[string]interface{}{
				"type":        "boolean",
				"description": "Fail unless oldString occurs exactly once.",
			},
		},
		"required": []string{"filePath", "oldString", "newString"},
	}
}

func (t *ReplaceStringTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filePath, _ := args["filePath"].(string)
	oldString, _ := args["oldString"].(string)
	newString, _ := args["newString"].(string)
	if oldString == "" {
		return Fail(protocol.ErrInvalidArgument, "oldString must not be empty")
	}
	fs, p, fail := resolveFS(t.router, filePath)
	if fail != nil {
		return fail
	}
	content, err := fs.Read(ctx, p)
	if err != nil {
		return fsFail("replace_string_in_file", err)
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		return Fail(protocol.ErrNotFound, "oldString not found in %s", filePath)
	}
	if validate, _ := args["validateContext"].(bool); validate && count != 1 {
		return Fail(protocol.ErrInvalidArgument, "oldString occurs %d times; expected exactly one", count)
	}
	if err := fs.Write(ctx, p, []byte(strings.Replace(content, oldString, newString, -1))); err != nil {
		return fsFail("replace_string_in_file", err)
	}
	return Ok(map[string]interface{}{"file_path": filePath, "replacements": count})
}

// ListDirectoryTool lists one directory level.
type ListDirectoryTool struct {
	router *execctx.Router
}

func NewListDirectoryTool(router *execctx.Router) *ListDirectoryTool {
	return &ListDirectoryTool{router: router}
}

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) Description() string { return "List the entries of a directory." }

func (t *ListDirectoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dirPath": map[string]interface{}{"type": "string"},
		},
		"required": []string{"dirPath"},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	dirPath, _ := args["dirPath"].(string)
	fs, p, fail := resolveFS(t.router, dirPath)
	if fail != nil {
		return fail
	}
	entries, err := fs.ListDirectory(ctx, p)
	if err != nil {
		return fsFail("list_directory", err)
	}
	return Ok(map[string]interface{}{"entries": entries, "count": len(entries)})
}

// CreateDirectoryTool creates a directory tree.
type CreateDirectoryTool struct {
	router *execctx.Router
}

func NewCreateDirectoryTool(router *execctx.Router) *CreateDirectoryTool {
	return &CreateDirectoryTool{router: router}
}

func (t *CreateDirectoryTool) Name() string        { return "create_directory" }
func (t *CreateDirectoryTool) Description() string { return "Create a directory, including parents." }

func (t *CreateDirectoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dirPath": map[string]interface{}{"type": "string"},
		},
		"required": []string{"dirPath"},
	}
}

func (t *CreateDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	dirPath, _ := args["dirPath"].(string)
	fs, p, fail := resolveFS(t.router, dirPath)
	if fail != nil {
		return fail
	}
	if err := fs.CreateDirectory(ctx, p); err != nil {
		return fsFail("create_directory", err)
	}
	return Ok(map[string]interface{}{"dir_path": dirPath})
}

// intArg reads a numeric argument as int. JSON numbers decode as float64.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
