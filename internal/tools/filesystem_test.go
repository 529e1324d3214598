package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

func newTestRouter(t *testing.T) (*execctx.Router, string) {
	t.Helper()
	ws := t.TempDir()
	return execctx.NewRouter(ws), ws
}

func TestReadFileSliceAndEscape(t *testing.T) {
	router, ws := newTestRouter(t)
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(filepath.Join(ws, "f.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(router)

	res := tool.Execute(context.Background(), map[string]interface{}{"filePath": "f.txt"})
	if !res.Success {
		t.Fatalf("read failed: %+v", res)
	}
	if got := res.Data.(map[string]interface{})["content"]; got != content {
		t.Errorf("content = %q", got)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "f.txt", "startLine": float64(2), "endLine": float64(3),
	})
	if got := res.Data.(map[string]interface{})["content"]; got != "two\nthree" {
		t.Errorf("slice = %q", got)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"filePath": "../etc/passwd"})
	if res.Success || res.Code != protocol.ErrInvalidPath {
		t.Errorf("escape accepted: %+v", res)
	}
}

func TestCreateFileWithDirectories(t *testing.T) {
	router, ws := newTestRouter(t)
	tool := NewCreateFileTool(router)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "a/b/c.txt", "content": "hi", "createDirectories": true,
	})
	if !res.Success {
		t.Fatalf("create failed: %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(ws, "a", "b", "c.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("file = %q, %v", data, err)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "/etc/hacked", "content": "x",
	})
	if res.Success {
		t.Error("write outside workspace accepted")
	}
}

func TestReplaceStringValidateContext(t *testing.T) {
	router, ws := newTestRouter(t)
	if err := os.WriteFile(filepath.Join(ws, "g.txt"), []byte("aa bb aa"), 0644); err != nil {
		t.Fatal(err)
	}
	tool := NewReplaceStringTool(router)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "g.txt", "oldString": "aa", "newString": "cc", "validateContext": true,
	})
	if res.Success {
		t.Error("ambiguous replacement accepted with validateContext")
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "g.txt", "oldString": "bb", "newString": "dd", "validateContext": true,
	})
	if !res.Success {
		t.Fatalf("unique replacement failed: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "g.txt"))
	if string(data) != "aa dd aa" {
		t.Errorf("file = %q", data)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"filePath": "g.txt", "oldString": "zz", "newString": "x",
	})
	if res.Success || res.Code != protocol.ErrNotFound {
		t.Errorf("missing oldString: %+v", res)
	}
}

func TestListAndCreateDirectory(t *testing.T) {
	router, ws := newTestRouter(t)
	if err := os.WriteFile(filepath.Join(ws, "x.txt"), []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}

	mk := NewCreateDirectoryTool(router)
	if res := mk.Execute(context.Background(), map[string]interface{}{"dirPath": "sub/deep"}); !res.Success {
		t.Fatalf("mkdir failed: %+v", res)
	}

	ls := NewListDirectoryTool(router)
	res := ls.Execute(context.Background(), map[string]interface{}{"dirPath": "."})
	if !res.Success {
		t.Fatalf("list failed: %+v", res)
	}
	if count := res.Data.(map[string]interface{})["count"]; count != 2 {
		t.Errorf("count = %v, want 2", count)
	}
}
