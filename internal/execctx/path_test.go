package execctx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseNamespacedPath(t *testing.T) {
	tests := []struct {
		raw      string
		wantCtx  string
		wantPath string
	}{
		{"", "local", "/"},
		{"/abs/path", "local", "/abs/path"},
		{"local:/abs/path", "local", "/abs/path"},
		{"devbox:/home/u/file.go", "devbox", "/home/u/file.go"},
		{"C:/Users/foo", "local", "C:/Users/foo"},
		{"c:/Users/foo", "local", "c:/Users/foo"},
		{"relative/path.txt", "local", "relative/path.txt"},
		{"hop:relative", "local", "hop:relative"},
	}
	for _, tt := range tests {
		gotCtx, gotPath := ParseNamespacedPath(tt.raw)
		if gotCtx != tt.wantCtx || gotPath != tt.wantPath {
			t.Errorf("ParseNamespacedPath(%q) = (%q, %q), want (%q, %q)",
				tt.raw, gotCtx, gotPath, tt.wantCtx, tt.wantPath)
		}
	}
}

func TestNamespacedPathRoundTrip(t *testing.T) {
	pairs := []struct{ ctx, path string }{
		{"local", "/w/file.txt"},
		{"devbox", "/home/u/x"},
		{"remote2", "/"},
	}
	for _, p := range pairs {
		ctx, path := ParseNamespacedPath(FormatNamespacedPath(p.ctx, p.path))
		if ctx != p.ctx || path != p.path {
			t.Errorf("round trip (%q,%q) -> (%q,%q)", p.ctx, p.path, ctx, path)
		}
	}
}

func TestResolveWithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	sub := filepath.Join(ws, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ResolveWithinWorkspace("sub/f.txt", ws); err != nil {
		t.Errorf("relative path inside workspace rejected: %v", err)
	}
	if _, err := ResolveWithinWorkspace(filepath.Join(ws, "sub", "f.txt"), ws); err != nil {
		t.Errorf("absolute path inside workspace rejected: %v", err)
	}
	if _, err := ResolveWithinWorkspace("../etc/passwd", ws); err == nil {
		t.Error("parent escape accepted")
	}
	if _, err := ResolveWithinWorkspace("/etc/passwd", ws); err == nil {
		t.Error("absolute escape accepted")
	}
	// New file in an existing directory is fine.
	if _, err := ResolveWithinWorkspace("sub/new.txt", ws); err != nil {
		t.Errorf("new file path rejected: %v", err)
	}
}

func TestIsPathInside(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		child, parent string
		want          bool
	}{
		{"/w", "/w", true},
		{"/w/sub/f.txt", "/w", true},
		{"/w-other/f.txt", "/w", false},
		{"/etc/passwd", "/w", false},
		{"/w/sub", "/w" + sep, true},
		{"/w", "/w/sub", false},
		{"/", "/w", false},
	}
	for _, tt := range tests {
		if got := isPathInside(filepath.FromSlash(tt.child), filepath.FromSlash(tt.parent)); got != tt.want {
			t.Errorf("isPathInside(%q, %q) = %v, want %v", tt.child, tt.parent, got, tt.want)
		}
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(ws, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skip("symlinks unsupported")
	}
	if _, err := ResolveWithinWorkspace("link/secret.txt", ws); err == nil {
		t.Error("symlink escape accepted")
	}
}

func TestLocalFilesystemSandbox(t *testing.T) {
	ws := t.TempDir()
	fs := NewLocalFilesystem(ws)

	if err := fs.Write(context.Background(), "a.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Read(context.Background(), "a.txt")
	if err != nil || got != "hello" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if err := fs.Write(context.Background(), "../escape.txt", []byte("x")); err == nil {
		t.Error("write outside workspace accepted")
	}
	if _, err := fs.Read(context.Background(), "/etc/passwd"); err == nil {
		t.Error("read outside workspace accepted")
	}
}

func TestLocalFilesystemSearch(t *testing.T) {
	ws := t.TempDir()
	fs := NewLocalFilesystem(ws)
	if err := os.WriteFile(filepath.Join(ws, "a.go"), []byte("package main\n// Needle here\n"), 0644); err != nil {
		t.Fatal(err)
	}
	hits, err := fs.Search(context.Background(), "needle", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Line != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	// Case-sensitive search must miss.
	hits, _ = fs.Search(context.Background(), "needle", SearchOptions{CaseSensitive: true})
	if len(hits) != 0 {
		t.Fatalf("case-sensitive search matched: %+v", hits)
	}
}

func TestRouterContextSwitch(t *testing.T) {
	ws := t.TempDir()
	r := NewRouter(ws)

	if r.CurrentID() != LocalContextID {
		t.Fatalf("default context = %q", r.CurrentID())
	}
	if err := r.SwitchContext("nope"); err == nil {
		t.Error("switch to unknown context accepted")
	}

	hopWS := t.TempDir()
	hop := &Hop{ID: "devbox", WorkspaceRoot: hopWS, Cwd: hopWS,
		FS: NewLocalFilesystem(hopWS), Term: NewLocalTerminal(hopWS)}
	if err := r.RegisterHop(hop); err != nil {
		t.Fatal(err)
	}
	if err := r.SwitchContext("devbox"); err != nil {
		t.Fatal(err)
	}
	info := r.GetContext()
	if info.ContextID != "devbox" || info.WorkspaceRoot != hopWS {
		t.Fatalf("info = %+v", info)
	}

	r.RemoveHop("devbox")
	if r.CurrentID() != LocalContextID {
		t.Error("removing active hop should fall back to local")
	}
}

func TestRegisterHopRejectsLocal(t *testing.T) {
	r := NewRouter(t.TempDir())
	if err := r.RegisterHop(&Hop{ID: "local"}); err == nil {
		t.Error("overriding local context accepted")
	}
}
