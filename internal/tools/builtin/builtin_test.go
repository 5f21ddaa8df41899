package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

func blockText(t *testing.T, blocks []models.ContentBlock) string {
	t.Helper()
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	return blocks[0].Text
}

func TestResolverConfinesToWorkspace(t *testing.T) {
	root := t.TempDir()
	r := resolver{root: root}

	cases := []struct {
		path    string
		wantErr bool
	}{
		{"notes.txt", false},
		{"sub/dir/file.go", false},
		{".", false},
		{"", true},
		{"../outside.txt", true},
		{"sub/../../outside.txt", true},
		{"/etc/passwd", true},
	}
	for _, tc := range cases {
		resolved, err := r.resolve(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("resolve(%q) = %q, want error", tc.path, resolved)
			}
			continue
		}
		if err != nil {
			t.Fatalf("resolve(%q) error = %v", tc.path, err)
		}
		if !strings.HasPrefix(resolved, root) {
			t.Fatalf("resolve(%q) = %q, outside root %q", tc.path, resolved, root)
		}
	}
}

func TestResolverAbsolutePathInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	r := resolver{root: root}

	inside := filepath.Join(root, "ok.txt")
	resolved, err := r.resolve(inside)
	if err != nil {
		t.Fatalf("resolve(%q) error = %v", inside, err)
	}
	if resolved != inside {
		t.Fatalf("resolve(%q) = %q", inside, resolved)
	}
}

func TestFileReadTool(t *testing.T) {
	root := t.TempDir()
	content := "line one\nline two\nline three\n"
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := NewFileReadTool(Config{Workspace: root})
	ctx := context.Background()

	blocks, err := tool.Execute(ctx, json.RawMessage(`{"path": "notes.txt"}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := blockText(t, blocks); got != content {
		t.Fatalf("content = %q", got)
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"path": "missing.txt"}`), tools.Context{}); err == nil {
		t.Fatal("Execute() succeeded for a missing file")
	}
	if _, err := tool.Execute(ctx, json.RawMessage(`{"path": "../notes.txt"}`), tools.Context{}); err == nil {
		t.Fatal("Execute() escaped the workspace")
	}
}

func TestFileReadOffsetAndTruncation(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "data.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	tool := NewFileReadTool(Config{Workspace: root})
	ctx := context.Background()

	blocks, err := tool.Execute(ctx, json.RawMessage(`{"path": "data.txt", "offset": 4}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := blockText(t, blocks); got != "456789" {
		t.Fatalf("offset read = %q", got)
	}

	blocks, err = tool.Execute(ctx, json.RawMessage(`{"path": "data.txt", "max_bytes": 4}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := "0123\n[truncated: 4 of 10 bytes]"
	if got := blockText(t, blocks); got != want {
		t.Fatalf("truncated read = %q, want %q", got, want)
	}
}

func TestFileReadGlobalLimit(t *testing.T) {
	root := t.TempDir()
	big := strings.Repeat("x", 100)
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	tool := NewFileReadTool(Config{Workspace: root, MaxReadBytes: 10})

	blocks, err := tool.Execute(context.Background(), json.RawMessage(`{"path": "big.txt"}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := strings.Repeat("x", 10) + "\n[truncated: 10 of 100 bytes]"
	if got := blockText(t, blocks); got != want {
		t.Fatalf("limited read = %q", got)
	}
}

func TestFileListTool(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	tool := NewFileListTool(Config{Workspace: root})
	blocks, err := tool.Execute(context.Background(), json.RawMessage(`{}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := blockText(t, blocks); got != "a.txt\nb.txt\nsub/" {
		t.Fatalf("listing = %q", got)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path": ".."}`), tools.Context{}); err == nil {
		t.Fatal("Execute() escaped the workspace")
	}
}

func TestShellToolMetadataGated(t *testing.T) {
	def := NewShellTool(Config{}).Metadata()
	if def.Name != "shell" {
		t.Fatalf("name = %q", def.Name)
	}
	if !def.Annotations.Destructive || def.Annotations.ReadOnly {
		t.Fatalf("annotations = %+v, want destructive and not read-only", def.Annotations)
	}
}

func TestShellToolRunsCommand(t *testing.T) {
	root := t.TempDir()
	tool := NewShellTool(Config{Workspace: root})

	blocks, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "echo hello && pwd"}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := blockText(t, blocks)
	if !strings.HasPrefix(out, "hello\n") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, filepath.Base(root)) {
		t.Fatalf("command did not run in workspace: %q", out)
	}
}

func TestShellToolExitStatus(t *testing.T) {
	tool := NewShellTool(Config{Workspace: t.TempDir()})
	blocks, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "echo oops >&2; exit 3"}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := blockText(t, blocks)
	if !strings.Contains(out, "oops") || !strings.Contains(out, "[exit status 3]") {
		t.Fatalf("output = %q", out)
	}
}

func TestShellToolOutputCap(t *testing.T) {
	tool := NewShellTool(Config{Workspace: t.TempDir(), MaxOutputBytes: 8})
	blocks, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "echo 0123456789abcdef"}`), tools.Context{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := blockText(t, blocks)
	if !strings.Contains(out, "[output truncated at 8 bytes]") {
		t.Fatalf("output = %q", out)
	}
	if !strings.HasPrefix(out, "01234567\n") {
		t.Fatalf("output = %q", out)
	}
}

func TestShellToolValidation(t *testing.T) {
	tool := NewShellTool(Config{})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`), tools.Context{}); err == nil {
		t.Fatal("Execute() accepted empty command")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := tools.NewRegistry()
	if err := Register(registry, Config{Workspace: t.TempDir()}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	defs := registry.List()
	var names []string
	for _, def := range defs {
		names = append(names, def.Name)
	}
	want := []string{"file_list", "file_read", "shell"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("registered = %v, want %v", names, want)
	}
}
