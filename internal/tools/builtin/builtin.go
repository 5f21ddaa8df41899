// Package builtin provides the stock tools every agent gets: workspace file
// access and shell execution. File tools are read-only and run without
// approval; the shell tool is destructive and always gated.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lacekit/lace/internal/tools"
)

// Config controls workspace scoping and limits for the built-in tools.
type Config struct {
	// Workspace is the root directory tools may touch. Empty means the
	// current directory.
	Workspace string

	// MaxReadBytes caps a single file_read; zero uses the default.
	MaxReadBytes int

	// MaxOutputBytes caps captured shell output; zero uses the default.
	MaxOutputBytes int
}

// Register adds the built-in tools to a registry.
func Register(registry *tools.Registry, cfg Config) error {
	for _, tool := range []tools.Tool{
		NewFileReadTool(cfg),
		NewFileListTool(cfg),
		NewShellTool(cfg),
	} {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register builtin tool: %w", err)
		}
	}
	return nil
}

// resolver confines tool paths to the workspace root.
type resolver struct {
	root string
}

func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
