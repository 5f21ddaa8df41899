package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

const defaultMaxReadBytes = 200000

// FileReadTool reads a workspace file with offset and byte limits.
type FileReadTool struct {
	resolver resolver
	maxBytes int
}

// NewFileReadTool creates a read tool scoped to the workspace.
func NewFileReadTool(cfg Config) *FileReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = defaultMaxReadBytes
	}
	return &FileReadTool{resolver: resolver{root: cfg.Workspace}, maxBytes: limit}
}

func (t *FileReadTool) Metadata() tools.Definition {
	return tools.Definition{
		Name:        "file_read",
		Description: "Read a file from the workspace with optional offset and byte limit.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path to the file (relative to workspace)."},
				"offset": {"type": "integer", "description": "Byte offset to start reading from.", "minimum": 0},
				"max_bytes": {"type": "integer", "description": "Maximum bytes to read.", "minimum": 0}
			},
			"required": ["path"]
		}`),
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
	}
}

func (t *FileReadTool) Execute(ctx context.Context, args json.RawMessage, tc tools.Context) ([]models.ContentBlock, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek file: %w", err)
		}
	}

	limit := t.maxBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	content := string(buf)
	if input.Offset+int64(len(buf)) < info.Size() {
		content += fmt.Sprintf("\n[truncated: %d of %d bytes]", len(buf), info.Size())
	}
	return []models.ContentBlock{models.TextBlock(content)}, nil
}

// FileListTool lists a workspace directory.
type FileListTool struct {
	resolver resolver
}

// NewFileListTool creates a directory listing tool scoped to the workspace.
func NewFileListTool(cfg Config) *FileListTool {
	return &FileListTool{resolver: resolver{root: cfg.Workspace}}
}

func (t *FileListTool) Metadata() tools.Definition {
	return tools.Definition{
		Name:        "file_list",
		Description: "List files and directories under a workspace path.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list (relative to workspace, default: workspace root)."}
			}
		}`),
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
	}
}

func (t *FileListTool) Execute(ctx context.Context, args json.RawMessage, tc tools.Context) ([]models.ContentBlock, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return []models.ContentBlock{models.TextBlock(strings.Join(names, "\n"))}, nil
}
