package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

const (
	defaultMaxOutputBytes = 100000
	defaultShellTimeout   = 2 * time.Minute
)

// ShellTool runs a command through /bin/sh in the workspace. It is marked
// destructive, so every call goes through approval.
type ShellTool struct {
	workspace string
	maxOutput int
}

// NewShellTool creates a shell tool rooted at the workspace.
func NewShellTool(cfg Config) *ShellTool {
	limit := cfg.MaxOutputBytes
	if limit <= 0 {
		limit = defaultMaxOutputBytes
	}
	return &ShellTool{workspace: cfg.Workspace, maxOutput: limit}
}

func (t *ShellTool) Metadata() tools.Definition {
	return tools.Definition{
		Name:        "shell",
		Description: "Run a shell command in the workspace and return its combined output.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Command line passed to /bin/sh -c."},
				"timeout_seconds": {"type": "integer", "description": "Kill the command after this many seconds.", "minimum": 1}
			},
			"required": ["command"]
		}`),
		Annotations: tools.Annotations{Destructive: true},
		Timeout:     defaultShellTimeout,
	}
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage, tc tools.Context) ([]models.ContentBlock, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	if input.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(input.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", input.Command)
	if t.workspace != "" {
		cmd.Dir = t.workspace
	} else if tc.WorkingDir != "" {
		cmd.Dir = tc.WorkingDir
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	text := output.String()
	if len(text) > t.maxOutput {
		text = text[:t.maxOutput] + fmt.Sprintf("\n[output truncated at %d bytes]", t.maxOutput)
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			text += fmt.Sprintf("\n[exit status %d]", exitErr.ExitCode())
			return []models.ContentBlock{models.TextBlock(text)}, nil
		}
		return nil, fmt.Errorf("run command: %w", runErr)
	}
	return []models.ContentBlock{models.TextBlock(text)}, nil
}
