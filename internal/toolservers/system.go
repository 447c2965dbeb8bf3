package toolservers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/toolrpc"
)

const (
	commandTimeout   = 30 * time.Second
	commandOutputCap = 10 * 1024 * 1024
)

// NewSystemServer exposes execute_command restricted to an allow-list of
// binaries.
func NewSystemServer(bus ports.Bus, allowedCommands []string, slogger *slog.Logger) *toolrpc.Server {
	srv := toolrpc.NewServer("system", "1.0", bus, slogger)
	srv.Register(newExecuteCommandTool(allowedCommands))
	return srv
}

type executeCommandTool struct {
	allowed map[string]bool
	names   []string
}

func newExecuteCommandTool(allowedCommands []string) *executeCommandTool {
	allowed := make(map[string]bool, len(allowedCommands))
	for _, name := range allowedCommands {
		allowed[name] = true
	}
	return &executeCommandTool{allowed: allowed, names: allowedCommands}
}

func (t *executeCommandTool) Name() string { return "execute_command" }

func (t *executeCommandTool) Description() string {
	return "Run an allow-listed system command and return exit code, stdout and stderr. Allowed: " +
		strings.Join(t.names, ", ")
}

func (t *executeCommandTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to run, e.g. \"df -h\"",
			},
		},
		"required": []string{"command"},
	}
}

type commandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

func (t *executeCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	line, _ := args["command"].(string)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("command is required")
	}
	if !t.allowed[fields[0]] {
		return "", fmt.Errorf("command not allowed: %s (allowed: %s)", fields[0], strings.Join(t.names, ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var stdout, stderr cappedBuffer
	stdout.limit = commandOutputCap
	stderr.limit = commandOutputCap

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := commandResult{Command: line}
	err := cmd.Run()
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("run %s: %w", fields[0], err)
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// cappedBuffer silently discards writes past its limit so a chatty
// command cannot balloon the result payload.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
