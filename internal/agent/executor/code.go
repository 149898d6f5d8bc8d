package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// runCode writes the submitted source to a scratch directory and runs it
// with the Go toolchain. Stdout that parses as JSON becomes the result
// payload directly; anything else is wrapped under "output". A missing
// toolchain fails the task instead of crashing the agent.
func (e *Executor) runCode(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	code := stringField(content, "code")
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	dir, err := os.MkdirTemp("", "monihub-code-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "main.go")
	if err := os.WriteFile(srcPath, []byte(code), 0600); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	toolchain, err := exec.LookPath("go")
	if err != nil {
		return nil, fmt.Errorf("go toolchain not found on PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, toolchain, "run", srcPath)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("code execution failed: %s", firstNonEmpty(stderr.String(), err.Error()))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err == nil {
		return parsed, nil
	}
	return map[string]interface{}{"output": stdout.String()}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
