package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// runShell spawns the platform shell and reports the script's stdout and
// exit status. A nonzero exit is a result, not a handler error.
func (e *Executor) runShell(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	script := stringField(content, "script")
	if script == "" {
		return nil, fmt.Errorf("script is required")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", script)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", script)
	}
	if workdir := stringField(content, "workdir"); workdir != "" {
		cmd.Dir = workdir
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, ctx.Err()
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run script: %w", err)
		}
	}

	return map[string]interface{}{
		"output": stdout.String(),
		"status": exitCode,
	}, nil
}
