package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/monihub/monihub/internal/agent/communicator"
	"github.com/monihub/monihub/internal/agent/config"
	"github.com/monihub/monihub/internal/agent/state"
	"go.uber.org/zap"
)

// maxTaskTimeout is the outer wall clock guard when a task arrives without
// a usable timeout. The control plane clamps to the same cap.
const maxTaskTimeout = 3600 * time.Second

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// ExecutionResult is the agent-side outcome of one task record, ready to be
// turned into a result submission.
type ExecutionResult struct {
	RecordID      uint
	Status        string
	ResultCode    int
	ResultMessage string
	ResultData    map[string]interface{}
	ErrorMessage  string
	StartTime     time.Time
	EndTime       time.Time
	DurationMs    int64
}

type Executor struct {
	cfg    *config.Config
	state  *state.AgentState
	client *communicator.Client
	logger *zap.Logger
	exit   func(code int)
}

type ExecutorConfig struct {
	Config *config.Config
	State  *state.AgentState
	Client *communicator.Client
	Logger *zap.Logger

	// Exit overrides process termination for the Shutdown command. Tests
	// inject a recorder here; nil means os.Exit.
	Exit func(code int)
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	return &Executor{
		cfg:    cfg.Config,
		state:  cfg.State,
		client: cfg.Client,
		logger: cfg.Logger,
		exit:   exit,
	}
}

// Execute runs one task item under its wall-clock timeout and maps the
// handler outcome onto a record status.
func (e *Executor) Execute(ctx context.Context, item communicator.TaskItem) ExecutionResult {
	timeout := maxTaskTimeout
	if item.TimeoutSeconds > 0 {
		timeout = time.Duration(item.TimeoutSeconds) * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Info("task started",
		zap.Uint("record_id", item.RecordID),
		zap.String("task_type", item.TaskType),
	)

	start := time.Now()
	data, err := e.dispatch(taskCtx, item.TaskType, item.TaskContent)
	end := time.Now()

	result := ExecutionResult{
		RecordID:   item.RecordID,
		ResultData: data,
		StartTime:  start,
		EndTime:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}

	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.ResultMessage = "success"
	case errors.Is(err, context.DeadlineExceeded) || taskCtx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimeout
		result.ResultCode = -1
		result.ErrorMessage = fmt.Sprintf("task exceeded %s timeout", timeout)
	default:
		result.Status = StatusFailed
		result.ResultCode = -1
		result.ErrorMessage = err.Error()
	}

	if result.Status == StatusSuccess {
		e.logger.Info("task finished",
			zap.Uint("record_id", item.RecordID),
			zap.Int64("duration_ms", result.DurationMs),
		)
	} else {
		e.logger.Warn("task failed",
			zap.Uint("record_id", item.RecordID),
			zap.String("status", result.Status),
			zap.String("error", result.ErrorMessage),
		)
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, taskType string, content map[string]interface{}) (map[string]interface{}, error) {
	switch taskType {
	case "shell_exec":
		return e.runShell(ctx, content)
	case "run_code":
		return e.runCode(ctx, content)
	case "file_manager":
		return e.runFileManager(ctx, content)
	case "custom_command":
		return e.runCustomCommand(content)
	case "http_request":
		return e.runHTTPRequest(ctx, content)
	default:
		return nil, fmt.Errorf("unknown task type: %s", taskType)
	}
}

// Content payloads arrive as generic JSON maps; these helpers pull typed
// fields out without panicking on absent or mistyped values.

func stringField(content map[string]interface{}, key string) string {
	if v, ok := content[key].(string); ok {
		return v
	}
	return ""
}

func boolField(content map[string]interface{}, key string, fallback bool) bool {
	if v, ok := content[key].(bool); ok {
		return v
	}
	return fallback
}

func mapField(content map[string]interface{}, key string) map[string]interface{} {
	if v, ok := content[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func listField(content map[string]interface{}, key string) []interface{} {
	if v, ok := content[key].([]interface{}); ok {
		return v
	}
	return nil
}
