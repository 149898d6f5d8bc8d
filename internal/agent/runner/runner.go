package runner

import (
	"context"
	"time"

	"github.com/monihub/monihub/internal/agent/communicator"
	"github.com/monihub/monihub/internal/agent/executor"
	"github.com/monihub/monihub/internal/agent/state"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Runner drives the task loop: poll the control plane for work, execute
// each item on a worker goroutine, submit the result. Concurrency is
// bounded by a weighted semaphore sized from config.
type Runner struct {
	state    *state.AgentState
	client   *communicator.Client
	executor *executor.Executor
	logger   *zap.Logger
	workers  *semaphore.Weighted
}

type RunnerConfig struct {
	State    *state.AgentState
	Client   *communicator.Client
	Executor *executor.Executor
	Logger   *zap.Logger
}

func New(cfg RunnerConfig) *Runner {
	limit := int64(cfg.State.Config.Task.MaxConcurrentTasks)
	if limit < 1 {
		limit = 1
	}
	return &Runner{
		state:    cfg.State,
		client:   cfg.Client,
		executor: cfg.Executor,
		logger:   cfg.Logger,
		workers:  semaphore.NewWeighted(limit),
	}
}

// Run loops until ctx is cancelled. When all workers are busy the next
// poll tick is skipped rather than queueing work the agent cannot start.
func (r *Runner) Run(ctx context.Context) {
	taskCfg := r.state.Config.Task
	pollInterval := time.Duration(taskCfg.PollIntervalSeconds) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !r.state.HTTPEnabled() {
			sleep(ctx, pollInterval)
			continue
		}

		// Hold one permit before polling so a full worker pool never
		// pulls tasks it cannot run.
		if !r.workers.TryAcquire(1) {
			sleep(ctx, pollInterval)
			continue
		}

		items, err := r.client.PullTasks(taskCfg.IsLongPollEnabled(), taskCfg.LongPollTimeoutSeconds)
		if err != nil {
			r.workers.Release(1)
			r.logger.Warn("task poll failed", zap.Error(err))
			sleep(ctx, pollInterval)
			continue
		}
		if len(items) == 0 {
			r.workers.Release(1)
			if !taskCfg.IsLongPollEnabled() {
				sleep(ctx, pollInterval)
			}
			continue
		}

		// The first item rides on the permit already held; the rest
		// block until a worker frees up.
		for i, item := range items {
			if i > 0 {
				if err := r.workers.Acquire(ctx, 1); err != nil {
					return
				}
			}
			go r.work(ctx, item)
		}

		sleep(ctx, pollInterval)
	}
}

func (r *Runner) work(ctx context.Context, item communicator.TaskItem) {
	defer r.workers.Release(1)

	r.markRunning(item)
	result := r.executor.Execute(ctx, item)

	req := &communicator.ResultRequest{
		RecordID:      result.RecordID,
		InstanceID:    r.state.InstanceID,
		Status:        result.Status,
		ResultCode:    result.ResultCode,
		ResultMessage: result.ResultMessage,
		ResultData:    result.ResultData,
		ErrorMessage:  result.ErrorMessage,
		StartTime:     result.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:       result.EndTime.UTC().Format(time.RFC3339Nano),
		DurationMs:    result.DurationMs,
	}
	if err := r.client.SubmitResult(req); err != nil {
		r.logger.Error("failed to submit task result",
			zap.Uint("record_id", result.RecordID),
			zap.Error(err),
		)
	}
}

// markRunning acknowledges the record before execution so the control plane
// stops handing it out on subsequent polls. A failed acknowledgement is not
// fatal; the worker proceeds and the terminal result still lands.
func (r *Runner) markRunning(item communicator.TaskItem) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	req := &communicator.ResultRequest{
		RecordID:   item.RecordID,
		InstanceID: r.state.InstanceID,
		Status:     "running",
		StartTime:  now,
		EndTime:    now,
	}
	if err := r.client.SubmitResult(req); err != nil {
		r.logger.Warn("failed to mark task running",
			zap.Uint("record_id", item.RecordID),
			zap.Error(err),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
