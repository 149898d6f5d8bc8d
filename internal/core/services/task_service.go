package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/monihub/monihub/internal/metrics"
	"gorm.io/gorm"
)

const (
	defaultTaskTimeoutSeconds = 300
	maxTaskTimeoutSeconds     = 3600

	defaultPollTimeoutSeconds = 30
	maxPollTimeoutSeconds     = 60
	pollSweepInterval         = 2 * time.Second
)

var validTaskTypes = map[domain.TaskType]bool{
	domain.TaskTypeShellExec:     true,
	domain.TaskTypeRunCode:       true,
	domain.TaskTypeFileManager:   true,
	domain.TaskTypeCustomCommand: true,
	domain.TaskTypeHTTPRequest:   true,
}

type TaskService struct {
	taskRepo     ports.TaskRepository
	instanceRepo ports.InstanceRepository
	log          *logger.Logger
}

type TaskServiceConfig struct {
	TaskRepo     ports.TaskRepository
	InstanceRepo ports.InstanceRepository
	Logger       *logger.Logger
}

func NewTaskService(cfg TaskServiceConfig) *TaskService {
	return &TaskService{
		taskRepo:     cfg.TaskRepo,
		instanceRepo: cfg.InstanceRepo,
		log:          cfg.Logger,
	}
}

// CreateTask persists the task and fans out one pending record per target
// instance. Timeout defaults to 300s and is capped at 3600s.
func (s *TaskService) CreateTask(ctx context.Context, input ports.CreateTaskInput) (*domain.Task, []domain.TaskRecord, error) {
	if !validTaskTypes[input.TaskType] {
		return nil, nil, ErrTaskInvalidInput
	}
	if len(input.TargetInstances) == 0 {
		return nil, nil, ErrTaskInvalidInput
	}

	timeout := input.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTaskTimeoutSeconds
	}
	if timeout > maxTaskTimeoutSeconds {
		timeout = maxTaskTimeoutSeconds
	}

	for _, instanceID := range input.TargetInstances {
		if _, err := s.instanceRepo.GetByID(ctx, instanceID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, ErrInstanceNotFound
			}
			return nil, nil, err
		}
	}

	task := &domain.Task{
		TaskType:       input.TaskType,
		TaskContent:    input.TaskContent,
		TimeoutSeconds: timeout,
		Priority:       input.Priority,
		RetryCount:     input.RetryCount,
		ApplicationID:  input.ApplicationID,
	}
	if err := s.taskRepo.CreateTask(ctx, task); err != nil {
		return nil, nil, err
	}

	records := make([]domain.TaskRecord, 0, len(input.TargetInstances))
	for _, instanceID := range input.TargetInstances {
		records = append(records, domain.TaskRecord{
			TaskID:     task.ID,
			InstanceID: instanceID,
			Status:     domain.RecordStatusPending,
		})
	}
	if err := s.taskRepo.CreateRecords(ctx, records); err != nil {
		return nil, nil, err
	}

	s.log.Infow("task_created", "task_id", task.ID, "task_type", task.TaskType, "targets", len(records))
	return task, records, nil
}

// PullTasks implements the dispatch long-poll. The timeout is clamped to
// [0, 60] seconds (default 30). Waiting suspends on a 2-second sweep loop;
// it never blocks an OS thread per waiter.
func (s *TaskService) PullTasks(ctx context.Context, agentInstanceID string, wait bool, timeoutSeconds int) ([]ports.TaskDispatchItem, error) {
	start := time.Now()
	defer func() {
		metrics.DispatchPollDuration.Observe(time.Since(start).Seconds())
	}()

	instance, err := s.instanceRepo.GetByAgentInstanceID(ctx, agentInstanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}

	if timeoutSeconds < 0 {
		timeoutSeconds = 0
	}
	if timeoutSeconds > maxPollTimeoutSeconds {
		timeoutSeconds = maxPollTimeoutSeconds
	}
	deadline := start.Add(time.Duration(timeoutSeconds) * time.Second)

	for {
		items, err := s.dispatchOnce(ctx, instance.ID)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
		if !wait || !time.Now().Before(deadline) {
			return []ports.TaskDispatchItem{}, nil
		}

		sleep := pollSweepInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return []ports.TaskDispatchItem{}, nil
		case <-time.After(sleep):
		}
	}
}

func (s *TaskService) dispatchOnce(ctx context.Context, instanceID uint) ([]ports.TaskDispatchItem, error) {
	records, err := s.taskRepo.ListDispatchable(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	now := time.Now()
	items := make([]ports.TaskDispatchItem, 0, len(records))
	for i := range records {
		record := &records[i]

		task, err := s.taskRepo.GetTaskByID(ctx, record.TaskID)
		if err != nil {
			// Soft-deleted parent: the record stays behind, never handed out.
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		// Re-pulls rewrite dispatch_time; a record handed out but never
		// acknowledged is offered again on the next poll.
		dispatchTime := now
		record.Status = domain.RecordStatusDispatched
		record.DispatchTime = &dispatchTime
		if err := s.taskRepo.UpdateRecord(ctx, record); err != nil {
			return nil, err
		}

		items = append(items, ports.TaskDispatchItem{
			TaskID:         task.ID,
			RecordID:       record.ID,
			TaskType:       task.TaskType,
			TaskContent:    task.TaskContent,
			TimeoutSeconds: task.TimeoutSeconds,
			Priority:       task.Priority,
		})
		metrics.TasksDispatched.WithLabelValues(string(task.TaskType)).Inc()
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
	return items, nil
}

// SubmitResult overwrites the record's mutable fields; a replayed submission
// produces the same final state.
func (s *TaskService) SubmitResult(ctx context.Context, input ports.SubmitResultInput) error {
	record, err := s.taskRepo.GetRecordByID(ctx, input.RecordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}

	instance, err := s.instanceRepo.GetByAgentInstanceID(ctx, input.AgentInstanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInstanceNotFound
		}
		return err
	}
	if record.InstanceID != instance.ID {
		return ErrInstanceMismatch
	}

	startTime := input.StartTime
	endTime := input.EndTime

	if input.Status == domain.RecordStatusRunning {
		// A running acknowledgement pulls the record out of the dispatch
		// set and stamps the start. It never regresses a terminal outcome
		// that already landed, and it leaves the result fields alone.
		if record.Status.Terminal() {
			return nil
		}
		record.Status = domain.RecordStatusRunning
		record.StartTime = &startTime
	} else {
		record.Status = input.Status
		record.StartTime = &startTime
		record.EndTime = &endTime
		record.DurationMs = input.DurationMs
		record.ResultCode = input.ResultCode
		record.ResultMessage = input.ResultMessage
		record.ResultData = input.ResultData
		record.ErrorMessage = input.ErrorMessage
	}

	if err := s.taskRepo.UpdateRecord(ctx, record); err != nil {
		return err
	}

	metrics.ResultsIngested.WithLabelValues(string(input.Status)).Inc()
	s.log.Infow("task_result_ingested",
		"record_id", record.ID,
		"instance_id", instance.ID,
		"status", input.Status,
		"duration_ms", input.DurationMs,
	)
	return nil
}

// GetTask looks the task up including soft-deleted rows.
func (s *TaskService) GetTask(ctx context.Context, id uint) (*domain.Task, error) {
	task, err := s.taskRepo.GetTaskByIDWithDeleted(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// DeleteTask soft-deletes the task. Its records are left in place but the
// dispatcher no longer hands them out.
func (s *TaskService) DeleteTask(ctx context.Context, id uint) error {
	if _, err := s.taskRepo.GetTaskByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	if err := s.taskRepo.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.log.Infow("task_deleted", "task_id", id)
	return nil
}

// RetryRecord resets a failed or timed-out record so the next poll hands it
// out again.
func (s *TaskService) RetryRecord(ctx context.Context, recordID uint) (*domain.TaskRecord, error) {
	record, err := s.taskRepo.GetRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if record.Status != domain.RecordStatusFailed && record.Status != domain.RecordStatusTimeout {
		return nil, ErrRecordNotRetryable
	}

	record.Status = domain.RecordStatusDispatched
	record.DispatchTime = nil
	record.StartTime = nil
	record.EndTime = nil
	record.DurationMs = 0
	record.ResultCode = 0
	record.ResultMessage = ""
	record.ResultData = nil
	record.ErrorMessage = ""
	record.RetryAttempt++

	if err := s.taskRepo.UpdateRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.Infow("task_record_retried", "record_id", record.ID, "retry_attempt", record.RetryAttempt)
	return record, nil
}

// CancelRecord prevents future dispatch of a record that has not reached a
// terminal state. It never interrupts an in-flight execution.
func (s *TaskService) CancelRecord(ctx context.Context, recordID uint) (*domain.TaskRecord, error) {
	record, err := s.taskRepo.GetRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, ErrRecordTerminal
	}

	record.Status = domain.RecordStatusCancelled
	if err := s.taskRepo.UpdateRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.Infow("task_record_cancelled", "record_id", record.ID)
	return record, nil
}

func (s *TaskService) GetRecords(ctx context.Context, instanceID uint, limit int) ([]domain.TaskRecord, error) {
	return s.taskRepo.ListRecordsByInstance(ctx, instanceID, limit)
}
