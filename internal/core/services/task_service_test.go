package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/db"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.RunMigrations(database))
	return database
}

type taskFixture struct {
	database     *gorm.DB
	taskService  *TaskService
	instanceRepo ports.InstanceRepository
	instance     *domain.Instance
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	database := newTestDB(t)
	log := logger.NewNop()
	instanceRepo := db.NewInstanceRepository(database, log)
	taskRepo := db.NewTaskRepository(database, log)

	instance := &domain.Instance{
		Name:            "host-1",
		AgentInstanceID: "aaaaaaaa-0000-0000-0000-000000000001",
		OnlineStatus:    domain.OnlineStatusOnline,
		Status:          domain.InstanceStatusActive,
	}
	require.NoError(t, instanceRepo.Create(context.Background(), instance))

	return &taskFixture{
		database: database,
		taskService: NewTaskService(TaskServiceConfig{
			TaskRepo:     taskRepo,
			InstanceRepo: instanceRepo,
			Logger:       log,
		}),
		instanceRepo: instanceRepo,
		instance:     instance,
	}
}

func (f *taskFixture) createTask(t *testing.T, input ports.CreateTaskInput) (*domain.Task, []domain.TaskRecord) {
	t.Helper()
	task, records, err := f.taskService.CreateTask(context.Background(), input)
	require.NoError(t, err)
	return task, records
}

func shellTask(priority int, targets ...uint) ports.CreateTaskInput {
	return ports.CreateTaskInput{
		TaskType:        domain.TaskTypeShellExec,
		TaskContent:     domain.JSONB{"script": "echo hi"},
		TargetInstances: targets,
		Priority:        priority,
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, _, err := f.taskService.CreateTask(ctx, ports.CreateTaskInput{
		TaskType:        domain.TaskType("bogus"),
		TargetInstances: []uint{f.instance.ID},
	})
	assert.ErrorIs(t, err, ErrTaskInvalidInput)

	_, _, err = f.taskService.CreateTask(ctx, ports.CreateTaskInput{
		TaskType: domain.TaskTypeShellExec,
	})
	assert.ErrorIs(t, err, ErrTaskInvalidInput)

	_, _, err = f.taskService.CreateTask(ctx, shellTask(0, 9999))
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestCreateTaskTimeoutDefaultsAndCap(t *testing.T) {
	f := newTaskFixture(t)

	task, records := f.createTask(t, shellTask(0, f.instance.ID))
	assert.Equal(t, 300, task.TimeoutSeconds)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordStatusPending, records[0].Status)

	input := shellTask(0, f.instance.ID)
	input.TimeoutSeconds = 7200
	task, _ = f.createTask(t, input)
	assert.Equal(t, 3600, task.TimeoutSeconds)
}

func TestPullTasksPriorityOrdering(t *testing.T) {
	f := newTaskFixture(t)

	f.createTask(t, shellTask(1, f.instance.ID))
	f.createTask(t, shellTask(5, f.instance.ID))
	f.createTask(t, shellTask(3, f.instance.ID))

	items, err := f.taskService.PullTasks(context.Background(), f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 5, items[0].Priority)
	assert.Equal(t, 3, items[1].Priority)
	assert.Equal(t, 1, items[2].Priority)
}

func TestPullTasksUnknownInstance(t *testing.T) {
	f := newTaskFixture(t)

	_, err := f.taskService.PullTasks(context.Background(), "no-such-agent", false, 0)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestPullTasksZeroTimeoutReturnsImmediately(t *testing.T) {
	f := newTaskFixture(t)

	started := time.Now()
	items, err := f.taskService.PullTasks(context.Background(), f.instance.AgentInstanceID, true, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Less(t, time.Since(started), time.Second)
}

func TestPullTasksRedispatchesUnacknowledgedRecords(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	f.createTask(t, shellTask(0, f.instance.ID))

	first, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// No result came back, so the same record is offered again.
	second, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].RecordID, second[0].RecordID)
}

func TestPullTasksSkipsSoftDeletedTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, _ := f.createTask(t, shellTask(0, f.instance.ID))
	require.NoError(t, f.database.Delete(&domain.Task{}, task.ID).Error)

	items, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteTaskStopsDispatchButKeepsTaskResolvable(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, _ := f.createTask(t, shellTask(0, f.instance.ID))

	require.NoError(t, f.taskService.DeleteTask(ctx, task.ID))
	assert.ErrorIs(t, f.taskService.DeleteTask(ctx, task.ID), ErrTaskNotFound)

	items, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	resolved, err := f.taskService.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, resolved.ID)
	assert.True(t, resolved.DeletedAt.Valid)

	_, err = f.taskService.GetTask(ctx, 9999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func submitInput(recordID uint, agentInstanceID string, status domain.RecordStatus) ports.SubmitResultInput {
	start := time.Now().Add(-2 * time.Second)
	end := time.Now()
	return ports.SubmitResultInput{
		RecordID:        recordID,
		AgentInstanceID: agentInstanceID,
		Status:          status,
		ResultCode:      0,
		ResultMessage:   "ok",
		ResultData:      domain.JSONB{"output": "hi\n", "status": float64(0)},
		StartTime:       start,
		EndTime:         end,
		DurationMs:      end.Sub(start).Milliseconds(),
	}
}

func TestSubmitResultIsIdempotent(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	input := submitInput(records[0].ID, f.instance.AgentInstanceID, domain.RecordStatusSuccess)

	require.NoError(t, f.taskService.SubmitResult(ctx, input))

	var after domain.TaskRecord
	require.NoError(t, f.database.First(&after, records[0].ID).Error)

	require.NoError(t, f.taskService.SubmitResult(ctx, input))

	var replayed domain.TaskRecord
	require.NoError(t, f.database.First(&replayed, records[0].ID).Error)

	assert.Equal(t, after.Status, replayed.Status)
	assert.Equal(t, after.DurationMs, replayed.DurationMs)
	assert.Equal(t, after.ResultMessage, replayed.ResultMessage)
	assert.Equal(t, after.RetryAttempt, replayed.RetryAttempt)
}

func TestSubmitResultRunningStopsRedispatch(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	f.createTask(t, shellTask(0, f.instance.ID))

	first, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	recordID := first[0].RecordID

	require.NoError(t, f.taskService.SubmitResult(ctx, submitInput(recordID, f.instance.AgentInstanceID, domain.RecordStatusRunning)))

	// The acknowledged record left the dispatch set.
	second, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	assert.Empty(t, second)

	var record domain.TaskRecord
	require.NoError(t, f.database.First(&record, recordID).Error)
	assert.Equal(t, domain.RecordStatusRunning, record.Status)
	require.NotNil(t, record.StartTime)
	assert.Nil(t, record.EndTime)
	assert.Empty(t, record.ResultMessage)
}

func TestSubmitResultRunningNeverRegressesTerminal(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	recordID := records[0].ID

	require.NoError(t, f.taskService.SubmitResult(ctx, submitInput(recordID, f.instance.AgentInstanceID, domain.RecordStatusSuccess)))

	// A late or replayed running acknowledgement is a no-op.
	require.NoError(t, f.taskService.SubmitResult(ctx, submitInput(recordID, f.instance.AgentInstanceID, domain.RecordStatusRunning)))

	var record domain.TaskRecord
	require.NoError(t, f.database.First(&record, recordID).Error)
	assert.Equal(t, domain.RecordStatusSuccess, record.Status)
	require.NotNil(t, record.EndTime)
	assert.Equal(t, "ok", record.ResultMessage)
}

func TestSubmitResultTimingInvariant(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	require.NoError(t, f.taskService.SubmitResult(ctx, submitInput(records[0].ID, f.instance.AgentInstanceID, domain.RecordStatusSuccess)))

	var record domain.TaskRecord
	require.NoError(t, f.database.First(&record, records[0].ID).Error)
	require.NotNil(t, record.StartTime)
	require.NotNil(t, record.EndTime)
	assert.False(t, record.EndTime.Before(*record.StartTime))
	assert.Equal(t, record.EndTime.Sub(*record.StartTime).Milliseconds(), record.DurationMs)
}

func TestSubmitResultRejectsWrongInstance(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	other := &domain.Instance{
		Name:            "host-2",
		AgentInstanceID: "aaaaaaaa-0000-0000-0000-000000000002",
		Status:          domain.InstanceStatusActive,
		OnlineStatus:    domain.OnlineStatusOffline,
	}
	require.NoError(t, f.instanceRepo.Create(ctx, other))

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	err := f.taskService.SubmitResult(ctx, submitInput(records[0].ID, other.AgentInstanceID, domain.RecordStatusSuccess))
	assert.ErrorIs(t, err, ErrInstanceMismatch)

	err = f.taskService.SubmitResult(ctx, submitInput(9999, f.instance.AgentInstanceID, domain.RecordStatusSuccess))
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRetryRecordOnlyFromFailedOrTimeout(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	recordID := records[0].ID

	_, err := f.taskService.RetryRecord(ctx, recordID)
	assert.ErrorIs(t, err, ErrRecordNotRetryable)

	require.NoError(t, f.taskService.SubmitResult(ctx, submitInput(recordID, f.instance.AgentInstanceID, domain.RecordStatusFailed)))

	retried, err := f.taskService.RetryRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusDispatched, retried.Status)
	assert.Equal(t, 1, retried.RetryAttempt)
	assert.Nil(t, retried.StartTime)
	assert.Nil(t, retried.EndTime)
	assert.Empty(t, retried.ErrorMessage)
	assert.Zero(t, retried.DurationMs)
}

func TestCancelRecord(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, records := f.createTask(t, shellTask(0, f.instance.ID))
	recordID := records[0].ID

	cancelled, err := f.taskService.CancelRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusCancelled, cancelled.Status)

	_, err = f.taskService.CancelRecord(ctx, recordID)
	assert.ErrorIs(t, err, ErrRecordTerminal)

	items, err := f.taskService.PullTasks(ctx, f.instance.AgentInstanceID, false, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
