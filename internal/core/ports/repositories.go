package ports

import (
	"context"
	"time"

	"github.com/monihub/monihub/internal/domain"
)

type InstanceRepository interface {
	Create(ctx context.Context, instance *domain.Instance) error
	GetByID(ctx context.Context, id uint) (*domain.Instance, error)
	GetByAgentInstanceID(ctx context.Context, agentInstanceID string) (*domain.Instance, error)
	GetAll(ctx context.Context) ([]domain.Instance, error)
	Update(ctx context.Context, instance *domain.Instance) error
	// MarkOffline flips active instances whose activity cutoff has passed and
	// returns the number of rows changed.
	MarkOffline(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)
	Delete(ctx context.Context, id uint) error
}

type InstanceRecordRepository interface {
	Create(ctx context.Context, record *domain.InstanceRecord) error
	GetByInstanceID(ctx context.Context, instanceID uint, limit int) ([]domain.InstanceRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type TaskRepository interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTaskByID(ctx context.Context, id uint) (*domain.Task, error)
	GetTaskByIDWithDeleted(ctx context.Context, id uint) (*domain.Task, error)
	DeleteTask(ctx context.Context, id uint) error

	CreateRecords(ctx context.Context, records []domain.TaskRecord) error
	GetRecordByID(ctx context.Context, id uint) (*domain.TaskRecord, error)
	// ListDispatchable returns records for one instance that are waiting to be
	// handed out (pending or dispatched), oldest first.
	ListDispatchable(ctx context.Context, instanceID uint) ([]domain.TaskRecord, error)
	ListRecordsByInstance(ctx context.Context, instanceID uint, limit int) ([]domain.TaskRecord, error)
	UpdateRecord(ctx context.Context, record *domain.TaskRecord) error
}
