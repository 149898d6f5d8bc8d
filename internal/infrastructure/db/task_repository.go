package db

import (
	"context"

	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{db: db, log: log}
}

func (r *taskRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		r.log.Errorw("task_repo_create_failed", "task_type", task.TaskType, "error", err)
		return err
	}
	r.log.Infow("task_repo_create_ok", "id", task.ID, "task_type", task.TaskType)
	return nil
}

func (r *taskRepository) GetTaskByID(ctx context.Context, id uint) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) GetTaskByIDWithDeleted(ctx context.Context, id uint) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).Unscoped().First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) DeleteTask(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Task{}, id).Error; err != nil {
		r.log.Errorw("task_repo_delete_failed", "id", id, "error", err)
		return err
	}
	return nil
}

func (r *taskRepository) CreateRecords(ctx context.Context, records []domain.TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		r.log.Errorw("task_repo_create_records_failed", "count", len(records), "error", err)
		return err
	}
	return nil
}

func (r *taskRepository) GetRecordByID(ctx context.Context, id uint) (*domain.TaskRecord, error) {
	var record domain.TaskRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *taskRepository) ListDispatchable(ctx context.Context, instanceID uint) ([]domain.TaskRecord, error) {
	var records []domain.TaskRecord
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND status IN ?", instanceID,
			[]domain.RecordStatus{domain.RecordStatusPending, domain.RecordStatusDispatched}).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		r.log.Errorw("task_repo_list_dispatchable_failed", "instance_id", instanceID, "error", err)
		return nil, err
	}
	return records, nil
}

func (r *taskRepository) ListRecordsByInstance(ctx context.Context, instanceID uint, limit int) ([]domain.TaskRecord, error) {
	var records []domain.TaskRecord
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if instanceID > 0 {
		q = q.Where("instance_id = ?", instanceID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *taskRepository) UpdateRecord(ctx context.Context, record *domain.TaskRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		r.log.Errorw("task_repo_update_record_failed", "id", record.ID, "error", err)
		return err
	}
	return nil
}
