package db

import (
	"context"
	"time"

	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type instanceRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInstanceRepository(db *gorm.DB, log *logger.Logger) ports.InstanceRepository {
	return &instanceRepository{db: db, log: log}
}

func (r *instanceRepository) Create(ctx context.Context, instance *domain.Instance) error {
	if err := r.db.WithContext(ctx).Create(instance).Error; err != nil {
		r.log.Errorw("instance_repo_create_failed", "agent_instance_id", instance.AgentInstanceID, "error", err)
		return err
	}
	r.log.Infow("instance_repo_create_ok", "id", instance.ID, "agent_instance_id", instance.AgentInstanceID)
	return nil
}

func (r *instanceRepository) GetByID(ctx context.Context, id uint) (*domain.Instance, error) {
	var instance domain.Instance
	if err := r.db.WithContext(ctx).First(&instance, id).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *instanceRepository) GetByAgentInstanceID(ctx context.Context, agentInstanceID string) (*domain.Instance, error) {
	var instance domain.Instance
	if err := r.db.WithContext(ctx).Where("agent_instance_id = ?", agentInstanceID).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *instanceRepository) GetAll(ctx context.Context) ([]domain.Instance, error) {
	var instances []domain.Instance
	if err := r.db.WithContext(ctx).Find(&instances).Error; err != nil {
		r.log.Errorw("instance_repo_list_failed", "error", err)
		return nil, err
	}
	return instances, nil
}

func (r *instanceRepository) Update(ctx context.Context, instance *domain.Instance) error {
	if err := r.db.WithContext(ctx).Save(instance).Error; err != nil {
		r.log.Errorw("instance_repo_update_failed", "id", instance.ID, "error", err)
		return err
	}
	return nil
}

// MarkOffline uses a conditional update so a racing report simply wins or
// loses the row without corrupting it. Instances that never reported fall
// back to first_report_at, then created_at, for the staleness check.
func (r *instanceRepository) MarkOffline(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("status = ? AND online_status = ?", domain.InstanceStatusActive, domain.OnlineStatusOnline).
		Where(
			"(last_report_at IS NOT NULL AND last_report_at <= ?) OR "+
				"(last_report_at IS NULL AND first_report_at IS NOT NULL AND first_report_at <= ?) OR "+
				"(last_report_at IS NULL AND first_report_at IS NULL AND created_at <= ?)",
			cutoff, cutoff, cutoff,
		).
		Updates(map[string]interface{}{
			"online_status": domain.OnlineStatusOffline,
			"offline_at":    now,
		})
	if result.Error != nil {
		r.log.Errorw("instance_repo_mark_offline_failed", "error", result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *instanceRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Instance{}, id).Error; err != nil {
		r.log.Errorw("instance_repo_delete_failed", "id", id, "error", err)
		return err
	}
	r.log.Infow("instance_repo_delete_ok", "id", id)
	return nil
}

type instanceRecordRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInstanceRecordRepository(db *gorm.DB, log *logger.Logger) ports.InstanceRecordRepository {
	return &instanceRecordRepository{db: db, log: log}
}

func (r *instanceRecordRepository) Create(ctx context.Context, record *domain.InstanceRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.log.Errorw("instance_record_repo_create_failed", "instance_id", record.InstanceID, "error", err)
		return err
	}
	return nil
}

func (r *instanceRecordRepository) GetByInstanceID(ctx context.Context, instanceID uint, limit int) ([]domain.InstanceRecord, error) {
	var records []domain.InstanceRecord
	q := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *instanceRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.InstanceRecord{})
	if result.Error != nil {
		r.log.Errorw("instance_record_repo_purge_failed", "error", result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
