package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/monihub/monihub/internal/metrics"
	"gorm.io/gorm"
)

const (
	// An active instance with no report inside this window is flipped offline.
	offlineThreshold = 5 * time.Minute
	// Report history rows older than this are purged by the daily sweeper.
	reportRetention = 7 * 24 * time.Hour
)

type InstanceService struct {
	repo       ports.InstanceRepository
	recordRepo ports.InstanceRecordRepository
	log        *logger.Logger
}

type InstanceServiceConfig struct {
	Repository ports.InstanceRepository
	RecordRepo ports.InstanceRecordRepository
	Logger     *logger.Logger
}

func NewInstanceService(cfg InstanceServiceConfig) *InstanceService {
	return &InstanceService{
		repo:       cfg.Repository,
		recordRepo: cfg.RecordRepo,
		log:        cfg.Logger,
	}
}

func (s *InstanceService) CreateInstance(ctx context.Context, input ports.CreateInstanceInput) (*domain.Instance, error) {
	if input.Name == "" {
		return nil, ErrInstanceInvalidInput
	}

	agentInstanceID := input.AgentInstanceID
	if agentInstanceID == "" {
		agentInstanceID = uuid.New().String()
	}

	if _, err := s.repo.GetByAgentInstanceID(ctx, agentInstanceID); err == nil {
		return nil, ErrInstanceAlreadyExists
	}

	instance := &domain.Instance{
		Name:            input.Name,
		AgentInstanceID: agentInstanceID,
		OnlineStatus:    domain.OnlineStatusOffline,
		Status:          domain.InstanceStatusActive,
	}
	if err := s.repo.Create(ctx, instance); err != nil {
		return nil, err
	}

	s.log.Infow("instance_created", "id", instance.ID, "agent_instance_id", agentInstanceID)
	return instance, nil
}

func (s *InstanceService) GetInstances(ctx context.Context) ([]domain.Instance, error) {
	return s.repo.GetAll(ctx)
}

func (s *InstanceService) GetInstanceByID(ctx context.Context, id uint) (*domain.Instance, error) {
	instance, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return instance, nil
}

// IngestReport appends an immutable history row, then refreshes the summary
// row: latest hardware snapshot, report counters and online status.
func (s *InstanceService) IngestReport(ctx context.Context, input ports.ReportInput) (uint, error) {
	instance, err := s.repo.GetByAgentInstanceID(ctx, input.AgentInstanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrInstanceNotFound
		}
		return 0, err
	}

	record := &domain.InstanceRecord{
		InstanceID:      instance.ID,
		AgentType:       input.AgentType,
		AgentVersion:    input.AgentVersion,
		SystemInfo:      input.SystemInfo,
		NetworkInfo:     input.NetworkInfo,
		HardwareInfo:    input.HardwareInfo,
		RuntimeInfo:     input.RuntimeInfo,
		CustomMetrics:   input.CustomMetrics,
		Logs:            input.Logs,
		ReportTimestamp: input.ReportTimestamp,
	}
	if err := s.recordRepo.Create(ctx, record); err != nil {
		return 0, err
	}

	now := time.Now()
	instance.AgentType = input.AgentType
	instance.AgentVersion = input.AgentVersion
	instance.Hardware = input.HardwareInfo
	applySystemInfo(instance, input.SystemInfo)
	applyNetworkInfo(instance, input.NetworkInfo)
	applyRuntimeInfo(instance, input.RuntimeInfo)
	instance.LastReportAt = &now
	if instance.FirstReportAt == nil {
		instance.FirstReportAt = &now
	}
	instance.ReportCount++
	instance.OnlineStatus = domain.OnlineStatusOnline
	instance.OfflineAt = nil

	if err := s.repo.Update(ctx, instance); err != nil {
		return 0, err
	}

	metrics.ReportsIngested.Inc()
	s.log.Debugw("report_ingested", "instance_id", instance.ID, "record_id", record.ID, "report_count", instance.ReportCount)
	return record.ID, nil
}

// MarkStaleOffline implements the 60-second offline sweep.
func (s *InstanceService) MarkStaleOffline(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-offlineThreshold)
	affected, err := s.repo.MarkOffline(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		metrics.InstancesMarkedOffline.Add(float64(affected))
		s.log.Infow("instances_marked_offline", "count", affected, "cutoff", cutoff)
	}
	return affected, nil
}

// PurgeOldReports implements the daily report-history cleanup.
func (s *InstanceService) PurgeOldReports(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-reportRetention)
	deleted, err := s.recordRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Infow("instance_records_purged", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func applySystemInfo(instance *domain.Instance, info domain.JSONB) {
	if info == nil {
		return
	}
	if v, ok := info["hostname"].(string); ok && v != "" {
		instance.Hostname = v
	}
	if v, ok := info["os_type"].(string); ok && v != "" {
		instance.OSType = v
	}
	if v, ok := info["os_version"].(string); ok && v != "" {
		instance.OSVersion = v
	}
}

func applyNetworkInfo(instance *domain.Instance, info domain.JSONB) {
	if info == nil {
		return
	}
	if v, ok := info["primary_ip"].(string); ok && v != "" {
		instance.PrimaryIP = v
	}
	if v, ok := info["public_ip"].(string); ok && v != "" {
		instance.PublicIP = v
	}
	if v, ok := info["mac"].(string); ok && v != "" {
		instance.MAC = v
	}
}

func applyRuntimeInfo(instance *domain.Instance, info domain.JSONB) {
	if info == nil {
		return
	}
	if v, ok := info["uptime_seconds"].(float64); ok && v >= 0 {
		instance.UptimeSeconds = uint64(v)
	}
}
