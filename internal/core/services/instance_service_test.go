package services

import (
	"context"
	"testing"
	"time"

	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/db"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type instanceFixture struct {
	database *gorm.DB
	service  *InstanceService
	repo     ports.InstanceRepository
}

func newInstanceFixture(t *testing.T) *instanceFixture {
	t.Helper()

	database := newTestDB(t)
	log := logger.NewNop()
	repo := db.NewInstanceRepository(database, log)
	recordRepo := db.NewInstanceRecordRepository(database, log)

	return &instanceFixture{
		database: database,
		repo:     repo,
		service: NewInstanceService(InstanceServiceConfig{
			Repository: repo,
			RecordRepo: recordRepo,
			Logger:     log,
		}),
	}
}

func TestCreateInstance(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{})
	assert.ErrorIs(t, err, ErrInstanceInvalidInput)

	instance, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{Name: "web-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, instance.AgentInstanceID)
	assert.Equal(t, domain.OnlineStatusOffline, instance.OnlineStatus)
	assert.Equal(t, domain.InstanceStatusActive, instance.Status)

	_, err = f.service.CreateInstance(ctx, ports.CreateInstanceInput{
		Name:            "web-1-copy",
		AgentInstanceID: instance.AgentInstanceID,
	})
	assert.ErrorIs(t, err, ErrInstanceAlreadyExists)
}

func TestIngestReportUpdatesSummary(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	instance, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{Name: "web-1"})
	require.NoError(t, err)

	reportedAt := time.Now().Add(-time.Second)
	recordID, err := f.service.IngestReport(ctx, ports.ReportInput{
		AgentInstanceID: instance.AgentInstanceID,
		AgentType:       "monihub-agent",
		AgentVersion:    "0.1.0",
		SystemInfo:      domain.JSONB{"hostname": "web-1.internal", "os_type": "linux", "os_version": "6.1"},
		NetworkInfo:     domain.JSONB{"primary_ip": "10.0.0.5", "mac": "02:00:00:aa:bb:cc"},
		RuntimeInfo:     domain.JSONB{"uptime_seconds": float64(120)},
		HardwareInfo:    domain.JSONB{"cpu_cores": float64(4)},
		ReportTimestamp: &reportedAt,
	})
	require.NoError(t, err)
	assert.NotZero(t, recordID)

	updated, err := f.service.GetInstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OnlineStatusOnline, updated.OnlineStatus)
	assert.Equal(t, "web-1.internal", updated.Hostname)
	assert.Equal(t, "linux", updated.OSType)
	assert.Equal(t, "10.0.0.5", updated.PrimaryIP)
	assert.Equal(t, uint64(120), updated.UptimeSeconds)
	assert.Equal(t, int64(1), updated.ReportCount)
	assert.NotNil(t, updated.FirstReportAt)
	assert.NotNil(t, updated.LastReportAt)
	assert.Nil(t, updated.OfflineAt)

	_, err = f.service.IngestReport(ctx, ports.ReportInput{
		AgentInstanceID: instance.AgentInstanceID,
	})
	require.NoError(t, err)

	updated, err = f.service.GetInstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.ReportCount)
	// A sparse report must not blank previously learned fields.
	assert.Equal(t, "web-1.internal", updated.Hostname)
}

func TestIngestReportUnknownInstance(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.service.IngestReport(context.Background(), ports.ReportInput{
		AgentInstanceID: "no-such-agent",
	})
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestMarkStaleOffline(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	stale, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{Name: "stale"})
	require.NoError(t, err)
	fresh, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{Name: "fresh"})
	require.NoError(t, err)

	now := time.Now()
	staleReport := now.Add(-10 * time.Minute)
	freshReport := now.Add(-time.Minute)

	require.NoError(t, f.database.Model(&domain.Instance{}).Where("id = ?", stale.ID).
		Updates(map[string]interface{}{"online_status": domain.OnlineStatusOnline, "last_report_at": staleReport}).Error)
	require.NoError(t, f.database.Model(&domain.Instance{}).Where("id = ?", fresh.ID).
		Updates(map[string]interface{}{"online_status": domain.OnlineStatusOnline, "last_report_at": freshReport}).Error)

	affected, err := f.service.MarkStaleOffline(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	staleAfter, err := f.service.GetInstanceByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OnlineStatusOffline, staleAfter.OnlineStatus)
	assert.NotNil(t, staleAfter.OfflineAt)

	freshAfter, err := f.service.GetInstanceByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OnlineStatusOnline, freshAfter.OnlineStatus)

	// Second sweep finds nothing new.
	affected, err = f.service.MarkStaleOffline(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestPurgeOldReports(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	instance, err := f.service.CreateInstance(ctx, ports.CreateInstanceInput{Name: "web-1"})
	require.NoError(t, err)

	_, err = f.service.IngestReport(ctx, ports.ReportInput{AgentInstanceID: instance.AgentInstanceID})
	require.NoError(t, err)

	old := domain.InstanceRecord{InstanceID: instance.ID}
	require.NoError(t, f.database.Create(&old).Error)
	require.NoError(t, f.database.Model(&domain.InstanceRecord{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-8*24*time.Hour)).Error)

	deleted, err := f.service.PurgeOldReports(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, f.database.Model(&domain.InstanceRecord{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}
