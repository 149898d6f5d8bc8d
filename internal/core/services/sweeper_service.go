package services

import (
	"context"
	"time"

	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

const (
	offlineSweepInterval = 60 * time.Second
	purgeSweepInterval   = 24 * time.Hour
)

// SweeperService runs the periodic offline sweep and the daily report-history
// purge. Both loops stop when the context is cancelled.
type SweeperService struct {
	instances ports.InstanceService
	log       *logger.Logger
}

func NewSweeperService(instances ports.InstanceService, log *logger.Logger) *SweeperService {
	return &SweeperService{instances: instances, log: log}
}

func (s *SweeperService) Start(ctx context.Context) {
	go s.runOfflineSweep(ctx)
	go s.runReportPurge(ctx)
}

func (s *SweeperService) runOfflineSweep(ctx context.Context) {
	ticker := time.NewTicker(offlineSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.instances.MarkStaleOffline(ctx, time.Now()); err != nil {
				s.log.Warnw("offline_sweep_failed", "error", err)
			}
		}
	}
}

func (s *SweeperService) runReportPurge(ctx context.Context) {
	ticker := time.NewTicker(purgeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.instances.PurgeOldReports(ctx, time.Now()); err != nil {
				s.log.Warnw("report_purge_failed", "error", err)
			}
		}
	}
}
