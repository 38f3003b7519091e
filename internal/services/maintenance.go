package services

import (
	"fmt"
	"time"

	"github.com/huangang/auditreport/internal/config"
	"github.com/huangang/auditreport/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Notifier wakes the report scheduler for an extra pass.
type Notifier interface {
	Notify()
}

// MaintenanceService runs the periodic housekeeping jobs: a safety-net poll
// of the report scheduler and the usage log retention cleanup.
type MaintenanceService struct {
	usage         *AIUsageService
	scheduler     Notifier
	cronScheduler *cron.Cron
	cfg           config.ReportConfig
	now           func() time.Time
}

func NewMaintenanceService(usage *AIUsageService, scheduler Notifier, cfg config.ReportConfig) *MaintenanceService {
	return &MaintenanceService{
		usage:     usage,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *MaintenanceService) StartScheduler() error {
	s.cronScheduler = cron.New()

	pollExpr := fmt.Sprintf("@every %s", s.cfg.PollInterval())
	if _, err := s.cronScheduler.AddFunc(pollExpr, s.scheduler.Notify); err != nil {
		return fmt.Errorf("schedule report poll: %w", err)
	}

	if s.cfg.UsageRetentionDays > 0 && s.cfg.UsageCleanupCron != "" {
		if _, err := s.cronScheduler.AddFunc(s.cfg.UsageCleanupCron, func() {
			s.CleanupUsage()
		}); err != nil {
			return fmt.Errorf("schedule usage cleanup (cron: %s): %w", s.cfg.UsageCleanupCron, err)
		}
		logger.Infof("[Maintenance] Usage cleanup scheduled (cron: %s, retention: %d days)",
			s.cfg.UsageCleanupCron, s.cfg.UsageRetentionDays)
	}

	s.cronScheduler.Start()
	logger.Infof("[Maintenance] Scheduler started, report poll %s", pollExpr)
	return nil
}

func (s *MaintenanceService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// CleanupUsage deletes usage logs older than the retention window.
func (s *MaintenanceService) CleanupUsage() int64 {
	if s.cfg.UsageRetentionDays <= 0 {
		return 0
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.UsageRetentionDays)
	n, err := s.usage.CleanupBefore(cutoff)
	if err != nil {
		logger.Errorf("[Maintenance] Usage cleanup failed: %v", err)
		return 0
	}
	if n > 0 {
		logger.Infof("[Maintenance] Deleted %d usage logs older than %s", n, cutoff.Format("2006-01-02"))
	}
	return n
}
