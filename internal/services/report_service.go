package services

import (
	"context"
	"fmt"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

// ReportService is the entry point for report requests coming from the API
// and the task queue. It only ever creates PENDING versions; the scheduler
// does the generating.
type ReportService struct {
	store       *ReportVersionStore
	inspections *InspectionService
	queue       TaskQueue
}

func NewReportService(store *ReportVersionStore, inspections *InspectionService, queue TaskQueue) *ReportService {
	return &ReportService{store: store, inspections: inspections, queue: queue}
}

// RequestRegeneration queues a new version for a completed inspection.
// Existing versions are left untouched.
func (s *ReportService) RequestRegeneration(ctx context.Context, inspectionID, requestedBy string) error {
	insp, err := s.inspections.Get(ctx, inspectionID)
	if err != nil {
		return err
	}
	if insp.CompletedAt == nil {
		return ErrInspectionNotCompleted
	}
	return s.queue.Enqueue(&ReportTask{
		InspectionID: inspectionID,
		Reason:       ReportReasonRegenerate,
		RequestedBy:  requestedBy,
	})
}

// ProcessTask creates the PENDING version a task asks for.
func (s *ReportService) ProcessTask(ctx context.Context, task *ReportTask) error {
	if _, err := s.inspections.Get(ctx, task.InspectionID); err != nil {
		return fmt.Errorf("report task for inspection %s: %w", task.InspectionID, err)
	}

	id, err := s.store.CreateVersion(ctx, task.InspectionID, &models.Report{RequestedBy: task.RequestedBy})
	if err != nil {
		return err
	}
	logger.Infof("[Report] Created pending report %s for inspection %s (%s)", id, task.InspectionID, task.Reason)
	return nil
}

func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	return s.store.Get(ctx, id)
}

func (s *ReportService) ListVersions(ctx context.Context, inspectionID string) ([]models.Report, error) {
	if _, err := s.inspections.Get(ctx, inspectionID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, inspectionID)
}
