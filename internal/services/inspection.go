package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrInspectionNotFound     = errors.New("inspection not found")
	ErrInspectionTypeNotFound = errors.New("inspection type not found")
	ErrInspectionNotCompleted = errors.New("inspection is not completed")
)

// InspectionService reads inspections and their type definitions, and
// requests the first report when an inspection is completed.
type InspectionService struct {
	db    *gorm.DB
	queue TaskQueue
}

func NewInspectionService(db *gorm.DB, queue TaskQueue) *InspectionService {
	return &InspectionService{db: db, queue: queue}
}

// Get always reads the current record.
func (s *InspectionService) Get(ctx context.Context, id string) (*models.Inspection, error) {
	var insp models.Inspection
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&insp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInspectionNotFound
		}
		return nil, err
	}
	return &insp, nil
}

func (s *InspectionService) GetType(ctx context.Context, id string) (*models.InspectionType, error) {
	var typ models.InspectionType
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&typ).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInspectionTypeNotFound
		}
		return nil, err
	}
	return &typ, nil
}

// ExistingIDs returns the subset of ids that still name a live inspection.
func (s *InspectionService) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&models.Inspection{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// Complete stamps the inspection as completed and queues its first report.
// Completing an already completed inspection is a no-op.
func (s *InspectionService) Complete(ctx context.Context, id, requestedBy string) (*models.Inspection, error) {
	insp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if insp.CompletedAt != nil {
		return insp, nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(insp).Update("completed_at", now).Error; err != nil {
		return nil, fmt.Errorf("complete inspection %s: %w", id, err)
	}
	insp.CompletedAt = &now

	if err := s.queue.Enqueue(&ReportTask{
		InspectionID: id,
		Reason:       ReportReasonCompleted,
		RequestedBy:  requestedBy,
	}); err != nil {
		return insp, fmt.Errorf("queue report for inspection %s: %w", id, err)
	}
	logger.Infof("[Inspection] Inspection %s completed, report queued", id)
	return insp, nil
}
