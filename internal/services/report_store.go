package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/auditreport/internal/models"
	"gorm.io/gorm"
)

var ErrReportNotFound = errors.New("report not found")

// ReportVersionStore persists reports with per-inspection version numbers,
// exactly one of which is the latest.
type ReportVersionStore struct {
	db  *gorm.DB
	hub *SSEHub
}

func NewReportVersionStore(db *gorm.DB, hub *SSEHub) *ReportVersionStore {
	return &ReportVersionStore{db: db, hub: hub}
}

// CreateVersion inserts a new report for the inspection with version
// max(existing)+1, demoting every previous version. Soft-deleted versions
// count towards the maximum so numbers are never reused.
func (s *ReportVersionStore) CreateVersion(ctx context.Context, inspectionID string, data *models.Report) (string, error) {
	if inspectionID == "" {
		return "", errors.New("inspection id is required")
	}

	report := models.Report{}
	if data != nil {
		report = *data
	}
	report.ID = uuid.NewString()
	report.InspectionID = inspectionID
	report.IsLatest = true
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Unscoped().Model(&models.Report{}).
			Where("inspection_id = ?", inspectionID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Report{}).
			Where("inspection_id = ? AND is_latest = ?", inspectionID, true).
			Update("is_latest", false).Error; err != nil {
			return err
		}

		report.VersionNumber = maxVersion + 1
		return tx.Create(&report).Error
	})
	if err != nil {
		return "", fmt.Errorf("create report version: %w", err)
	}

	s.hub.Publish(reportEvent(&report))
	return report.ID, nil
}

func (s *ReportVersionStore) Get(ctx context.Context, id string) (*models.Report, error) {
	var report models.Report
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

// ListVersions returns every non-deleted version, newest first.
func (s *ReportVersionStore) ListVersions(ctx context.Context, inspectionID string) ([]models.Report, error) {
	var reports []models.Report
	err := s.db.WithContext(ctx).
		Where("inspection_id = ?", inspectionID).
		Order("version_number DESC").
		Find(&reports).Error
	return reports, err
}

func (s *ReportVersionStore) Latest(ctx context.Context, inspectionID string) (*models.Report, error) {
	var report models.Report
	err := s.db.WithContext(ctx).
		Where("inspection_id = ? AND is_latest = ?", inspectionID, true).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

// ListByStatus returns reports in the given status ordered by their
// inspection's creation time, newest inspection first. Reports whose
// inspection no longer exists sort last.
func (s *ReportVersionStore) ListByStatus(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	var reports []models.Report
	err := s.db.WithContext(ctx).
		Select("reports.*").
		Joins("LEFT JOIN inspections ON inspections.id = reports.inspection_id").
		Where("reports.status = ?", status).
		Order("CASE WHEN inspections.created_at IS NULL THEN 1 ELSE 0 END").
		Order("inspections.created_at DESC").
		Order("reports.created_at ASC").
		Find(&reports).Error
	return reports, err
}

// UpdateStatus is a plain field update; it does not check the prior status.
func (s *ReportVersionStore) UpdateStatus(ctx context.Context, id string, status models.ReportStatus, errMsg string) error {
	result := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": status,
			"error":  errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReportNotFound
	}

	reportTransitions.WithLabelValues(string(status)).Inc()
	if report, err := s.Get(ctx, id); err == nil {
		s.hub.Publish(reportEvent(report))
	}
	return nil
}

// ReportCommit is the payload written when a generation succeeds.
type ReportCommit struct {
	ReportData           []byte
	Usage                *models.TokenUsage
	ModelUsed            string
	HeaderValuesSnapshot map[string]string
	AuditorSnapshot      *models.AuditorIdentity
	AnswersSnapshot      map[string]models.Answer
	EditorState          *models.EditorState
	GeneratedAt          time.Time
}

// Commit marks the report DONE and stores its content and snapshot fields.
func (s *ReportVersionStore) Commit(ctx context.Context, id string, c *ReportCommit) error {
	report, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	generatedAt := c.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	report.Status = models.ReportStatusDone
	report.Error = ""
	report.GeneratedAt = &generatedAt
	report.ReportData = c.ReportData
	report.Usage = c.Usage
	report.ModelUsed = c.ModelUsed
	report.HeaderValuesSnapshot = c.HeaderValuesSnapshot
	report.AuditorSnapshot = c.AuditorSnapshot
	report.AnswersSnapshot = c.AnswersSnapshot
	report.EditorState = c.EditorState

	if err := s.db.WithContext(ctx).Model(report).Select(
		"status", "error", "generated_at", "report_data", "usage", "model_used",
		"header_values_snapshot", "auditor_snapshot", "answers_snapshot", "editor_state",
	).Updates(report).Error; err != nil {
		return fmt.Errorf("commit report %s: %w", id, err)
	}

	reportTransitions.WithLabelValues(string(models.ReportStatusDone)).Inc()
	s.hub.Publish(reportEvent(report))
	return nil
}
