package services

import (
	"context"
	"errors"
	"time"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

// runGeneration takes one claimed report from PENDING to DONE or ERROR.
// The report is re-read before starting, after the generator returns and
// right before committing; if anyone has marked it ERROR in the meantime
// the result is discarded.
func (s *ReportScheduler) runGeneration(ctx context.Context, reportID string) {
	start := time.Now()
	defer func() { generationDuration.Observe(time.Since(start).Seconds()) }()

	report, ok := s.checkNotFailed(ctx, reportID, "before start")
	if !ok {
		return
	}

	if err := s.store.UpdateStatus(ctx, reportID, models.ReportStatusGenerating, ""); err != nil {
		logger.Errorf("[Scheduler] Failed to mark report %s as generating: %v", reportID, err)
		return
	}
	logger.Infof("[Scheduler] Generating report %s (inspection %s, version %d)", reportID, report.InspectionID, report.VersionNumber)

	insp, err := s.inspections.Get(ctx, report.InspectionID)
	if err != nil {
		if errors.Is(err, ErrInspectionNotFound) {
			s.fail(ctx, reportID, MsgInspectionDeleted)
		} else {
			s.fail(ctx, reportID, err.Error())
		}
		return
	}
	typ, err := s.inspections.GetType(ctx, insp.TypeID)
	if err != nil {
		s.fail(ctx, reportID, err.Error())
		return
	}

	headerValues := s.snapshots.BuildHeaderValues(ctx, insp)
	auditor := s.snapshots.BuildAuditor(ctx, insp)

	input := *insp
	input.HeaderValues = headerValues
	out, err := s.generator.GenerateReport(ctx, &GeneratorInput{
		ReportID:   reportID,
		Inspection: &input,
		Type:       typ,
	})
	if err != nil {
		logger.Errorf("[Scheduler] Report %s generation failed: %v", reportID, err)
		s.fail(ctx, reportID, err.Error())
		return
	}

	if _, ok := s.checkNotFailed(ctx, reportID, "after generation"); !ok {
		return
	}

	answers := CopyAnswers(insp.Answers)
	editorState := s.snapshots.BuildEditorState(answers, typ, auditor)

	if _, ok := s.checkNotFailed(ctx, reportID, "before commit"); !ok {
		return
	}

	if err := s.store.Commit(ctx, reportID, &ReportCommit{
		ReportData:           out.Result,
		Usage:                out.Usage,
		ModelUsed:            out.Model,
		HeaderValuesSnapshot: headerValues,
		AuditorSnapshot:      auditor,
		AnswersSnapshot:      answers,
		EditorState:          editorState,
		GeneratedAt:          s.now(),
	}); err != nil {
		logger.Errorf("[Scheduler] Failed to commit report %s: %v", reportID, err)
		s.fail(ctx, reportID, err.Error())
		return
	}
	logger.Infof("[Scheduler] Report %s done in %s (model %s, %d entries)",
		reportID, time.Since(start).Round(time.Millisecond), out.Model, len(editorState.Entries))
}

// checkNotFailed re-reads the report and reports whether generation may
// continue.
func (s *ReportScheduler) checkNotFailed(ctx context.Context, reportID, stage string) (*models.Report, bool) {
	report, err := s.store.Get(ctx, reportID)
	if err != nil {
		logger.Warnf("[Scheduler] Report %s unavailable %s, abandoning: %v", reportID, stage, err)
		return nil, false
	}
	if report.Status == models.ReportStatusError {
		logger.Warnf("[Scheduler] Report %s was marked failed %s, abandoning: %s", reportID, stage, report.Error)
		return report, false
	}
	return report, true
}

func (s *ReportScheduler) fail(ctx context.Context, reportID, msg string) {
	if err := s.store.UpdateStatus(ctx, reportID, models.ReportStatusError, msg); err != nil {
		logger.Errorf("[Scheduler] Failed to mark report %s as failed: %v", reportID, err)
	}
}
