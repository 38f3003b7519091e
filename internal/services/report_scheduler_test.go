package services

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/huangang/auditreport/internal/models"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	mu     sync.Mutex
	inputs []*GeneratorInput
	err    error
	hook   func(in *GeneratorInput)
	block  chan struct{}
}

func (g *fakeGenerator) GenerateReport(ctx context.Context, in *GeneratorInput) (*GeneratorOutput, error) {
	g.mu.Lock()
	g.inputs = append(g.inputs, in)
	hook, block, err := g.hook, g.block, g.err
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if hook != nil {
		hook(in)
	}
	if err != nil {
		return nil, err
	}
	return &GeneratorOutput{
		Result: json.RawMessage(`{"summary":"all good"}`),
		Usage:  &models.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Model:  "gemini-2.5-flash",
	}, nil
}

func (g *fakeGenerator) Inputs() []*GeneratorInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*GeneratorInput(nil), g.inputs...)
}

type schedulerFixture struct {
	db        *gorm.DB
	store     *ReportVersionStore
	scheduler *ReportScheduler
	generator *fakeGenerator
}

func newSchedulerFixture(t *testing.T, hub *SSEHub) *schedulerFixture {
	t.Helper()
	db := newTestDB(t)
	store := NewReportVersionStore(db, hub)
	gen := &fakeGenerator{}
	scheduler := NewReportScheduler(
		store,
		NewInspectionService(db, NewSyncQueue()),
		NewSnapshotBuilder(newFakeDirectory()),
		gen,
		hub,
		10*time.Minute,
	)
	return &schedulerFixture{db: db, store: store, scheduler: scheduler, generator: gen}
}

// seedInspection stores inspection I1: two non-compliant answers carrying
// three non-compliance entries in total.
func (f *schedulerFixture) seedInspection(t *testing.T, id string, createdAt time.Time) *models.Inspection {
	t.Helper()
	typ := sampleType()
	if err := f.db.FirstOrCreate(typ, models.InspectionType{ID: typ.ID}).Error; err != nil {
		t.Fatalf("seed type: %v", err)
	}
	completed := createdAt.Add(time.Hour)
	insp := &models.Inspection{
		ID:           id,
		TypeID:       typ.ID,
		PremiseID:    "prem-1",
		AuditorID:    "aud-1",
		Answers:      sampleAnswers(),
		HeaderValues: map[string]string{HeaderPremiseName: "Stale Name", "visit_reason": "routine"},
		CompletedAt:  &completed,
		CreatedAt:    createdAt,
	}
	if err := f.db.Create(insp).Error; err != nil {
		t.Fatalf("seed inspection: %v", err)
	}
	return insp
}

func (f *schedulerFixture) mustGet(t *testing.T, id string) *models.Report {
	t.Helper()
	report, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return report
}

func (f *schedulerFixture) runOnce(t *testing.T) {
	t.Helper()
	if !f.scheduler.Tick(context.Background()) {
		t.Fatal("expected Tick to start a generation")
	}
	f.scheduler.Wait()
}

func TestStuckMessage(t *testing.T) {
	tests := []struct {
		threshold time.Duration
		expected  string
	}{
		{10 * time.Minute, "generation exceeded the time limit (10 minutes)"},
		{time.Minute, "generation exceeded the time limit (1 minute)"},
		{2 * time.Hour, "generation exceeded the time limit (2 hours)"},
		{45 * time.Second, "generation exceeded the time limit (45 seconds)"},
		{90 * time.Second, "generation exceeded the time limit (90 seconds)"},
	}
	for _, tt := range tests {
		t.Run(tt.threshold.String(), func(t *testing.T) {
			if got := StuckMessage(tt.threshold); got != tt.expected {
				t.Errorf("StuckMessage(%s) = %q, expected %q", tt.threshold, got, tt.expected)
			}
		})
	}
}

func TestReportScheduler_SweepStuck(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))

	stuckID, _ := f.store.CreateVersion(ctx, "I1", &models.Report{
		Status:    models.ReportStatusGenerating,
		CreatedAt: time.Now().Add(-20 * time.Minute),
	})
	freshID, _ := f.store.CreateVersion(ctx, "I1", &models.Report{
		Status:    models.ReportStatusGenerating,
		CreatedAt: time.Now().Add(-time.Minute),
	})

	if f.scheduler.Running() {
		t.Fatal("no generation should be running")
	}
	n, err := f.scheduler.SweepStuck(ctx)
	if err != nil {
		t.Fatalf("SweepStuck: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d reports, expected 1", n)
	}

	stuck := f.mustGet(t, stuckID)
	if stuck.Status != models.ReportStatusError {
		t.Errorf("stuck report status = %s, expected ERROR", stuck.Status)
	}
	if stuck.Error != StuckMessage(f.scheduler.StuckTimeout()) {
		t.Errorf("stuck report error = %q, expected %q", stuck.Error, StuckMessage(f.scheduler.StuckTimeout()))
	}
	if fresh := f.mustGet(t, freshID); fresh.Status != models.ReportStatusGenerating {
		t.Errorf("fresh report status = %s, expected GENERATING", fresh.Status)
	}
}

func TestReportScheduler_TickSweepsWithoutPendingWork(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))
	stuckID, _ := f.store.CreateVersion(ctx, "I1", &models.Report{
		Status:    models.ReportStatusGenerating,
		CreatedAt: time.Now().Add(-time.Hour),
	})

	if started := f.scheduler.Tick(ctx); started {
		t.Error("Tick should not start a generation without PENDING reports")
	}
	if r := f.mustGet(t, stuckID); r.Status != models.ReportStatusError {
		t.Errorf("status = %s, expected ERROR", r.Status)
	}
}

func TestReportScheduler_SweepOrphans(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))

	orphanID, _ := f.store.CreateVersion(ctx, "deleted-insp", &models.Report{Status: models.ReportStatusGenerating})
	liveID, _ := f.store.CreateVersion(ctx, "I1", &models.Report{Status: models.ReportStatusGenerating})
	softDeleted := f.seedInspection(t, "I2", time.Now().Add(-time.Hour))
	softID, _ := f.store.CreateVersion(ctx, "I2", &models.Report{Status: models.ReportStatusGenerating})
	f.db.Delete(softDeleted)

	n, err := f.scheduler.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d reports, expected 2", n)
	}
	for _, id := range []string{orphanID, softID} {
		r := f.mustGet(t, id)
		if r.Status != models.ReportStatusError || r.Error != MsgInspectionDeleted {
			t.Errorf("report %s = {%s %q}, expected {ERROR %q}", id, r.Status, r.Error, MsgInspectionDeleted)
		}
	}
	if r := f.mustGet(t, liveID); r.Status != models.ReportStatusGenerating {
		t.Errorf("live report status = %s, expected GENERATING", r.Status)
	}
}

func TestReportScheduler_GeneratesInspectionReport(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	i1 := f.seedInspection(t, "I1", time.Now().Add(-time.Hour))

	id, err := f.store.CreateVersion(ctx, "I1", nil)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	f.runOnce(t)

	report := f.mustGet(t, id)
	if report.Status != models.ReportStatusDone {
		t.Fatalf("status = %s (%s), expected DONE", report.Status, report.Error)
	}
	if report.VersionNumber != 1 || !report.IsLatest {
		t.Errorf("version = {%d latest:%v}, expected {1 true}", report.VersionNumber, report.IsLatest)
	}
	if report.GeneratedAt == nil {
		t.Error("GeneratedAt should be set")
	}
	if report.ModelUsed != "gemini-2.5-flash" || report.Usage == nil || report.Usage.TotalTokens != 150 {
		t.Errorf("model/usage = %s/%+v", report.ModelUsed, report.Usage)
	}
	if string(report.ReportData) != `{"summary":"all good"}` {
		t.Errorf("ReportData = %s", report.ReportData)
	}

	if report.EditorState == nil || len(report.EditorState.Entries) != 3 {
		t.Fatalf("editor state = %+v, expected 3 entries", report.EditorState)
	}
	titles := []struct{ section, item string }{{"Kitchen", "Surfaces"}, {"Kitchen", "Surfaces"}, {"Storage", "Fridges"}}
	for i, e := range report.EditorState.Entries {
		if e.SectionTitle != titles[i].section || e.ItemTitle != titles[i].item {
			t.Errorf("entry[%d] titles = %s/%s, expected %s/%s", i, e.SectionTitle, e.ItemTitle, titles[i].section, titles[i].item)
		}
	}
	if report.EditorState.Stamp == nil {
		t.Error("expected the auditor stamp overlay")
	}

	if !reflect.DeepEqual(report.AnswersSnapshot, i1.Answers) {
		t.Errorf("answers snapshot differs from I1.answers:\n got %+v\nwant %+v", report.AnswersSnapshot, i1.Answers)
	}
	if report.HeaderValuesSnapshot[HeaderPremiseName] != "Harbour Cafe" {
		t.Errorf("premise name = %q, expected the fresh value", report.HeaderValuesSnapshot[HeaderPremiseName])
	}
	if report.HeaderValuesSnapshot["visit_reason"] != "routine" {
		t.Error("stored header values should be carried over")
	}
	if report.AuditorSnapshot == nil || report.AuditorSnapshot.ID != "aud-1" {
		t.Errorf("auditor snapshot = %+v", report.AuditorSnapshot)
	}

	inputs := f.generator.Inputs()
	if len(inputs) != 1 {
		t.Fatalf("generator called %d times, expected 1", len(inputs))
	}
	if inputs[0].Inspection.HeaderValues[HeaderPremiseName] != "Harbour Cafe" {
		t.Error("generator should receive the header snapshot")
	}
	if inputs[0].ReportID != id {
		t.Errorf("generator ReportID = %s, expected %s", inputs[0].ReportID, id)
	}
}

func TestReportScheduler_SnapshotImmutability(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))

	id, _ := f.store.CreateVersion(ctx, "I1", nil)
	f.runOnce(t)
	before := f.mustGet(t, id)

	changed := sampleAnswers()
	changed["q1"] = models.Answer{Compliant: true}
	changed["q2"] = models.Answer{NonComplianceData: []models.NonComplianceEntry{{Finding: "new finding"}}}
	if err := f.db.Model(&models.Inspection{ID: "I1"}).Updates(&models.Inspection{
		Answers:      changed,
		HeaderValues: map[string]string{HeaderPremiseName: "Edited Later"},
	}).Error; err != nil {
		t.Fatalf("update inspection: %v", err)
	}

	if f.scheduler.Tick(ctx) {
		t.Error("a DONE report must not be generated again")
	}
	after := f.mustGet(t, id)

	if !reflect.DeepEqual(before.AnswersSnapshot, after.AnswersSnapshot) {
		t.Error("answers snapshot changed after the inspection was edited")
	}
	if !reflect.DeepEqual(before.HeaderValuesSnapshot, after.HeaderValuesSnapshot) {
		t.Error("header snapshot changed after the inspection was edited")
	}
	if !reflect.DeepEqual(before.EditorState, after.EditorState) {
		t.Error("editor state changed after the inspection was edited")
	}
}

func TestReportScheduler_Regeneration(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))

	v1, _ := f.store.CreateVersion(ctx, "I1", nil)
	f.runOnce(t)
	v2, _ := f.store.CreateVersion(ctx, "I1", nil)
	f.runOnce(t)

	first, second := f.mustGet(t, v1), f.mustGet(t, v2)
	if second.VersionNumber != 2 || !second.IsLatest || second.Status != models.ReportStatusDone {
		t.Errorf("v2 = {%d latest:%v %s}, expected {2 true DONE}", second.VersionNumber, second.IsLatest, second.Status)
	}
	if first.IsLatest {
		t.Error("v1 should no longer be latest")
	}
	if first.Status != models.ReportStatusDone {
		t.Errorf("v1 status = %s, expected DONE", first.Status)
	}
}

func TestReportScheduler_AbortsWhenFailedExternally(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))
	id, _ := f.store.CreateVersion(ctx, "I1", nil)

	f.generator.hook = func(in *GeneratorInput) {
		f.store.UpdateStatus(context.Background(), in.ReportID, models.ReportStatusError, "cancelled by user")
	}
	f.runOnce(t)

	report := f.mustGet(t, id)
	if report.Status != models.ReportStatusError || report.Error != "cancelled by user" {
		t.Errorf("report = {%s %q}, expected the external ERROR to stand", report.Status, report.Error)
	}
	if report.EditorState != nil || report.GeneratedAt != nil {
		t.Error("abandoned generation must not write content")
	}
}

func TestReportScheduler_GeneratorFailure(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))
	id, _ := f.store.CreateVersion(ctx, "I1", nil)

	f.generator.err = &GenerationError{Class: ErrorClassRateLimited, Model: "gemini-2.5-flash-lite"}
	f.runOnce(t)

	report := f.mustGet(t, id)
	if report.Status != models.ReportStatusError {
		t.Fatalf("status = %s, expected ERROR", report.Status)
	}
	if report.Error != ErrServiceOverloaded.Error() {
		t.Errorf("error = %q, expected %q", report.Error, ErrServiceOverloaded.Error())
	}
	if f.scheduler.Running() {
		t.Error("guard should be cleared after a failed generation")
	}
}

func TestReportScheduler_MissingInspection(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	id, _ := f.store.CreateVersion(ctx, "never-existed", nil)

	f.runOnce(t)

	report := f.mustGet(t, id)
	if report.Status != models.ReportStatusError || report.Error != MsgInspectionDeleted {
		t.Errorf("report = {%s %q}, expected {ERROR %q}", report.Status, report.Error, MsgInspectionDeleted)
	}
	if len(f.generator.Inputs()) != 0 {
		t.Error("generator must not be called")
	}
}

func TestReportScheduler_MissingType(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.db.Create(&models.Inspection{ID: "I9", TypeID: "no-such-type"})
	id, _ := f.store.CreateVersion(ctx, "I9", nil)

	f.runOnce(t)

	report := f.mustGet(t, id)
	if report.Status != models.ReportStatusError || report.Error != ErrInspectionTypeNotFound.Error() {
		t.Errorf("report = {%s %q}, expected {ERROR %q}", report.Status, report.Error, ErrInspectionTypeNotFound.Error())
	}
}

func TestReportScheduler_OneGenerationAtATime(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.seedInspection(t, "old", time.Now().Add(-2*time.Hour))
	f.seedInspection(t, "new", time.Now().Add(-time.Hour))
	oldID, _ := f.store.CreateVersion(ctx, "old", nil)
	newID, _ := f.store.CreateVersion(ctx, "new", nil)

	release := make(chan struct{})
	f.generator.block = release

	if !f.scheduler.Tick(ctx) {
		t.Fatal("first Tick should start a generation")
	}
	if !f.scheduler.Running() {
		t.Error("guard should be set while generating")
	}
	if f.scheduler.Tick(ctx) {
		t.Error("second Tick must not start another generation")
	}

	close(release)
	f.scheduler.Wait()

	if r := f.mustGet(t, newID); r.Status != models.ReportStatusDone {
		t.Errorf("newest inspection's report status = %s, expected DONE first", r.Status)
	}
	if r := f.mustGet(t, oldID); r.Status != models.ReportStatusPending {
		t.Errorf("older inspection's report status = %s, expected PENDING", r.Status)
	}

	f.runOnce(t)
	if r := f.mustGet(t, oldID); r.Status != models.ReportStatusDone {
		t.Errorf("older inspection's report status = %s, expected DONE", r.Status)
	}
}

func TestReportScheduler_StartProcessesNewReports(t *testing.T) {
	hub := NewSSEHub()
	f := newSchedulerFixture(t, hub)
	f.seedInspection(t, "I1", time.Now().Add(-time.Hour))
	events := hub.Subscribe("test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)
	defer f.scheduler.Stop()

	id, err := f.store.CreateVersion(context.Background(), "I1", nil)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ReportID == id && ev.Status == models.ReportStatusDone {
				return
			}
		case <-deadline:
			t.Fatalf("report %s was not generated, status %s", id, f.mustGet(t, id).Status)
		}
	}
}
