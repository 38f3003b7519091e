package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/config"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	db     *gorm.DB
	queue  *services.SyncQueue
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: "file:" + name + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.SeedPrompts(db); err != nil {
		t.Fatalf("seed prompts: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	hub := services.NewSSEHub()
	queue := services.NewSyncQueue()
	inspections := services.NewInspectionService(db, queue)
	reports := services.NewReportService(services.NewReportVersionStore(db, hub), inspections, queue)
	queue.SetProcessor(reports.ProcessTask)
	prompts := services.NewPromptService(db)
	client := services.NewGenerativeClient(nil, nil, "gemini-2.5-flash", time.Second)

	inspectionHandler := NewInspectionHandler(inspections, reports)
	reportHandler := NewReportHandler(reports)
	rewriteHandler := NewRewriteHandler(services.NewTextRewriteService(client, prompts, "gemini-2.5-flash"))
	promptHandler := NewPromptHandler(prompts)
	healthHandler := NewHealthHandler(db, queue, hub, nil)

	r := gin.New()
	r.GET("/health", healthHandler.CheckHealth)
	api := r.Group("/api")
	api.POST("/inspections/:id/complete", inspectionHandler.Complete)
	api.POST("/inspections/:id/reports", inspectionHandler.Regenerate)
	api.GET("/inspections/:id/reports", inspectionHandler.ListReports)
	api.GET("/reports/:id", reportHandler.Get)
	api.POST("/rewrite", rewriteHandler.Rewrite)
	api.GET("/prompts", promptHandler.List)
	api.POST("/prompts", promptHandler.Create)
	api.DELETE("/prompts/:id", promptHandler.Delete)

	return &testServer{db: db, queue: queue, router: r}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func (s *testServer) seedInspection(t *testing.T, id string, completed bool) {
	t.Helper()
	insp := &models.Inspection{ID: id, TypeID: "type-1"}
	if completed {
		now := time.Now()
		insp.CompletedAt = &now
	}
	if err := s.db.Create(insp).Error; err != nil {
		t.Fatalf("seed inspection: %v", err)
	}
}

func TestInspectionHandler_CompleteQueuesReport(t *testing.T) {
	s := newTestServer(t)
	s.seedInspection(t, "insp-1", false)

	w, _ := s.do(t, "POST", "/api/inspections/insp-1/complete", `{"requested_by":"auditor-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s.queue.Wait()

	w, resp := s.do(t, "GET", "/api/inspections/insp-1/reports", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	list, ok := resp.Data.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("expected one report version, got %v", resp.Data)
	}
	report := list[0].(map[string]interface{})
	if report["status"] != string(models.ReportStatusPending) {
		t.Errorf("status = %v, want PENDING", report["status"])
	}
	if report["requested_by"] != "auditor-1" {
		t.Errorf("requested_by = %v", report["requested_by"])
	}

	reportID := report["id"].(string)
	w, _ = s.do(t, "GET", "/api/reports/"+reportID, "")
	if w.Code != http.StatusOK {
		t.Errorf("get report: expected 200, got %d", w.Code)
	}
}

func TestInspectionHandler_CompleteWithoutBody(t *testing.T) {
	s := newTestServer(t)
	s.seedInspection(t, "insp-1", false)

	w, _ := s.do(t, "POST", "/api/inspections/insp-1/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s.queue.Wait()
}

func TestInspectionHandler_Regenerate(t *testing.T) {
	s := newTestServer(t)
	s.seedInspection(t, "open", false)
	s.seedInspection(t, "done", true)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing inspection", "/api/inspections/missing/reports", http.StatusNotFound},
		{"not completed", "/api/inspections/open/reports", http.StatusConflict},
		{"completed", "/api/inspections/done/reports", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, "POST", tt.path, "")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
	s.queue.Wait()

	var count int64
	s.db.Model(&models.Report{}).Where("inspection_id = ?", "done").Count(&count)
	if count != 1 {
		t.Errorf("expected one queued version for the completed inspection, got %d", count)
	}
}

func TestInspectionHandler_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	s.seedInspection(t, "insp-1", false)

	w, _ := s.do(t, "POST", "/api/inspections/insp-1/complete", `{"requested_by":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestReportHandler_NotFound(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, "GET", "/api/reports/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if resp.Code != 404 {
		t.Errorf("expected code 404, got %d", resp.Code)
	}

	w, _ = s.do(t, "GET", "/api/inspections/missing/reports", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("list for missing inspection: expected 404, got %d", w.Code)
	}
}

func TestRewriteHandler_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing fields", `{}`},
		{"malformed json", `{"field":`},
		{"unknown field", `{"field":"summary","text":"hello"}`},
		{"too long", fmt.Sprintf(`{"field":"finding","text":"%s"}`, strings.Repeat("a", 4001))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, "POST", "/api/rewrite", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPromptHandler(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, "POST", "/api/prompts", `{"name":"no key"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("create without key: expected 400, got %d", w.Code)
	}

	w, resp := s.do(t, "POST", "/api/prompts", `{"key":"report_generation","name":"Custom","content":"{{audit_data}}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := resp.Data.(map[string]interface{})
	if created["is_system"] == true {
		t.Error("created prompt must not be a system prompt")
	}

	var system models.PromptTemplate
	if err := s.db.Where(&models.PromptTemplate{IsSystem: true}).First(&system).Error; err != nil {
		t.Fatalf("load system prompt: %v", err)
	}
	w, _ = s.do(t, "DELETE", fmt.Sprintf("/api/prompts/%d", system.ID), "")
	if w.Code != http.StatusConflict {
		t.Errorf("delete system prompt: expected 409, got %d", w.Code)
	}

	w, _ = s.do(t, "DELETE", "/api/prompts/9999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing prompt: expected 404, got %d", w.Code)
	}

	w, _ = s.do(t, "DELETE", "/api/prompts/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete invalid id: expected 400, got %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if components["queue_mode"] != "sync" {
		t.Errorf("queue_mode = %v", components["queue_mode"])
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrInspectionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", services.ErrReportNotFound), http.StatusNotFound},
		{services.ErrInspectionNotCompleted, http.StatusConflict},
		{services.ErrRewriteEmpty, http.StatusBadRequest},
		{&services.GenerationError{Class: services.ErrorClassRateLimited, Err: errors.New("429")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err)
		if w.Code != tt.want {
			t.Errorf("respondError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}
