package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
)

type InspectionHandler struct {
	inspections *services.InspectionService
	reports     *services.ReportService
}

func NewInspectionHandler(inspections *services.InspectionService, reports *services.ReportService) *InspectionHandler {
	return &InspectionHandler{inspections: inspections, reports: reports}
}

type reportRequest struct {
	RequestedBy string `json:"requested_by"`
}

// bindOptional reads an optional JSON body; an empty body is fine.
func bindOptional(c *gin.Context, req *reportRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return false
	}
	return true
}

// Complete marks an inspection as completed and queues its first report.
func (h *InspectionHandler) Complete(c *gin.Context) {
	var req reportRequest
	if !bindOptional(c, &req) {
		return
	}

	insp, err := h.inspections.Complete(c.Request.Context(), c.Param("id"), req.RequestedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, insp)
}

// Regenerate queues a new report version.
func (h *InspectionHandler) Regenerate(c *gin.Context) {
	var req reportRequest
	if !bindOptional(c, &req) {
		return
	}

	id := c.Param("id")
	if err := h.reports.RequestRegeneration(c.Request.Context(), id, req.RequestedBy); err != nil {
		respondError(c, err)
		return
	}
	response.Accepted(c, gin.H{"inspection_id": id})
}

// ListReports returns every version of the inspection's report, newest first.
func (h *InspectionHandler) ListReports(c *gin.Context) {
	reports, err := h.reports.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, reports)
}
