package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
)

// AIUsageHandler provides endpoints for AI usage statistics.
type AIUsageHandler struct {
	usageService *services.AIUsageService
}

func NewAIUsageHandler(usageService *services.AIUsageService) *AIUsageHandler {
	return &AIUsageHandler{usageService: usageService}
}

// GetStats returns aggregated usage plus a per-model breakdown.
func (h *AIUsageHandler) GetStats(c *gin.Context) {
	var filter services.UsageFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stats, err := h.usageService.GetStats(filter)
	if err != nil {
		response.ServerError(c, "failed to get AI usage stats: "+err.Error())
		return
	}

	breakdown, err := h.usageService.GetModelBreakdown(filter)
	if err != nil {
		response.ServerError(c, "failed to get model breakdown: "+err.Error())
		return
	}

	response.Success(c, gin.H{
		"summary": stats,
		"models":  breakdown,
	})
}
