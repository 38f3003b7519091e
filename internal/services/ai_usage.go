package services

import (
	"time"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
	"gorm.io/gorm"
)

// AIUsageService manages generative usage tracking and statistics.
type AIUsageService struct {
	db *gorm.DB
}

func NewAIUsageService(db *gorm.DB) *AIUsageService {
	return &AIUsageService{db: db}
}

// Record saves a usage log entry asynchronously; accounting must never slow
// down or fail a generation.
func (s *AIUsageService) Record(log *models.AIUsageLog) {
	go func() {
		if err := s.db.Create(log).Error; err != nil {
			logger.Warnf("[AIUsage] Failed to record usage: %v", err)
		}
	}()
}

// UsageStats holds aggregated usage statistics.
type UsageStats struct {
	TotalCalls       int64   `json:"total_calls"`
	TotalTokens      int64   `json:"total_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	SuccessRate      float64 `json:"success_rate"`
	SuccessCount     int64   `json:"success_count"`
	FailureCount     int64   `json:"failure_count"`
	RateLimitedCount int64   `json:"rate_limited_count"`
}

// UsageFilter narrows statistics queries. Dates are YYYY-MM-DD.
type UsageFilter struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Feature   string `form:"feature"`
}

func (s *AIUsageService) filtered(f UsageFilter) *gorm.DB {
	query := s.db.Model(&models.AIUsageLog{})
	if f.StartDate != "" {
		query = query.Where("created_at >= ?", f.StartDate)
	}
	if f.EndDate != "" {
		query = query.Where("created_at <= ?", f.EndDate+" 23:59:59")
	}
	if f.Feature != "" {
		query = query.Where("feature = ?", f.Feature)
	}
	return query
}

// GetStats returns aggregated usage statistics for the filter.
func (s *AIUsageService) GetStats(f UsageFilter) (*UsageStats, error) {
	var stats UsageStats
	err := s.filtered(f).Select(
		"COUNT(*) as total_calls, "+
			"COALESCE(SUM(total_tokens), 0) as total_tokens, "+
			"COALESCE(SUM(prompt_tokens), 0) as prompt_tokens, "+
			"COALESCE(SUM(completion_tokens), 0) as completion_tokens, "+
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms, "+
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) as success_count, "+
			"COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) as failure_count, "+
			"COALESCE(SUM(CASE WHEN error_class = ? THEN 1 ELSE 0 END), 0) as rate_limited_count",
		ErrorClassRateLimited.String(),
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalCalls) * 100
	}
	return &stats, nil
}

// ModelUsage holds usage data grouped by provider and model.
type ModelUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	TotalTokens  int     `json:"total_tokens"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// GetModelBreakdown returns usage grouped by provider and model, most used first.
func (s *AIUsageService) GetModelBreakdown(f UsageFilter) ([]ModelUsage, error) {
	var results []ModelUsage
	err := s.filtered(f).Select(
		"provider, model, " +
			"COUNT(*) as calls, " +
			"COALESCE(SUM(total_tokens), 0) as total_tokens, " +
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms",
	).Group("provider, model").Order("calls DESC").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []ModelUsage{}
	}
	return results, nil
}

// CleanupBefore deletes usage logs older than the given time.
func (s *AIUsageService) CleanupBefore(before time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", before).Delete(&models.AIUsageLog{})
	return result.RowsAffected, result.Error
}
