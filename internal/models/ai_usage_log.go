package models

import "time"

// AIUsageLog records each generative call attempt for cost and usage tracking.
type AIUsageLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ReportID         *string   `gorm:"size:36;index" json:"report_id"`
	Feature          string    `gorm:"size:50;index" json:"feature"` // report, rewrite
	Provider         string    `gorm:"size:50" json:"provider"`
	Model            string    `gorm:"size:100" json:"model"`
	RequestedModel   string    `gorm:"size:100" json:"requested_model"`
	Attempt          int       `json:"attempt"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	Success          bool      `json:"success"`
	ErrorClass       string    `gorm:"size:30" json:"error_class,omitempty"`
	ErrorMessage     string    `gorm:"size:500" json:"error_message,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (AIUsageLog) TableName() string { return "ai_usage_logs" }
