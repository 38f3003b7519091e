package models

import (
	"time"

	"gorm.io/gorm"
)

// Prompt template keys used by the generative features.
const (
	PromptKeyReportGeneration = "report_generation"
	PromptKeyTextRewrite      = "text_rewrite"
)

// PromptTemplate is a reusable AI prompt, looked up by Key. System templates
// are seeded on startup and may be edited but not deleted.
type PromptTemplate struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Key         string         `gorm:"size:100;index;not null" json:"key"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Description string         `gorm:"size:500" json:"description"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	Model       string         `gorm:"size:100" json:"model"` // empty = configured default
	IsSystem    bool           `gorm:"default:false" json:"is_system"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PromptTemplate) TableName() string { return "prompt_templates" }
