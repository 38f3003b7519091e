package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ReportStatus is the lifecycle state of one report generation.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "PENDING"
	ReportStatusGenerating ReportStatus = "GENERATING"
	ReportStatusDone       ReportStatus = "DONE"
	ReportStatusError      ReportStatus = "ERROR"
)

// IsTerminal reports whether the scheduler will never touch the report again.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusDone || s == ReportStatusError
}

// TokenUsage is the token accounting of a generative call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(o TokenUsage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Report is one generation attempt/result for an inspection. Once Status is
// DONE the snapshot columns are the only source of truth for rendering.
type Report struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	InspectionID  string       `gorm:"size:36;index;not null" json:"inspection_id"`
	VersionNumber int          `gorm:"not null" json:"version_number"`
	IsLatest      bool         `gorm:"index" json:"is_latest"`
	Status        ReportStatus `gorm:"size:20;index;not null" json:"status"`
	Error         string       `gorm:"type:text" json:"error,omitempty"`
	ModelUsed     string       `gorm:"size:100" json:"model_used,omitempty"`
	RequestedBy   string       `gorm:"size:100" json:"requested_by,omitempty"`

	ReportData json.RawMessage `gorm:"type:text;serializer:json" json:"report_data,omitempty"`
	Usage      *TokenUsage     `gorm:"type:text;serializer:json" json:"usage,omitempty"`

	HeaderValuesSnapshot map[string]string `gorm:"type:text;serializer:json" json:"header_values_snapshot,omitempty"`
	AuditorSnapshot      *AuditorIdentity  `gorm:"type:text;serializer:json" json:"auditor_snapshot,omitempty"`
	AnswersSnapshot      map[string]Answer `gorm:"type:text;serializer:json" json:"answers_snapshot,omitempty"`
	EditorState          *EditorState      `gorm:"type:text;serializer:json" json:"editor_state,omitempty"`

	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	GeneratedAt *time.Time     `json:"generated_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// AuditorIdentity is the auditor as known at generation time.
type AuditorIdentity struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Qualification string `json:"qualification,omitempty"`
	StampURL      string `json:"stamp_url,omitempty"`
}

// Editor layout defaults applied to every flattened entry.
const (
	DefaultLayoutColumns    = 1
	DefaultLayoutAlignment  = "left"
	DefaultLayoutWidthRatio = 1.0

	DefaultStampAlignment  = "right"
	DefaultStampWidthRatio = 0.25
)

// EditorState is the flattened, editable representation of a report's
// non-compliance findings.
type EditorState struct {
	Entries []EditorEntry `json:"entries"`
	Stamp   *StampOverlay `json:"stamp,omitempty"`
}

type EditorEntry struct {
	ID             string        `json:"id"`
	QuestionID     string        `json:"question_id"`
	SectionTitle   string        `json:"section_title"`
	ItemTitle      string        `json:"item_title"`
	Location       string        `json:"location"`
	Finding        string        `json:"finding"`
	Recommendation string        `json:"recommendation"`
	Photos         []EditorPhoto `json:"photos"`
	Layout         EntryLayout   `json:"layout"`
}

// EditorPhoto keeps both the remote reference and the inline fallback so
// either storage strategy can render it.
type EditorPhoto struct {
	ID         string `json:"id"`
	URL        string `json:"url,omitempty"`
	InlineData string `json:"inline_data,omitempty"`
}

type EntryLayout struct {
	Columns    int     `json:"columns"`
	Alignment  string  `json:"alignment"`
	WidthRatio float64 `json:"width_ratio"`
}

type StampOverlay struct {
	ImageURL   string  `json:"image_url"`
	Alignment  string  `json:"alignment"`
	WidthRatio float64 `json:"width_ratio"`
}

func (Report) TableName() string { return "reports" }
