package models

import (
	"time"

	"gorm.io/gorm"
)

// Inspection is a completed (or in-progress) audit questionnaire. The report
// pipeline only ever reads it.
type Inspection struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	TypeID       string            `gorm:"size:36;index" json:"type_id"`
	PremiseID    string            `gorm:"size:36;index" json:"premise_id"`
	AuditorID    string            `gorm:"size:36;index" json:"auditor_id"`
	Answers      map[string]Answer `gorm:"type:text;serializer:json" json:"answers"`
	HeaderValues map[string]string `gorm:"type:text;serializer:json" json:"header_values"`
	CompletedAt  *time.Time        `json:"completed_at"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `gorm:"index" json:"-"`
}

// Answer is the response to one question.
type Answer struct {
	Compliant         bool                 `json:"compliant"`
	NonComplianceData []NonComplianceEntry `json:"non_compliance_data,omitempty"`
}

type NonComplianceEntry struct {
	ID             string  `json:"id,omitempty"`
	Location       string  `json:"location"`
	Finding        string  `json:"finding"`
	Recommendation string  `json:"recommendation"`
	Photos         []Photo `json:"photos,omitempty"`
}

type Photo struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url,omitempty"`
	InlineData string `json:"inline_data,omitempty"` // base64 data URI
}

// InspectionType is the questionnaire definition an inspection follows.
type InspectionType struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:200;not null" json:"name"`
	Structure TypeStructure  `gorm:"type:text;serializer:json" json:"structure"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type TypeStructure struct {
	Sections []TypeSection `json:"sections"`
}

type TypeSection struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Items []TypeItem `json:"items"`
}

type TypeItem struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Questions []TypeQuestion `json:"questions"`
}

type TypeQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Premise is the audited site.
type Premise struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Name       string         `gorm:"size:200" json:"name"`
	Address    string         `gorm:"size:500" json:"address"`
	OperatorID string         `gorm:"size:36;index" json:"operator_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// Operator runs a premise.
type Operator struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"size:200" json:"name"`
	Email     string         `gorm:"size:255" json:"email"`
	Phone     string         `gorm:"size:50" json:"phone"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Auditor performs inspections. StampURL, when set, is overlaid on reports.
type Auditor struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Name          string         `gorm:"size:200" json:"name"`
	Email         string         `gorm:"size:255" json:"email"`
	Phone         string         `gorm:"size:50" json:"phone"`
	Qualification string         `gorm:"size:200" json:"qualification"`
	StampURL      string         `gorm:"size:500" json:"stamp_url"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Inspection) TableName() string     { return "inspections" }
func (InspectionType) TableName() string { return "inspection_types" }
func (Premise) TableName() string        { return "premises" }
func (Operator) TableName() string       { return "operators" }
func (Auditor) TableName() string        { return "auditors" }
