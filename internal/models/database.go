package models

import (
	"fmt"

	"github.com/huangang/auditreport/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Inspection{},
		&InspectionType{},
		&Premise{},
		&Operator{},
		&Auditor{},
		&Report{},
		&PromptTemplate{},
		&AIUsageLog{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates the system prompt templates if they do not exist.
func SeedDefaultData() error {
	return SeedPrompts(DB)
}

func SeedPrompts(db *gorm.DB) error {
	defaults := []PromptTemplate{
		{
			Key:         PromptKeyReportGeneration,
			Name:        "Inspection Report",
			Description: "Turns a completed inspection into structured report content",
			Content:     DefaultReportPrompt,
			IsSystem:    true,
		},
		{
			Key:         PromptKeyTextRewrite,
			Name:        "Finding Rewrite",
			Description: "Rewrites a finding or recommendation in a professional register",
			Content:     DefaultRewritePrompt,
			IsSystem:    true,
		},
	}

	for _, tpl := range defaults {
		var count int64
		db.Model(&PromptTemplate{}).Where(&PromptTemplate{Key: tpl.Key, IsSystem: true}).Count(&count)
		if count == 0 {
			if err := db.Create(&tpl).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

const DefaultReportPrompt = `You are an experienced food safety and premises compliance auditor.
Write the narrative sections of an inspection report from the structured audit data below.

## Rules
- Use only facts present in the data; never invent findings.
- Group non-compliances by section and keep the auditor's wording for locations.
- Each recommendation must be actionable and reference the related finding.

## Output Format
Respond with a single JSON object and nothing else:
{"summary": "...", "overall_rating": "compliant|minor|major|critical", "sections": [{"title": "...", "narrative": "...", "findings": [{"question_id": "...", "finding": "...", "recommendation": "..."}]}], "conclusion": "..."}

---
Inspection type: {{type_name}}

Report header:
{{header}}

Audit data:
{{audit_data}}`

const DefaultRewritePrompt = `Rewrite the following {{field}} from an inspection report so it is clear, concise and professional.
Keep every fact, measurement and location. Do not add new findings. Reply with the rewritten text only.

{{text}}`
