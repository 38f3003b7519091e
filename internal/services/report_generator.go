package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

var ErrInvalidReportOutput = errors.New("generated report is not a JSON object")

// GeneratorInput is what a report generator receives. Inspection.HeaderValues
// already holds the header snapshot.
type GeneratorInput struct {
	ReportID   string
	Inspection *models.Inspection
	Type       *models.InspectionType
}

type GeneratorOutput struct {
	Result json.RawMessage
	Usage  *models.TokenUsage
	Model  string
}

// ReportGenerator turns audit data into structured report content.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, in *GeneratorInput) (*GeneratorOutput, error)
}

// LLMReportGenerator renders the report prompt template and asks the
// generative service for a JSON report.
type LLMReportGenerator struct {
	client  *GenerativeClient
	prompts *PromptService
}

func NewLLMReportGenerator(client *GenerativeClient, prompts *PromptService) *LLMReportGenerator {
	return &LLMReportGenerator{client: client, prompts: prompts}
}

type auditFinding struct {
	Location       string `json:"location"`
	Finding        string `json:"finding"`
	Recommendation string `json:"recommendation"`
	PhotoCount     int    `json:"photo_count,omitempty"`
}

type auditQuestion struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Answered  bool           `json:"answered"`
	Compliant bool           `json:"compliant"`
	Findings  []auditFinding `json:"findings,omitempty"`
}

type auditItem struct {
	Title     string          `json:"title"`
	Questions []auditQuestion `json:"questions"`
}

type auditSection struct {
	Title string      `json:"title"`
	Items []auditItem `json:"items"`
}

func (g *LLMReportGenerator) GenerateReport(ctx context.Context, in *GeneratorInput) (*GeneratorOutput, error) {
	content, model := models.DefaultReportPrompt, ""
	if g.prompts != nil {
		if tpl, err := g.prompts.GetByKey(models.PromptKeyReportGeneration); err == nil {
			content, model = tpl.Content, tpl.Model
		} else {
			logger.Warnf("[ReportGenerator] Prompt template unavailable, using built-in default: %v", err)
		}
	}

	auditData, err := json.MarshalIndent(buildAuditData(in.Inspection, in.Type), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode audit data: %w", err)
	}

	prompt := RenderPrompt(content, map[string]string{
		"type_name":  in.Type.Name,
		"header":     formatHeader(in.Inspection.HeaderValues),
		"audit_data": string(auditData),
	})

	res, err := g.client.Generate(ctx, GenerateRequest{
		Model:    model,
		Prompt:   prompt,
		Feature:  "report",
		ReportID: in.ReportID,
	})
	if err != nil {
		return nil, err
	}

	result, err := extractJSONObject(res.Text)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", res.Model, err)
	}
	usage := res.Usage
	return &GeneratorOutput{Result: result, Usage: &usage, Model: res.Model}, nil
}

func buildAuditData(insp *models.Inspection, typ *models.InspectionType) []auditSection {
	sections := make([]auditSection, 0, len(typ.Structure.Sections))
	for _, s := range typ.Structure.Sections {
		section := auditSection{Title: s.Title}
		for _, it := range s.Items {
			item := auditItem{Title: it.Title}
			for _, q := range it.Questions {
				ans, ok := insp.Answers[q.ID]
				question := auditQuestion{ID: q.ID, Text: q.Text, Answered: ok, Compliant: ans.Compliant}
				if ok && !ans.Compliant {
					for _, nc := range ans.NonComplianceData {
						question.Findings = append(question.Findings, auditFinding{
							Location:       nc.Location,
							Finding:        nc.Finding,
							Recommendation: nc.Recommendation,
							PhotoCount:     len(nc.Photos),
						})
					}
				}
				item.Questions = append(item.Questions, question)
			}
			section.Items = append(section.Items, item)
		}
		sections = append(sections, section)
	}
	return sections
}

func formatHeader(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, values[k])
	}
	return b.String()
}

// extractJSONObject pulls the outermost JSON object out of a model reply,
// tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, ErrInvalidReportOutput
	}
	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, ErrInvalidReportOutput
	}
	return json.RawMessage(candidate), nil
}
