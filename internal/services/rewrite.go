package services

import (
	"context"
	"errors"
	"strings"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

const maxRewriteLength = 4000

// Fields that can be rewritten.
const (
	RewriteFieldFinding        = "finding"
	RewriteFieldRecommendation = "recommendation"
	RewriteFieldLocation       = "location"
)

var (
	ErrRewriteEmpty        = errors.New("text to rewrite is empty")
	ErrRewriteTooLong      = errors.New("text to rewrite is too long")
	ErrRewriteInvalidField = errors.New("unsupported rewrite field")
)

type RewriteRequest struct {
	Field string `json:"field" binding:"required"`
	Text  string `json:"text" binding:"required"`
	Model string `json:"model"`
}

type RewriteResult struct {
	Text  string            `json:"text"`
	Model string            `json:"model"`
	Usage models.TokenUsage `json:"usage"`
}

// TextRewriteService polishes individual finding texts through the same
// generative client the reports use.
type TextRewriteService struct {
	client       *GenerativeClient
	prompts      *PromptService
	defaultModel string
}

func NewTextRewriteService(client *GenerativeClient, prompts *PromptService, defaultModel string) *TextRewriteService {
	return &TextRewriteService{client: client, prompts: prompts, defaultModel: defaultModel}
}

func (s *TextRewriteService) Rewrite(ctx context.Context, req *RewriteRequest) (*RewriteResult, error) {
	text := strings.TrimSpace(req.Text)
	switch {
	case text == "":
		return nil, ErrRewriteEmpty
	case len(text) > maxRewriteLength:
		return nil, ErrRewriteTooLong
	}
	switch req.Field {
	case RewriteFieldFinding, RewriteFieldRecommendation, RewriteFieldLocation:
	default:
		return nil, ErrRewriteInvalidField
	}

	content, model := models.DefaultRewritePrompt, s.defaultModel
	if s.prompts != nil {
		if tpl, err := s.prompts.GetByKey(models.PromptKeyTextRewrite); err == nil {
			content = tpl.Content
			if tpl.Model != "" {
				model = tpl.Model
			}
		} else {
			logger.Warnf("[Rewrite] Prompt template unavailable, using built-in default: %v", err)
		}
	}
	if req.Model != "" {
		model = req.Model
	}

	res, err := s.client.Generate(ctx, GenerateRequest{
		Model:   model,
		Prompt:  RenderPrompt(content, map[string]string{"field": req.Field, "text": text}),
		Feature: "rewrite",
	})
	if err != nil {
		return nil, err
	}

	return &RewriteResult{
		Text:  cleanRewrite(res.Text),
		Model: res.Model,
		Usage: res.Usage,
	}, nil
}

// cleanRewrite strips wrapping quotes and fences models like to add.
func cleanRewrite(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
