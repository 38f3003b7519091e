package services

import (
	"errors"
	"strings"

	"github.com/huangang/auditreport/internal/models"
	"gorm.io/gorm"
)

var ErrSystemPromptDelete = errors.New("system prompts cannot be deleted")

type PromptService struct {
	db *gorm.DB
}

func NewPromptService(db *gorm.DB) *PromptService {
	return &PromptService{db: db}
}

type PromptListParams struct {
	Page     int
	PageSize int
	Key      string
	IsSystem *bool
}

type PromptListResult struct {
	Items []models.PromptTemplate `json:"items"`
	Total int64                   `json:"total"`
}

func (s *PromptService) List(params PromptListParams) (*PromptListResult, error) {
	var prompts []models.PromptTemplate
	var total int64

	query := s.db.Model(&models.PromptTemplate{})

	if params.Key != "" {
		query = query.Where(&models.PromptTemplate{Key: params.Key})
	}
	if params.IsSystem != nil {
		query = query.Where("is_system = ?", *params.IsSystem)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	offset := (params.Page - 1) * params.PageSize
	if err := query.Offset(offset).Limit(params.PageSize).Order("is_system DESC, id DESC").Find(&prompts).Error; err != nil {
		return nil, err
	}

	return &PromptListResult{
		Items: prompts,
		Total: total,
	}, nil
}

func (s *PromptService) GetByID(id uint) (*models.PromptTemplate, error) {
	var prompt models.PromptTemplate
	if err := s.db.First(&prompt, id).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

// GetByKey returns the template used for a feature: the newest custom
// template when one exists, otherwise the seeded system template.
func (s *PromptService) GetByKey(key string) (*models.PromptTemplate, error) {
	var prompt models.PromptTemplate
	if err := s.db.Where(&models.PromptTemplate{Key: key}).
		Order("is_system ASC, id DESC").
		First(&prompt).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

func (s *PromptService) Create(prompt *models.PromptTemplate) error {
	// User-created prompts are not system prompts
	prompt.IsSystem = false
	return s.db.Create(prompt).Error
}

func (s *PromptService) Update(id uint, updates map[string]interface{}) error {
	if _, err := s.GetByID(id); err != nil {
		return err
	}

	// System prompts keep their flag and key
	delete(updates, "is_system")
	delete(updates, "key")

	return s.db.Model(&models.PromptTemplate{}).Where("id = ?", id).Updates(updates).Error
}

func (s *PromptService) Delete(id uint) error {
	prompt, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if prompt.IsSystem {
		return ErrSystemPromptDelete
	}
	return s.db.Delete(&models.PromptTemplate{}, id).Error
}

// RenderPrompt substitutes {{name}} placeholders.
func RenderPrompt(content string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}
