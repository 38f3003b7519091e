package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
	"gorm.io/gorm"
)

type PromptHandler struct {
	service *services.PromptService
}

func NewPromptHandler(service *services.PromptService) *PromptHandler {
	return &PromptHandler{service: service}
}

func (h *PromptHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	var isSystem *bool
	if isSystemStr := c.Query("is_system"); isSystemStr != "" {
		val := isSystemStr == "true"
		isSystem = &val
	}

	result, err := h.service.List(services.PromptListParams{
		Page:     page,
		PageSize: pageSize,
		Key:      c.Query("key"),
		IsSystem: isSystem,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

func (h *PromptHandler) Create(c *gin.Context) {
	var prompt models.PromptTemplate
	if err := c.ShouldBindJSON(&prompt); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if prompt.Key == "" || prompt.Content == "" {
		response.BadRequest(c, "key and content are required")
		return
	}

	if err := h.service.Create(&prompt); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Created(c, prompt)
}

func (h *PromptHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.service.Update(uint(id), updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "prompt not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"id": id})
}

func (h *PromptHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}

	if err := h.service.Delete(uint(id)); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			response.NotFound(c, "prompt not found")
		case errors.Is(err, services.ErrSystemPromptDelete):
			response.Error(c, response.NewConflict(err.Error()))
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, gin.H{"id": id})
}
