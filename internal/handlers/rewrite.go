package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
)

type RewriteHandler struct {
	service *services.TextRewriteService
}

func NewRewriteHandler(service *services.TextRewriteService) *RewriteHandler {
	return &RewriteHandler{service: service}
}

func (h *RewriteHandler) Rewrite(c *gin.Context) {
	var req services.RewriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Rewrite(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
