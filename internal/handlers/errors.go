package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/response"
)

// respondError maps service errors onto API errors.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInspectionNotFound),
		errors.Is(err, services.ErrInspectionTypeNotFound),
		errors.Is(err, services.ErrReportNotFound):
		response.Error(c, response.NewNotFound(err.Error()))
	case errors.Is(err, services.ErrInspectionNotCompleted):
		response.Error(c, response.NewConflict(err.Error()))
	case errors.Is(err, services.ErrRewriteEmpty),
		errors.Is(err, services.ErrRewriteTooLong),
		errors.Is(err, services.ErrRewriteInvalidField):
		response.Error(c, response.NewBadRequest(err.Error()))
	case errors.Is(err, services.ErrServiceOverloaded),
		errors.Is(err, services.ErrServiceUnavailable),
		errors.Is(err, services.ErrGenerationInterrupted):
		response.Error(c, response.NewServiceUnavailable(err.Error()))
	default:
		response.Error(c, response.NewServerError(err.Error()))
	}
}
