package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/service"
	"github.com/campusflow/od-approval-api/pkg/response"
)

type registerExporter interface {
	RenderRegister(ctx context.Context, query dto.RequestQuery, format string) (*service.ExportResult, error)
}

// ExportHandler serves the admin request register as a downloadable file.
type ExportHandler struct {
	exporter registerExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(exporter registerExporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// Register godoc
// @Summary Export the request register
// @Tags Exports
// @Produce octet-stream
// @Param format query string true "Output format (csv or pdf)"
// @Param type query string false "Request type filter"
// @Param from query string false "Start date lower bound (RFC3339)"
// @Param to query string false "End date upper bound (RFC3339)"
// @Success 200 {file} binary
// @Router /exports/register [get]
func (h *ExportHandler) Register(c *gin.Context) {
	query, err := parseRequestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exporter.RenderRegister(c.Request.Context(), query, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
