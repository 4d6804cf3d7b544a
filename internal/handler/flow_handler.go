package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/response"
)

type flowManager interface {
	CreateTemplate(ctx context.Context, req dto.CreateFlowTemplateRequest) (*models.FlowTemplate, error)
	Get(ctx context.Context, id string) (*models.FlowTemplate, error)
	List(ctx context.Context) ([]models.FlowTemplate, error)
}

// FlowHandler exposes flow template administration endpoints.
type FlowHandler struct {
	flows flowManager
}

// NewFlowHandler constructs the handler.
func NewFlowHandler(flows flowManager) *FlowHandler {
	return &FlowHandler{flows: flows}
}

// Create godoc
// @Summary Create a flow template
// @Tags Flows
// @Accept json
// @Produce json
// @Param payload body dto.CreateFlowTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /flows [post]
func (h *FlowHandler) Create(c *gin.Context) {
	var req dto.CreateFlowTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid template payload"))
		return
	}
	template, err := h.flows.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, template, nil)
}

// Get godoc
// @Summary Get a flow template with its steps
// @Tags Flows
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /flows/{id} [get]
func (h *FlowHandler) Get(c *gin.Context) {
	template, err := h.flows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// List godoc
// @Summary List flow templates
// @Tags Flows
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /flows [get]
func (h *FlowHandler) List(c *gin.Context) {
	templates, err := h.flows.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}
