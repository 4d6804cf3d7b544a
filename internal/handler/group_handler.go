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

type groupDirectoryManager interface {
	ListGroups(ctx context.Context) ([]models.Group, error)
	ListApprovers(ctx context.Context, groupID string) ([]models.GroupApprover, error)
	UpsertApprover(ctx context.Context, req dto.UpsertGroupApproverRequest) (*models.GroupApprover, error)
}

// GroupHandler exposes the group directory and approver binding endpoints.
type GroupHandler struct {
	groups groupDirectoryManager
}

// NewGroupHandler constructs the handler.
func NewGroupHandler(groups groupDirectoryManager) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// List godoc
// @Summary List student groups
// @Tags Groups
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.groups.ListGroups(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// ListApprovers godoc
// @Summary List the approver bindings of one group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/approvers [get]
func (h *GroupHandler) ListApprovers(c *gin.Context) {
	approvers, err := h.groups.ListApprovers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approvers, nil)
}

// UpsertApprover godoc
// @Summary Bind a teacher to a role for a group
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.UpsertGroupApproverRequest true "Binding payload"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/approvers [put]
func (h *GroupHandler) UpsertApprover(c *gin.Context) {
	var req dto.UpsertGroupApproverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approver payload"))
		return
	}
	req.GroupID = c.Param("id")
	binding, err := h.groups.UpsertApprover(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, binding, nil)
}
