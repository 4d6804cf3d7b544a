package dto

import "github.com/campusflow/od-approval-api/internal/models"

// FlowStepInput declares one role slot when creating a template.
type FlowStepInput struct {
	Sequence int                 `json:"sequence"`
	Role     models.ApproverRole `json:"role" validate:"required"`
}

// CreateFlowTemplateRequest creates a named template with its ordered steps.
// Sequences must be zero-based, ascending and contiguous.
type CreateFlowTemplateRequest struct {
	Name  string          `json:"name" validate:"required"`
	Steps []FlowStepInput `json:"steps" validate:"required,min=1"`
}

// UpsertGroupApproverRequest binds a teacher to a role for one group.
type UpsertGroupApproverRequest struct {
	GroupID   string              `json:"group_id" validate:"required"`
	TeacherID string              `json:"teacher_id" validate:"required"`
	Role      models.ApproverRole `json:"role" validate:"required"`
}
