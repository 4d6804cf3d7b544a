package dto

import (
	"time"

	"github.com/campusflow/od-approval-api/internal/models"
)

// CreateODRequest is the student-facing payload for submitting an OD/leave
// request. StudentIDs may be empty for a solo request; the requester's own
// student record is used. FlowTemplateID falls back to the configured default
// template when omitted.
type CreateODRequest struct {
	Type           models.RequestType `json:"type" validate:"required"`
	Category       *string            `json:"category"`
	NeedsLab       bool               `json:"needs_lab"`
	Reason         string             `json:"reason" validate:"required"`
	Description    *string            `json:"description"`
	StartDate      time.Time          `json:"start_date" validate:"required"`
	EndDate        time.Time          `json:"end_date" validate:"required"`
	LabID          *string            `json:"lab_id"`
	FlowTemplateID string             `json:"flow_template_id"`
	StudentIDs     []string           `json:"student_ids"`
}

// DecideStepRequest is an approver's decision on the current step of their
// chain for the given request.
type DecideStepRequest struct {
	RequestID string                `json:"request_id" validate:"required"`
	Status    models.ApprovalStatus `json:"status" validate:"required"`
	Comments  string                `json:"comments"`
}

// RequestView is a request together with its approval chains and the derived
// aggregate status.
type RequestView struct {
	Request       models.Request        `json:"request"`
	Students      []models.Student      `json:"students,omitempty"`
	Approvals     []models.Approval     `json:"approvals"`
	DerivedStatus models.ApprovalStatus `json:"derived_status"`
}

// CreatedRequestResponse summarises the instantiated chains after submission.
type CreatedRequestResponse struct {
	RequestID string            `json:"request_id"`
	Approvals []models.Approval `json:"approvals"`
}

// DecisionResponse reports the post-decision chain state. DerivedStatus is
// omitted when the full post-decision view could not be read back.
type DecisionResponse struct {
	Approval      models.Approval       `json:"approval"`
	DerivedStatus models.ApprovalStatus `json:"derived_status,omitempty"`
}

// RequestQuery mirrors supported admin listing filters.
type RequestQuery struct {
	Type models.RequestType
	From *time.Time
	To   *time.Time
	Page int
	Size int
}

// ProofUploadResponse returns the stored attachment reference and a signed
// download URL.
type ProofUploadResponse struct {
	RequestID string    `json:"request_id"`
	Proof     string    `json:"proof"`
	SignedURL string    `json:"signed_url"`
	ExpiresAt time.Time `json:"expires_at"`
}
