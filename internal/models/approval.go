package models

import "time"

// ApprovalStatus captures the state of an approval chain or a single step.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Approval is one group's instantiated approval chain for one request.
// CurrentStepIndex points at the next undecided step, or equals the step
// count once the chain is fully approved. A rejected chain freezes its index.
type Approval struct {
	ID               string         `db:"id" json:"id"`
	RequestID        string         `db:"request_id" json:"request_id"`
	GroupID          string         `db:"group_id" json:"group_id"`
	CurrentStepIndex int            `db:"current_step_index" json:"current_step_index"`
	Status           ApprovalStatus `db:"status" json:"status"`
	Steps            []ApprovalStep `db:"-" json:"steps,omitempty"`
}

// ApprovalStep is one role's decision slot within an approval. The approver
// identity is resolved from the group directory at instantiation time and
// never re-resolved afterwards. A step is decided at most once.
type ApprovalStep struct {
	ID         string         `db:"id" json:"id"`
	ApprovalID string         `db:"approval_id" json:"approval_id"`
	Sequence   int            `db:"sequence" json:"sequence"`
	Role       ApproverRole   `db:"role" json:"role"`
	UserID     string         `db:"user_id" json:"user_id"`
	Status     ApprovalStatus `db:"status" json:"status"`
	Comments   *string        `db:"comments" json:"comments,omitempty"`
	ApprovedAt *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
}

// DeriveRequestStatus aggregates per-group chains into the request-level
// status: any rejection dominates, approval requires every chain approved.
func DeriveRequestStatus(approvals []Approval) ApprovalStatus {
	if len(approvals) == 0 {
		return ApprovalStatusPending
	}
	allApproved := true
	for _, a := range approvals {
		switch a.Status {
		case ApprovalStatusRejected:
			return ApprovalStatusRejected
		case ApprovalStatusPending:
			allApproved = false
		}
	}
	if allApproved {
		return ApprovalStatusApproved
	}
	return ApprovalStatusPending
}
