package models

import "time"

// RequestType distinguishes on-duty from leave requests.
type RequestType string

const (
	RequestTypeOD    RequestType = "OD"
	RequestTypeLeave RequestType = "LEAVE"
)

// ValidRequestType reports whether the value is a known request type.
func ValidRequestType(t RequestType) bool {
	return t == RequestTypeOD || t == RequestTypeLeave
}

// Request is an OD/leave submission. Immutable after creation except for the
// proof-of-OD attachment. It carries no stored status; the effective status is
// always derived from its approvals.
type Request struct {
	ID             string      `db:"id" json:"id"`
	Type           RequestType `db:"type" json:"type"`
	Category       *string     `db:"category" json:"category,omitempty"`
	NeedsLab       bool        `db:"needs_lab" json:"needs_lab"`
	Reason         string      `db:"reason" json:"reason"`
	Description    *string     `db:"description" json:"description,omitempty"`
	StartDate      time.Time   `db:"start_date" json:"start_date"`
	EndDate        time.Time   `db:"end_date" json:"end_date"`
	LabID          *string     `db:"lab_id" json:"lab_id,omitempty"`
	RequestedByID  string      `db:"requested_by_id" json:"requested_by_id"`
	FlowTemplateID string      `db:"flow_template_id" json:"flow_template_id"`
	ProofOfOD      *string     `db:"proof_of_od" json:"proof_of_od,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// RequestStudent joins a request to one participating student.
type RequestStudent struct {
	RequestID string `db:"request_id" json:"request_id"`
	StudentID string `db:"student_id" json:"student_id"`
}

// RequestFilter constrains admin listing queries.
type RequestFilter struct {
	Type          RequestType
	RequestedByID string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}
