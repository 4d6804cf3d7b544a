package models

// ApproverRole enumerates the roles a flow step can be assigned to.
type ApproverRole string

const (
	RoleTutor        ApproverRole = "TUTOR"
	RoleYearIncharge ApproverRole = "YEAR_INCHARGE"
	RoleHOD          ApproverRole = "HOD"
	RoleLabIncharge  ApproverRole = "LAB_INCHARGE"
	RolePrincipal    ApproverRole = "PRINCIPAL"
)

// ValidApproverRole reports whether the value is a known approver role.
func ValidApproverRole(role ApproverRole) bool {
	switch role {
	case RoleTutor, RoleYearIncharge, RoleHOD, RoleLabIncharge, RolePrincipal:
		return true
	default:
		return false
	}
}

// FlowTemplate is a named ordered sequence of approver roles.
type FlowTemplate struct {
	ID    string     `db:"id" json:"id"`
	Name  string     `db:"name" json:"name"`
	Steps []FlowStep `db:"-" json:"steps,omitempty"`
}

// FlowStep is one role slot within a template. Sequences are zero-based,
// ascending and contiguous within a template.
type FlowStep struct {
	ID             string       `db:"id" json:"id"`
	FlowTemplateID string       `db:"flow_template_id" json:"flow_template_id"`
	Sequence       int          `db:"sequence" json:"sequence"`
	Role           ApproverRole `db:"role" json:"role"`
}
