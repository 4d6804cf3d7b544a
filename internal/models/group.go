package models

import "time"

// Department groups teachers, labs and student groups.
type Department struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Code string `db:"code" json:"code"`
}

// Lab is a bookable laboratory referenced by OD requests that need one.
type Lab struct {
	ID           string  `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	DepartmentID string  `db:"department_id" json:"department_id"`
	InchargeID   *string `db:"incharge_id" json:"incharge_id,omitempty"`
}

// Group is a student cohort (class section within a batch).
type Group struct {
	ID           string `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Section      string `db:"section" json:"section"`
	Batch        string `db:"batch" json:"batch"`
	DepartmentID string `db:"department_id" json:"department_id"`
}

// Student links a user account to its group.
type Student struct {
	ID       string `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"user_id"`
	RollNo   string `db:"roll_no" json:"roll_no"`
	GroupID  string `db:"group_id" json:"group_id"`
	FullName string `db:"full_name" json:"full_name"`
}

// GroupApprover resolves an approver role to a concrete teacher for one group.
// At most one approver per (group, role) pair.
type GroupApprover struct {
	ID        string       `db:"id" json:"id"`
	GroupID   string       `db:"group_id" json:"group_id"`
	TeacherID string       `db:"teacher_id" json:"teacher_id"`
	Role      ApproverRole `db:"role" json:"role"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}
