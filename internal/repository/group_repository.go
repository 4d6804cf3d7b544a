package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/od-approval-api/internal/models"
)

// GroupRepository resolves groups, their students, and the approver directory.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByID fetches a group.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, name, section, batch, department_id FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// List returns all groups.
func (r *GroupRepository) List(ctx context.Context) ([]models.Group, error) {
	const query = `SELECT id, name, section, batch, department_id FROM groups ORDER BY batch, name`
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// StudentsByIDs loads students (with their group binding) for the given IDs.
func (r *GroupRepository) StudentsByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, user_id, roll_no, group_id, full_name FROM students WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build students query: %w", err)
	}
	query = r.db.Rebind(query)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	return students, nil
}

// StudentByUserID resolves the student record behind a user account.
func (r *GroupRepository) StudentByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, user_id, roll_no, group_id, full_name FROM students WHERE user_id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ResolveApprover returns the teacher configured for (group, role).
// sql.ErrNoRows signals a missing mapping.
func (r *GroupRepository) ResolveApprover(ctx context.Context, groupID string, role models.ApproverRole) (string, error) {
	const query = `SELECT teacher_id FROM group_approvers WHERE group_id = $1 AND role = $2`
	var teacherID string
	if err := r.db.GetContext(ctx, &teacherID, query, groupID, role); err != nil {
		return "", err
	}
	return teacherID, nil
}

// ListApprovers returns the directory entries for one group.
func (r *GroupRepository) ListApprovers(ctx context.Context, groupID string) ([]models.GroupApprover, error) {
	const query = `SELECT id, group_id, teacher_id, role, created_at FROM group_approvers
	WHERE group_id = $1 ORDER BY role`
	var approvers []models.GroupApprover
	if err := r.db.SelectContext(ctx, &approvers, query, groupID); err != nil {
		return nil, fmt.Errorf("list group approvers: %w", err)
	}
	return approvers, nil
}

// UpsertApprover binds a teacher to a role for one group, replacing any
// existing mapping for that (group, role) pair. In-flight approval chains are
// unaffected: steps hold the approver resolved at instantiation time.
func (r *GroupRepository) UpsertApprover(ctx context.Context, approver *models.GroupApprover) error {
	if approver.ID == "" {
		approver.ID = uuid.NewString()
	}
	if approver.CreatedAt.IsZero() {
		approver.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO group_approvers (id, group_id, teacher_id, role, created_at)
	VALUES (:id, :group_id, :teacher_id, :role, :created_at)
	ON CONFLICT (group_id, role) DO UPDATE SET teacher_id = EXCLUDED.teacher_id`
	if _, err := r.db.NamedExecContext(ctx, query, approver); err != nil {
		return fmt.Errorf("upsert group approver: %w", err)
	}
	return nil
}
