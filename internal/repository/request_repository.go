package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/od-approval-api/internal/models"
)

// RequestRepository persists OD/leave requests together with their approval
// chains. All multi-row invariants (atomic instantiation, serialized step
// decisions) are enforced here inside transactions.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, type, category, needs_lab, reason, description, start_date, end_date,
	lab_id, requested_by_id, flow_template_id, proof_of_od, created_at`

// CreateWithApprovals inserts the request, its participant rows, and one
// fully-seeded approval chain per group in a single transaction. Either the
// whole aggregate exists afterwards or none of it does.
func (r *RequestRepository) CreateWithApprovals(ctx context.Context, request *models.Request, studentIDs []string, approvals []models.Approval) (err error) {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertRequest = `INSERT INTO requests (` + requestColumns + `)
	VALUES (:id, :type, :category, :needs_lab, :reason, :description, :start_date, :end_date,
	:lab_id, :requested_by_id, :flow_template_id, :proof_of_od, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertRequest, request); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	const insertParticipant = `INSERT INTO request_students (request_id, student_id) VALUES ($1, $2)`
	for _, studentID := range studentIDs {
		if _, err = tx.ExecContext(ctx, insertParticipant, request.ID, studentID); err != nil {
			return fmt.Errorf("insert request participant: %w", err)
		}
	}

	const insertApproval = `INSERT INTO approvals (id, request_id, group_id, current_step_index, status)
	VALUES ($1, $2, $3, $4, $5)`
	const insertStep = `INSERT INTO approval_steps (id, approval_id, sequence, role, user_id, status, comments, approved_at)
	VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL)`
	for i := range approvals {
		approval := &approvals[i]
		if approval.ID == "" {
			approval.ID = uuid.NewString()
		}
		approval.RequestID = request.ID
		if _, err = tx.ExecContext(ctx, insertApproval, approval.ID, approval.RequestID, approval.GroupID,
			approval.CurrentStepIndex, approval.Status); err != nil {
			return fmt.Errorf("insert approval for group %s: %w", approval.GroupID, err)
		}
		for j := range approval.Steps {
			step := &approval.Steps[j]
			if step.ID == "" {
				step.ID = uuid.NewString()
			}
			step.ApprovalID = approval.ID
			if _, err = tx.ExecContext(ctx, insertStep, step.ID, step.ApprovalID, step.Sequence,
				step.Role, step.UserID, step.Status); err != nil {
				return fmt.Errorf("insert approval step %d: %w", step.Sequence, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	return nil
}

// GetByID fetches the request row.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	const query = `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// ApprovalsForRequest returns the request's chains with their steps, steps
// ordered by sequence.
func (r *RequestRepository) ApprovalsForRequest(ctx context.Context, requestID string) ([]models.Approval, error) {
	const approvalQuery = `SELECT id, request_id, group_id, current_step_index, status
	FROM approvals WHERE request_id = $1 ORDER BY group_id`
	var approvals []models.Approval
	if err := r.db.SelectContext(ctx, &approvals, approvalQuery, requestID); err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	if len(approvals) == 0 {
		return approvals, nil
	}

	ids := make([]string, len(approvals))
	for i, a := range approvals {
		ids[i] = a.ID
	}
	query, args, err := sqlx.In(`SELECT id, approval_id, sequence, role, user_id, status, comments, approved_at
	FROM approval_steps WHERE approval_id IN (?) ORDER BY approval_id, sequence`, ids)
	if err != nil {
		return nil, fmt.Errorf("build steps query: %w", err)
	}
	query = r.db.Rebind(query)
	var steps []models.ApprovalStep
	if err := r.db.SelectContext(ctx, &steps, query, args...); err != nil {
		return nil, fmt.Errorf("load approval steps: %w", err)
	}

	byApproval := make(map[string][]models.ApprovalStep, len(approvals))
	for _, step := range steps {
		byApproval[step.ApprovalID] = append(byApproval[step.ApprovalID], step)
	}
	for i := range approvals {
		approvals[i].Steps = byApproval[approvals[i].ID]
	}
	return approvals, nil
}

// StudentsForRequest returns the participating students with group bindings.
func (r *RequestRepository) StudentsForRequest(ctx context.Context, requestID string) ([]models.Student, error) {
	const query = `SELECT st.id, st.user_id, st.roll_no, st.group_id, st.full_name
	FROM students st
	JOIN request_students rs ON rs.student_id = st.id
	WHERE rs.request_id = $1
	ORDER BY st.group_id, st.roll_no`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, requestID); err != nil {
		return nil, fmt.Errorf("load request students: %w", err)
	}
	return students, nil
}

// DecideStepParams carries one approver decision.
type DecideStepParams struct {
	RequestID  string
	ApproverID string
	Status     models.ApprovalStatus
	Comments   *string
	DecidedAt  time.Time
}

// DecisionOutcome describes the chain state after a decision committed.
type DecisionOutcome struct {
	ApprovalID     string
	GroupID        string
	StepID         string
	Sequence       int
	StepCount      int
	ApprovalStatus models.ApprovalStatus
	NextApproverID *string
}

// DecideCurrentStep atomically applies an approver's decision to the current
// step of their chain. The locked lookup requires the approval to be PENDING
// and its current step to be PENDING and assigned to the approver, so a
// wrong approver, a premature decision, or the loser of a concurrent race all
// surface as sql.ErrNoRows.
func (r *RequestRepository) DecideCurrentStep(ctx context.Context, params DecideStepParams) (outcome *DecisionOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current struct {
		ApprovalID string `db:"approval_id"`
		GroupID    string `db:"group_id"`
		StepID     string `db:"step_id"`
		Sequence   int    `db:"sequence"`
		StepCount  int    `db:"step_count"`
	}
	const lockQuery = `SELECT a.id AS approval_id, a.group_id, s.id AS step_id, s.sequence,
	(SELECT COUNT(*) FROM approval_steps c WHERE c.approval_id = a.id) AS step_count
	FROM approvals a
	JOIN approval_steps s ON s.approval_id = a.id AND s.sequence = a.current_step_index
	WHERE a.request_id = $1 AND a.status = 'PENDING' AND s.user_id = $2 AND s.status = 'PENDING'
	FOR UPDATE OF a`
	if err = tx.GetContext(ctx, &current, lockQuery, params.RequestID, params.ApproverID); err != nil {
		return nil, err
	}

	const decideStep = `UPDATE approval_steps SET status = $1, comments = $2, approved_at = $3
	WHERE id = $4 AND status = 'PENDING'`
	result, err := tx.ExecContext(ctx, decideStep, params.Status, params.Comments, params.DecidedAt, current.StepID)
	if err != nil {
		return nil, fmt.Errorf("decide step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check step update rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return nil, err
	}

	outcome = &DecisionOutcome{
		ApprovalID: current.ApprovalID,
		GroupID:    current.GroupID,
		StepID:     current.StepID,
		Sequence:   current.Sequence,
		StepCount:  current.StepCount,
	}

	switch {
	case params.Status == models.ApprovalStatusRejected:
		// Short-circuit: remaining steps stay PENDING forever, index frozen.
		const rejectApproval = `UPDATE approvals SET status = 'REJECTED' WHERE id = $1`
		if _, err = tx.ExecContext(ctx, rejectApproval, current.ApprovalID); err != nil {
			return nil, fmt.Errorf("reject approval: %w", err)
		}
		outcome.ApprovalStatus = models.ApprovalStatusRejected
	case current.Sequence == current.StepCount-1:
		const approveChain = `UPDATE approvals SET status = 'APPROVED', current_step_index = current_step_index + 1 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, approveChain, current.ApprovalID); err != nil {
			return nil, fmt.Errorf("finalize approval: %w", err)
		}
		outcome.ApprovalStatus = models.ApprovalStatusApproved
	default:
		const advance = `UPDATE approvals SET current_step_index = current_step_index + 1 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, advance, current.ApprovalID); err != nil {
			return nil, fmt.Errorf("advance approval: %w", err)
		}
		var nextApprover string
		const nextQuery = `SELECT user_id FROM approval_steps WHERE approval_id = $1 AND sequence = $2`
		if err = tx.GetContext(ctx, &nextApprover, nextQuery, current.ApprovalID, current.Sequence+1); err != nil {
			return nil, fmt.Errorf("load next approver: %w", err)
		}
		outcome.ApprovalStatus = models.ApprovalStatusPending
		outcome.NextApproverID = &nextApprover
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}
	return outcome, nil
}

// ListByStudent returns requests the student participates in, newest first.
func (r *RequestRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Request, error) {
	const query = `SELECT r.id, r.type, r.category, r.needs_lab, r.reason, r.description,
	r.start_date, r.end_date, r.lab_id, r.requested_by_id, r.flow_template_id, r.proof_of_od, r.created_at
	FROM requests r
	JOIN request_students rs ON rs.request_id = r.id
	WHERE rs.student_id = $1
	ORDER BY r.created_at DESC`
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, studentID); err != nil {
		return nil, fmt.Errorf("list student requests: %w", err)
	}
	return requests, nil
}

// ListActionable returns requests whose current step is pending and assigned
// to the teacher. Future steps assigned to the same teacher do not qualify.
func (r *RequestRepository) ListActionable(ctx context.Context, teacherID string) ([]models.Request, error) {
	const query = `SELECT DISTINCT r.id, r.type, r.category, r.needs_lab, r.reason, r.description,
	r.start_date, r.end_date, r.lab_id, r.requested_by_id, r.flow_template_id, r.proof_of_od, r.created_at
	FROM requests r
	JOIN approvals a ON a.request_id = r.id AND a.status = 'PENDING'
	JOIN approval_steps s ON s.approval_id = a.id AND s.sequence = a.current_step_index
	WHERE s.user_id = $1 AND s.status = 'PENDING'
	ORDER BY r.created_at DESC`
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, teacherID); err != nil {
		return nil, fmt.Errorf("list actionable requests: %w", err)
	}
	return requests, nil
}

// List returns requests matching the filter plus the total count (admin view).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.RequestedByID != "" {
		args = append(args, filter.RequestedByID)
		conditions = append(conditions, fmt.Sprintf("requested_by_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("start_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("end_date <= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := "SELECT " + requestColumns + " FROM requests" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// SetProof attaches a proof-of-OD reference to an existing request.
func (r *RequestRepository) SetProof(ctx context.Context, requestID, proof string) error {
	const query = `UPDATE requests SET proof_of_od = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, proof, requestID)
	if err != nil {
		return fmt.Errorf("set proof: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check proof update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CancelPending removes a request and its chains, but only while no step has
// been decided. sql.ErrNoRows signals the request was already acted on.
func (r *RequestRepository) CancelPending(ctx context.Context, requestID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Take the same row locks a decision takes, so a decision committing
	// concurrently is either visible to the check below or blocked until the
	// aggregate is gone. Without the locks the count could read a stale
	// snapshot and the deletes would erase a just-recorded decision.
	var approvalIDs []string
	const lockApprovals = `SELECT id FROM approvals WHERE request_id = $1 FOR UPDATE`
	if err = tx.SelectContext(ctx, &approvalIDs, lockApprovals, requestID); err != nil {
		return fmt.Errorf("lock approvals: %w", err)
	}

	var decided int
	const decidedQuery = `SELECT COUNT(*) FROM approval_steps s
	JOIN approvals a ON a.id = s.approval_id
	WHERE a.request_id = $1 AND s.status <> 'PENDING'`
	if err = tx.GetContext(ctx, &decided, decidedQuery, requestID); err != nil {
		return fmt.Errorf("check decided steps: %w", err)
	}
	if decided > 0 {
		err = sql.ErrNoRows
		return err
	}

	const deleteSteps = `DELETE FROM approval_steps WHERE approval_id IN (SELECT id FROM approvals WHERE request_id = $1)`
	if _, err = tx.ExecContext(ctx, deleteSteps, requestID); err != nil {
		return fmt.Errorf("delete approval steps: %w", err)
	}
	const deleteApprovals = `DELETE FROM approvals WHERE request_id = $1`
	if _, err = tx.ExecContext(ctx, deleteApprovals, requestID); err != nil {
		return fmt.Errorf("delete approvals: %w", err)
	}
	const deleteParticipants = `DELETE FROM request_students WHERE request_id = $1`
	if _, err = tx.ExecContext(ctx, deleteParticipants, requestID); err != nil {
		return fmt.Errorf("delete request participants: %w", err)
	}
	const deleteRequest = `DELETE FROM requests WHERE id = $1`
	result, err := tx.ExecContext(ctx, deleteRequest, requestID)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request delete rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}
