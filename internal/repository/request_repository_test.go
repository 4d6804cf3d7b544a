package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/od-approval-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRequestRepositoryCreateWithApprovals(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_students")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_students")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approvals")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_steps")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_steps")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request := &models.Request{
		Type:          models.RequestTypeOD,
		Reason:        "hackathon",
		StartDate:     time.Now(),
		EndDate:       time.Now().Add(24 * time.Hour),
		RequestedByID: "student-1",
	}
	approvals := []models.Approval{
		{
			GroupID: "group-1",
			Status:  models.ApprovalStatusPending,
			Steps: []models.ApprovalStep{
				{Sequence: 0, Role: models.RoleTutor, UserID: "tutor-1", Status: models.ApprovalStatusPending},
				{Sequence: 1, Role: models.RoleHOD, UserID: "hod-1", Status: models.ApprovalStatusPending},
			},
		},
	}
	err := repo.CreateWithApprovals(context.Background(), request, []string{"student-1", "student-2"}, approvals)
	require.NoError(t, err)
	require.NotEmpty(t, request.ID)
	require.Equal(t, request.ID, approvals[0].RequestID)
	require.NotEmpty(t, approvals[0].Steps[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateRollsBackOnStepFailure(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approvals")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_steps")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	approvals := []models.Approval{
		{
			GroupID: "group-1",
			Status:  models.ApprovalStatusPending,
			Steps: []models.ApprovalStep{
				{Sequence: 0, Role: models.RoleTutor, UserID: "tutor-1", Status: models.ApprovalStatusPending},
			},
		},
	}
	err := repo.CreateWithApprovals(context.Background(), &models.Request{Type: models.RequestTypeOD}, nil, approvals)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func decisionLockRows(approvalID, groupID, stepID string, sequence, stepCount int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"approval_id", "group_id", "step_id", "sequence", "step_count"}).
		AddRow(approvalID, groupID, stepID, sequence, stepCount)
}

func TestRequestRepositoryDecideIntermediateStepAdvances(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id AS approval_id")).
		WithArgs("req-1", "tutor-1").
		WillReturnRows(decisionLockRows("appr-1", "group-1", "step-0", 0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_steps SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals SET current_step_index = current_step_index + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM approval_steps")).
		WithArgs("appr-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("hod-1"))
	mock.ExpectCommit()

	outcome, err := repo.DecideCurrentStep(context.Background(), DecideStepParams{
		RequestID:  "req-1",
		ApproverID: "tutor-1",
		Status:     models.ApprovalStatusApproved,
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.ApprovalStatusPending, outcome.ApprovalStatus)
	require.NotNil(t, outcome.NextApproverID)
	require.Equal(t, "hod-1", *outcome.NextApproverID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideLastStepApprovesChain(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id AS approval_id")).
		WithArgs("req-1", "hod-1").
		WillReturnRows(decisionLockRows("appr-1", "group-1", "step-1", 1, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_steps SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals SET status = 'APPROVED'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.DecideCurrentStep(context.Background(), DecideStepParams{
		RequestID:  "req-1",
		ApproverID: "hod-1",
		Status:     models.ApprovalStatusApproved,
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.ApprovalStatusApproved, outcome.ApprovalStatus)
	require.Nil(t, outcome.NextApproverID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideRejectionShortCircuits(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	comments := "clashes with internals"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id AS approval_id")).
		WithArgs("req-1", "tutor-1").
		WillReturnRows(decisionLockRows("appr-1", "group-1", "step-0", 0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_steps SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals SET status = 'REJECTED'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.DecideCurrentStep(context.Background(), DecideStepParams{
		RequestID:  "req-1",
		ApproverID: "tutor-1",
		Status:     models.ApprovalStatusRejected,
		Comments:   &comments,
		DecidedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.ApprovalStatusRejected, outcome.ApprovalStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideNoPendingStep(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id AS approval_id")).
		WithArgs("req-1", "principal-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.DecideCurrentStep(context.Background(), DecideStepParams{
		RequestID:  "req-1",
		ApproverID: "principal-1",
		Status:     models.ApprovalStatusApproved,
		DecidedAt:  time.Now(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideRaceLoser(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id AS approval_id")).
		WithArgs("req-1", "tutor-1").
		WillReturnRows(decisionLockRows("appr-1", "group-1", "step-0", 0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_steps SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.DecideCurrentStep(context.Background(), DecideStepParams{
		RequestID:  "req-1",
		ApproverID: "tutor-1",
		Status:     models.ApprovalStatusApproved,
		DecidedAt:  time.Now(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApprovalsForRequest(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_id, group_id, current_step_index, status")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "group_id", "current_step_index", "status"}).
			AddRow("appr-1", "req-1", "group-1", 1, "PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, approval_id, sequence, role, user_id, status")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "approval_id", "sequence", "role", "user_id", "status", "comments", "approved_at"}).
			AddRow("step-0", "appr-1", 0, "TUTOR", "tutor-1", "APPROVED", nil, time.Now()).
			AddRow("step-1", "appr-1", 1, "HOD", "hod-1", "PENDING", nil, nil))

	approvals, err := repo.ApprovalsForRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.Len(t, approvals[0].Steps, 2)
	require.Equal(t, models.ApprovalStatusApproved, approvals[0].Steps[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListActionable(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT r.id")).
		WithArgs("tutor-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "reason", "requested_by_id", "created_at"}).
			AddRow("req-1", "OD", "hackathon", "student-1", time.Now()))

	requests, err := repo.ListActionable(context.Background(), "tutor-1")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, "req-1", requests[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests")).
		WithArgs("OD").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("FROM requests WHERE type = $1")).
		WithArgs("OD").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "reason", "requested_by_id", "created_at"}).
			AddRow("req-1", "OD", "hackathon", "student-1", time.Now()))

	requests, total, err := repo.List(context.Background(), models.RequestFilter{Type: models.RequestTypeOD, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCancelPendingRefusesDecided(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM approvals WHERE request_id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appr-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_steps")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.CancelPending(context.Background(), "req-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A decision can commit while the cancel transaction is waiting on the
// approval row lock. The decided-step check runs only after the locks are
// held, so the freshly committed decision is visible and the cancel is
// refused instead of deleting the decided aggregate.
func TestRequestRepositoryCancelPendingRefusesDecisionCommittedUnderLock(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM approvals WHERE request_id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appr-1").AddRow("appr-2"))
	// The concurrent approval of appr-1's step 0 committed while the lock
	// above was being acquired.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_steps")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.CancelPending(context.Background(), "req-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCancelPendingDeletesAggregate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM approvals WHERE request_id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appr-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_steps")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM approval_steps")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM approvals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM request_students")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CancelPending(context.Background(), "req-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
