package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type groupStore interface {
	GetByID(ctx context.Context, id string) (*models.Group, error)
	List(ctx context.Context) ([]models.Group, error)
	ListApprovers(ctx context.Context, groupID string) ([]models.GroupApprover, error)
	UpsertApprover(ctx context.Context, approver *models.GroupApprover) error
}

// GroupService administers the group approver directory.
type GroupService struct {
	repo   groupStore
	logger *zap.Logger
}

// NewGroupService constructs the service.
func NewGroupService(repo groupStore, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{repo: repo, logger: logger}
}

// ListGroups returns all groups.
func (s *GroupService) ListGroups(ctx context.Context) ([]models.Group, error) {
	groups, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// ListApprovers returns a group's approver directory.
func (s *GroupService) ListApprovers(ctx context.Context, groupID string) ([]models.GroupApprover, error) {
	if _, err := s.repo.GetByID(ctx, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	approvers, err := s.repo.ListApprovers(ctx, groupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approvers")
	}
	return approvers, nil
}

// UpsertApprover binds a teacher to a role for one group. Chains already
// instantiated keep the approver resolved at creation time.
func (s *GroupService) UpsertApprover(ctx context.Context, req dto.UpsertGroupApproverRequest) (*models.GroupApprover, error) {
	if !models.ValidApproverRole(req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown approver role")
	}
	if _, err := s.repo.GetByID(ctx, req.GroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	approver := &models.GroupApprover{
		GroupID:   req.GroupID,
		TeacherID: req.TeacherID,
		Role:      req.Role,
	}
	if err := s.repo.UpsertApprover(ctx, approver); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert approver")
	}
	s.logger.Info("group approver upserted",
		zap.String("group_id", req.GroupID),
		zap.String("role", string(req.Role)),
		zap.String("teacher_id", req.TeacherID),
	)
	return approver, nil
}
