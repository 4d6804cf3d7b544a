package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type flowTemplateStore interface {
	CreateTemplate(ctx context.Context, template *models.FlowTemplate) error
	GetByID(ctx context.Context, id string) (*models.FlowTemplate, error)
	List(ctx context.Context) ([]models.FlowTemplate, error)
}

// FlowService manages flow templates: named ordered sequences of approver
// roles that approval chains are instantiated from.
type FlowService struct {
	repo   flowTemplateStore
	logger *zap.Logger
}

// NewFlowService constructs the service.
func NewFlowService(repo flowTemplateStore, logger *zap.Logger) *FlowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowService{repo: repo, logger: logger}
}

// CreateTemplate validates and stores a template. Sequences must be
// zero-based, ascending and contiguous; roles must be known; names unique.
func (s *FlowService) CreateTemplate(ctx context.Context, req dto.CreateFlowTemplateRequest) (*models.FlowTemplate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	if len(req.Steps) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one step is required")
	}

	steps := make([]models.FlowStep, len(req.Steps))
	for i, input := range req.Steps {
		if !models.ValidApproverRole(input.Role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown approver role: %s", input.Role))
		}
		steps[i] = models.FlowStep{Sequence: input.Sequence, Role: input.Role}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })
	for i, step := range steps {
		if step.Sequence != i {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				"step sequences must be zero-based, ascending and contiguous")
		}
	}

	template := &models.FlowTemplate{Name: name, Steps: steps}
	if err := s.repo.CreateTemplate(ctx, template); err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("flow template %q already exists", name))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create flow template")
	}
	s.logger.Info("flow template created", zap.String("name", name), zap.Int("steps", len(steps)))
	return template, nil
}

// Get returns a template with its ordered steps.
func (s *FlowService) Get(ctx context.Context, id string) (*models.FlowTemplate, error) {
	template, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load flow template")
	}
	return template, nil
}

// List returns all templates.
func (s *FlowService) List(ctx context.Context) ([]models.FlowTemplate, error) {
	templates, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list flow templates")
	}
	return templates, nil
}

// isUniqueViolation matches Postgres unique-constraint failures (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
