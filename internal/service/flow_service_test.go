package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type flowTemplateStoreStub struct {
	templates map[string]*models.FlowTemplate
	createErr error
	nextID    int
}

func newFlowTemplateStoreStub() *flowTemplateStoreStub {
	return &flowTemplateStoreStub{templates: make(map[string]*models.FlowTemplate)}
}

func (f *flowTemplateStoreStub) CreateTemplate(ctx context.Context, template *models.FlowTemplate) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	template.ID = fmt.Sprintf("flow-%d", f.nextID)
	f.templates[template.ID] = template
	return nil
}

func (f *flowTemplateStoreStub) GetByID(ctx context.Context, id string) (*models.FlowTemplate, error) {
	if template, ok := f.templates[id]; ok {
		return template, nil
	}
	return nil, sql.ErrNoRows
}

func (f *flowTemplateStoreStub) List(ctx context.Context) ([]models.FlowTemplate, error) {
	out := make([]models.FlowTemplate, 0, len(f.templates))
	for _, template := range f.templates {
		out = append(out, *template)
	}
	return out, nil
}

func TestFlowServiceCreateTemplate(t *testing.T) {
	store := newFlowTemplateStoreStub()
	svc := NewFlowService(store, nil)

	template, err := svc.CreateTemplate(context.Background(), dto.CreateFlowTemplateRequest{
		Name: "LAB_OD",
		Steps: []dto.FlowStepInput{
			{Sequence: 1, Role: models.RoleLabIncharge},
			{Sequence: 0, Role: models.RoleTutor},
			{Sequence: 2, Role: models.RoleHOD},
		},
	})
	require.NoError(t, err)
	require.Len(t, template.Steps, 3)
	// Steps come back ordered regardless of input order.
	require.Equal(t, models.RoleTutor, template.Steps[0].Role)
	require.Equal(t, models.RoleLabIncharge, template.Steps[1].Role)
	require.Equal(t, models.RoleHOD, template.Steps[2].Role)
}

func TestFlowServiceCreateTemplateRejectsGappedSequences(t *testing.T) {
	svc := NewFlowService(newFlowTemplateStoreStub(), nil)

	_, err := svc.CreateTemplate(context.Background(), dto.CreateFlowTemplateRequest{
		Name: "BROKEN",
		Steps: []dto.FlowStepInput{
			{Sequence: 0, Role: models.RoleTutor},
			{Sequence: 2, Role: models.RoleHOD},
		},
	})
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFlowServiceCreateTemplateRejectsUnknownRole(t *testing.T) {
	svc := NewFlowService(newFlowTemplateStoreStub(), nil)

	_, err := svc.CreateTemplate(context.Background(), dto.CreateFlowTemplateRequest{
		Name:  "BROKEN",
		Steps: []dto.FlowStepInput{{Sequence: 0, Role: "DEAN"}},
	})
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFlowServiceCreateTemplateDuplicateName(t *testing.T) {
	store := newFlowTemplateStoreStub()
	store.createErr = fmt.Errorf("insert flow template: %w",
		&pq.Error{Code: "23505", Constraint: "flow_templates_name_key"})
	svc := NewFlowService(store, nil)

	_, err := svc.CreateTemplate(context.Background(), dto.CreateFlowTemplateRequest{
		Name:  "STANDARD_OD",
		Steps: []dto.FlowStepInput{{Sequence: 0, Role: models.RoleTutor}},
	})
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestFlowServiceCreateTemplateOtherPgErrorIsInternal(t *testing.T) {
	store := newFlowTemplateStoreStub()
	store.createErr = &pq.Error{Code: "40001"}
	svc := NewFlowService(store, nil)

	_, err := svc.CreateTemplate(context.Background(), dto.CreateFlowTemplateRequest{
		Name:  "STANDARD_OD",
		Steps: []dto.FlowStepInput{{Sequence: 0, Role: models.RoleTutor}},
	})
	require.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestFlowServiceGetUnknown(t *testing.T) {
	svc := NewFlowService(newFlowTemplateStoreStub(), nil)

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
