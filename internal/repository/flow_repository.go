package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/od-approval-api/internal/models"
)

// FlowRepository persists flow templates and their ordered steps.
type FlowRepository struct {
	db *sqlx.DB
}

// NewFlowRepository constructs the repository.
func NewFlowRepository(db *sqlx.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// CreateTemplate inserts a template with all steps in one transaction.
func (r *FlowRepository) CreateTemplate(ctx context.Context, template *models.FlowTemplate) (err error) {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flow template tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertTemplate = `INSERT INTO flow_templates (id, name) VALUES ($1, $2)`
	if _, err = tx.ExecContext(ctx, insertTemplate, template.ID, template.Name); err != nil {
		return fmt.Errorf("insert flow template: %w", err)
	}

	const insertStep = `INSERT INTO flow_steps (id, flow_template_id, sequence, role) VALUES ($1, $2, $3, $4)`
	for i := range template.Steps {
		step := &template.Steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.FlowTemplateID = template.ID
		if _, err = tx.ExecContext(ctx, insertStep, step.ID, step.FlowTemplateID, step.Sequence, step.Role); err != nil {
			return fmt.Errorf("insert flow step %d: %w", step.Sequence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit flow template: %w", err)
	}
	return nil
}

// GetByID loads a template and its steps ordered by sequence.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.FlowTemplate, error) {
	const query = `SELECT id, name FROM flow_templates WHERE id = $1`
	var template models.FlowTemplate
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	steps, err := r.GetSteps(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	template.Steps = steps
	return &template, nil
}

// GetByName loads a template by its unique name.
func (r *FlowRepository) GetByName(ctx context.Context, name string) (*models.FlowTemplate, error) {
	const query = `SELECT id, name FROM flow_templates WHERE name = $1`
	var template models.FlowTemplate
	if err := r.db.GetContext(ctx, &template, query, name); err != nil {
		return nil, err
	}
	steps, err := r.GetSteps(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	template.Steps = steps
	return &template, nil
}

// GetSteps returns a template's steps in ascending sequence order.
func (r *FlowRepository) GetSteps(ctx context.Context, flowTemplateID string) ([]models.FlowStep, error) {
	const query = `SELECT id, flow_template_id, sequence, role FROM flow_steps
	WHERE flow_template_id = $1 ORDER BY sequence ASC`
	var steps []models.FlowStep
	if err := r.db.SelectContext(ctx, &steps, query, flowTemplateID); err != nil {
		return nil, fmt.Errorf("list flow steps: %w", err)
	}
	return steps, nil
}

// List returns all templates without their steps.
func (r *FlowRepository) List(ctx context.Context) ([]models.FlowTemplate, error) {
	const query = `SELECT id, name FROM flow_templates ORDER BY name ASC`
	var templates []models.FlowTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list flow templates: %w", err)
	}
	return templates, nil
}
