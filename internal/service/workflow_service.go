package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	"github.com/campusflow/od-approval-api/internal/repository"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type requestStore interface {
	CreateWithApprovals(ctx context.Context, request *models.Request, studentIDs []string, approvals []models.Approval) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	ApprovalsForRequest(ctx context.Context, requestID string) ([]models.Approval, error)
	StudentsForRequest(ctx context.Context, requestID string) ([]models.Student, error)
	DecideCurrentStep(ctx context.Context, params repository.DecideStepParams) (*repository.DecisionOutcome, error)
	SetProof(ctx context.Context, requestID, proof string) error
	CancelPending(ctx context.Context, requestID string) error
}

type flowStore interface {
	GetByID(ctx context.Context, id string) (*models.FlowTemplate, error)
	GetByName(ctx context.Context, name string) (*models.FlowTemplate, error)
}

type groupDirectory interface {
	StudentsByIDs(ctx context.Context, ids []string) ([]models.Student, error)
	StudentByUserID(ctx context.Context, userID string) (*models.Student, error)
	ResolveApprover(ctx context.Context, groupID string, role models.ApproverRole) (string, error)
}

// Dispatcher fans workflow events out to recipients. Implementations must be
// fire-and-forget: dispatch failures never surface to workflow operations.
type Dispatcher interface {
	Dispatch(recipients []string, kind models.NotificationKind, title, body, requestID string)
}

type workflowMetrics interface {
	RecordRequestCreated(groups int)
	RecordStepDecision(outcome models.ApprovalStatus)
}

type approverCacheInvalidator interface {
	InvalidateApprover(ctx context.Context, teacherID string)
}

// WorkflowService is the approval workflow engine. It instantiates per-group
// approval chains when a request is created and advances them one step at a
// time, in strict sequence order, by their resolved approvers only.
type WorkflowService struct {
	requests    requestStore
	flows       flowStore
	directory   groupDirectory
	dispatcher  Dispatcher
	metrics     workflowMetrics
	cache       approverCacheInvalidator
	logger      *zap.Logger
	defaultFlow string
}

// WorkflowServiceOption configures optional collaborators.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowMetrics attaches workflow counters.
func WithWorkflowMetrics(m workflowMetrics) WorkflowServiceOption {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithApproverCache attaches the pending-list cache invalidator.
func WithApproverCache(c approverCacheInvalidator) WorkflowServiceOption {
	return func(s *WorkflowService) { s.cache = c }
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(requests requestStore, flows flowStore, directory groupDirectory, dispatcher Dispatcher, defaultFlow string, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		requests:    requests,
		flows:       flows,
		directory:   directory,
		dispatcher:  dispatcher,
		logger:      logger,
		defaultFlow: defaultFlow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateRequest validates the payload, partitions participants by group,
// resolves every step of the flow template against the group approver
// directory, and persists the request with all chains atomically. Step-0
// approvers are notified after commit.
func (s *WorkflowService) CreateRequest(ctx context.Context, requesterUserID string, req dto.CreateODRequest) (*dto.CreatedRequestResponse, error) {
	if !models.ValidRequestType(req.Type) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "type must be OD or LEAVE")
	}
	if req.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date and end_date are required")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not precede start_date")
	}
	if req.NeedsLab && (req.LabID == nil || *req.LabID == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lab_id is required when needs_lab is set")
	}

	requester, err := s.directory.StudentByUserID(ctx, requesterUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit requests")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve requester")
	}

	studentIDs := req.StudentIDs
	if len(studentIDs) == 0 {
		studentIDs = []string{requester.ID}
	} else if !containsString(studentIDs, requester.ID) {
		studentIDs = append(studentIDs, requester.ID)
	}
	studentIDs = dedupeStrings(studentIDs)

	students, err := s.directory.StudentsByIDs(ctx, studentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	if len(students) != len(studentIDs) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "one or more participant students do not exist")
	}

	template, err := s.resolveTemplate(ctx, req.FlowTemplateID)
	if err != nil {
		return nil, err
	}
	if len(template.Steps) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("flow template %q has no steps", template.Name))
	}

	byGroup := make(map[string][]models.Student)
	groupOrder := make([]string, 0, 4)
	for _, student := range students {
		if _, seen := byGroup[student.GroupID]; !seen {
			groupOrder = append(groupOrder, student.GroupID)
		}
		byGroup[student.GroupID] = append(byGroup[student.GroupID], student)
	}
	sort.Strings(groupOrder)

	// Resolve every chain before touching storage: a request must never be
	// created with an unresolvable approver.
	approvals := make([]models.Approval, 0, len(groupOrder))
	for _, groupID := range groupOrder {
		steps := make([]models.ApprovalStep, 0, len(template.Steps))
		for _, flowStep := range template.Steps {
			approverID, err := s.directory.ResolveApprover(ctx, groupID, flowStep.Role)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrConfiguration,
						fmt.Sprintf("no approver configured for role %s in group %s", flowStep.Role, groupID))
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approver")
			}
			steps = append(steps, models.ApprovalStep{
				Sequence: flowStep.Sequence,
				Role:     flowStep.Role,
				UserID:   approverID,
				Status:   models.ApprovalStatusPending,
			})
		}
		approvals = append(approvals, models.Approval{
			GroupID:          groupID,
			CurrentStepIndex: 0,
			Status:           models.ApprovalStatusPending,
			Steps:            steps,
		})
	}

	request := &models.Request{
		Type:           req.Type,
		Category:       req.Category,
		NeedsLab:       req.NeedsLab,
		Reason:         req.Reason,
		Description:    req.Description,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		LabID:          req.LabID,
		RequestedByID:  requesterUserID,
		FlowTemplateID: template.ID,
	}
	if err := s.requests.CreateWithApprovals(ctx, request, studentIDs, approvals); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	if s.metrics != nil {
		s.metrics.RecordRequestCreated(len(approvals))
	}
	s.logger.Info("request created",
		zap.String("request_id", request.ID),
		zap.String("type", string(request.Type)),
		zap.Int("groups", len(approvals)),
	)

	for _, approval := range approvals {
		firstApprover := approval.Steps[0].UserID
		s.notify([]string{firstApprover}, models.NotificationRequestCreated,
			"New request awaiting approval",
			fmt.Sprintf("A %s request is awaiting your decision.", request.Type),
			request.ID)
		s.invalidateApprover(ctx, firstApprover)
	}

	return &dto.CreatedRequestResponse{RequestID: request.ID, Approvals: approvals}, nil
}

// ProcessApprovalStep applies the approver's decision to the current step of
// their chain. The repository lookup is the single authorization guard: only
// the resolved approver of the currently pending step can act, exactly once.
func (s *WorkflowService) ProcessApprovalStep(ctx context.Context, approverID string, req dto.DecideStepRequest) (*dto.DecisionResponse, error) {
	if req.Status != models.ApprovalStatusApproved && req.Status != models.ApprovalStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
	}
	if req.RequestID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request_id is required")
	}

	params := repository.DecideStepParams{
		RequestID:  req.RequestID,
		ApproverID: approverID,
		Status:     req.Status,
		Comments:   optionalString(req.Comments),
		DecidedAt:  time.Now().UTC(),
	}
	outcome, err := s.requests.DecideCurrentStep(ctx, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.requests.GetByID(ctx, req.RequestID); errors.Is(getErr, sql.ErrNoRows) {
				return nil, appErrors.ErrNotFound
			}
			return nil, appErrors.ErrNoPendingStep
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process approval step")
	}

	if s.metrics != nil {
		s.metrics.RecordStepDecision(req.Status)
	}
	s.logger.Info("approval step decided",
		zap.String("request_id", req.RequestID),
		zap.String("approval_id", outcome.ApprovalID),
		zap.Int("sequence", outcome.Sequence),
		zap.String("decision", string(req.Status)),
		zap.String("chain_status", string(outcome.ApprovalStatus)),
	)

	s.invalidateApprover(ctx, approverID)
	switch {
	case outcome.NextApproverID != nil:
		s.notify([]string{*outcome.NextApproverID}, models.NotificationAwaitingDecision,
			"Request awaiting your approval",
			"A request has advanced to your step of the approval chain.",
			req.RequestID)
		s.invalidateApprover(ctx, *outcome.NextApproverID)
	default:
		// Terminal for this group's chain, independent of sibling chains.
		s.notifyGroupStudents(ctx, req.RequestID, outcome.GroupID, outcome.ApprovalStatus)
	}

	approvals, err := s.requests.ApprovalsForRequest(ctx, req.RequestID)
	if err != nil {
		// The decision is already committed. A read-side failure here must
		// not surface as an operation failure: a client retry would only hit
		// ErrNoPendingStep. Answer from the committed outcome instead.
		s.logger.Warn("failed to reload approvals after decision",
			zap.String("request_id", req.RequestID), zap.Error(err))
		return &dto.DecisionResponse{Approval: decidedApproval(req.RequestID, outcome)}, nil
	}
	response := &dto.DecisionResponse{DerivedStatus: models.DeriveRequestStatus(approvals)}
	for _, approval := range approvals {
		if approval.ID == outcome.ApprovalID {
			response.Approval = approval
			break
		}
	}
	return response, nil
}

// decidedApproval reconstructs the decided chain's row from the transaction
// outcome, without its steps. Rejection freezes the index; any other decision
// advanced it.
func decidedApproval(requestID string, outcome *repository.DecisionOutcome) models.Approval {
	index := outcome.Sequence + 1
	if outcome.ApprovalStatus == models.ApprovalStatusRejected {
		index = outcome.Sequence
	}
	return models.Approval{
		ID:               outcome.ApprovalID,
		RequestID:        requestID,
		GroupID:          outcome.GroupID,
		CurrentStepIndex: index,
		Status:           outcome.ApprovalStatus,
	}
}

// CancelRequest removes a still-undecided request. Only the requester may
// cancel, and only while every step of every chain is PENDING.
func (s *WorkflowService) CancelRequest(ctx context.Context, requesterUserID, requestID string) error {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.RequestedByID != requesterUserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the requester can cancel a request")
	}

	approvals, err := s.requests.ApprovalsForRequest(ctx, requestID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approvals")
	}
	if err := s.requests.CancelPending(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "request has already been acted on")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel request")
	}

	for _, approval := range approvals {
		if len(approval.Steps) == 0 {
			continue
		}
		s.invalidateApprover(ctx, approval.Steps[0].UserID)
	}
	s.logger.Info("request cancelled", zap.String("request_id", requestID))
	return nil
}

// AttachProof records a stored proof-of-OD reference on the request. Only the
// requester of an OD-type request may attach proof.
func (s *WorkflowService) AttachProof(ctx context.Context, requesterUserID, requestID, proof string) error {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.RequestedByID != requesterUserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the requester can attach proof")
	}
	if request.Type != models.RequestTypeOD {
		return appErrors.Clone(appErrors.ErrValidation, "proof attachments apply to OD requests only")
	}
	if err := s.requests.SetProof(ctx, requestID, proof); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach proof")
	}
	return nil
}

func (s *WorkflowService) resolveTemplate(ctx context.Context, flowTemplateID string) (*models.FlowTemplate, error) {
	var (
		template *models.FlowTemplate
		err      error
	)
	if flowTemplateID != "" {
		template, err = s.flows.GetByID(ctx, flowTemplateID)
	} else {
		template, err = s.flows.GetByName(ctx, s.defaultFlow)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown flow template")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load flow template")
	}
	return template, nil
}

func (s *WorkflowService) notifyGroupStudents(ctx context.Context, requestID, groupID string, status models.ApprovalStatus) {
	students, err := s.requests.StudentsForRequest(ctx, requestID)
	if err != nil {
		s.logger.Warn("failed to load students for notification",
			zap.String("request_id", requestID), zap.Error(err))
		return
	}
	recipients := make([]string, 0, len(students))
	for _, student := range students {
		if student.GroupID == groupID {
			recipients = append(recipients, student.UserID)
		}
	}
	verb := "approved"
	if status == models.ApprovalStatusRejected {
		verb = "rejected"
	}
	s.notify(recipients, models.NotificationChainDecided,
		fmt.Sprintf("Request %s", verb),
		fmt.Sprintf("Your group's approval chain has been %s.", verb),
		requestID)
}

func (s *WorkflowService) notify(recipients []string, kind models.NotificationKind, title, body, requestID string) {
	if s.dispatcher == nil || len(recipients) == 0 {
		return
	}
	s.dispatcher.Dispatch(recipients, kind, title, body, requestID)
}

func (s *WorkflowService) invalidateApprover(ctx context.Context, teacherID string) {
	if s.cache == nil || teacherID == "" {
		return
	}
	s.cache.InvalidateApprover(ctx, teacherID)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
