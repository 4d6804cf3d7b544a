package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type requestReader interface {
	GetByID(ctx context.Context, id string) (*models.Request, error)
	ApprovalsForRequest(ctx context.Context, requestID string) ([]models.Approval, error)
	StudentsForRequest(ctx context.Context, requestID string) ([]models.Student, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Request, error)
	ListActionable(ctx context.Context, teacherID string) ([]models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
}

type studentResolver interface {
	StudentByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type viewCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cacheMetrics interface {
	RecordCacheOperation(hit bool)
}

// RequestQueryService builds the read-side projections consumed by the admin
// dashboard and the mobile clients.
type RequestQueryService struct {
	requests requestReader
	students studentResolver
	cache    viewCache
	cacheTTL time.Duration
	metrics  cacheMetrics
	logger   *zap.Logger
}

// RequestQueryServiceOption configures optional collaborators.
type RequestQueryServiceOption func(*RequestQueryService)

// WithQueryMetrics attaches cache hit/miss counters.
func WithQueryMetrics(m cacheMetrics) RequestQueryServiceOption {
	return func(s *RequestQueryService) { s.metrics = m }
}

// NewRequestQueryService constructs the query service. cache may be nil.
func NewRequestQueryService(requests requestReader, students studentResolver, cache viewCache, cacheTTL time.Duration, logger *zap.Logger, opts ...RequestQueryServiceOption) *RequestQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestQueryService{
		requests: requests,
		students: students,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// StudentRequests returns every request the caller participates in, with
// chains and derived status.
func (s *RequestQueryService) StudentRequests(ctx context.Context, actorUserID string) ([]dto.RequestView, error) {
	student, err := s.students.StudentByUserID(ctx, actorUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "caller is not a student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	requests, err := s.requests.ListByStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return s.buildViews(ctx, requests, false)
}

// ApproverRequests returns requests actionable right now by the teacher:
// those with a currently pending step assigned to them. Responses are cached
// per teacher and invalidated on every decision that affects their queue.
func (s *RequestQueryService) ApproverRequests(ctx context.Context, teacherID string) ([]dto.RequestView, error) {
	key := approverPendingKey(teacherID)
	if s.cache != nil {
		var cached []dto.RequestView
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	requests, err := s.requests.ListActionable(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list actionable requests")
	}
	views, err := s.buildViews(ctx, requests, false)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, views, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache approver queue", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}
	return views, nil
}

// RequestDetail returns the full request view scoped to the actor. Teachers
// only see the chains containing one of their own steps and the students of
// those groups; students must be participants; admins see everything.
func (s *RequestQueryService) RequestDetail(ctx context.Context, requestID string, actor *models.JWTClaims) (*dto.RequestView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	approvals, err := s.requests.ApprovalsForRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approvals")
	}
	students, err := s.requests.StudentsForRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}

	view := &dto.RequestView{
		Request:       *request,
		Students:      students,
		Approvals:     approvals,
		DerivedStatus: models.DeriveRequestStatus(approvals),
	}

	switch actor.Role {
	case models.RoleAdmin, models.RoleSuperAdmin:
		return view, nil
	case models.RoleTeacher:
		return scopeToTeacher(view, actor.UserID)
	case models.RoleStudent:
		student, err := s.students.StudentByUserID(ctx, actor.UserID)
		if err != nil {
			return nil, appErrors.ErrForbidden
		}
		for _, participant := range students {
			if participant.ID == student.ID {
				return view, nil
			}
		}
		return nil, appErrors.ErrForbidden
	default:
		return nil, appErrors.ErrForbidden
	}
}

// AllRequests is the unfiltered admin projection.
func (s *RequestQueryService) AllRequests(ctx context.Context, query dto.RequestQuery) ([]dto.RequestView, *models.Pagination, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.Size
	if size <= 0 {
		size = 50
	}
	filter := models.RequestFilter{
		Type:   query.Type,
		From:   query.From,
		To:     query.To,
		Limit:  size,
		Offset: (page - 1) * size,
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	views, err := s.buildViews(ctx, requests, true)
	if err != nil {
		return nil, nil, err
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return views, pagination, nil
}

// InvalidateApprover drops the teacher's cached pending queue.
func (s *RequestQueryService) InvalidateApprover(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, approverPendingKey(teacherID)); err != nil {
		s.logger.Warn("failed to invalidate approver queue cache", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func (s *RequestQueryService) buildViews(ctx context.Context, requests []models.Request, includeStudents bool) ([]dto.RequestView, error) {
	views := make([]dto.RequestView, 0, len(requests))
	for _, request := range requests {
		approvals, err := s.requests.ApprovalsForRequest(ctx, request.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approvals")
		}
		view := dto.RequestView{
			Request:       request,
			Approvals:     approvals,
			DerivedStatus: models.DeriveRequestStatus(approvals),
		}
		if includeStudents {
			students, err := s.requests.StudentsForRequest(ctx, request.ID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
			}
			view.Students = students
		}
		views = append(views, view)
	}
	return views, nil
}

// scopeToTeacher filters a view down to the chains the teacher belongs to and
// the students of those groups. Other groups of a shared team request stay
// hidden from them.
func scopeToTeacher(view *dto.RequestView, teacherID string) (*dto.RequestView, error) {
	ownGroups := make(map[string]struct{})
	scopedApprovals := make([]models.Approval, 0, len(view.Approvals))
	for _, approval := range view.Approvals {
		for _, step := range approval.Steps {
			if step.UserID == teacherID {
				scopedApprovals = append(scopedApprovals, approval)
				ownGroups[approval.GroupID] = struct{}{}
				break
			}
		}
	}
	if len(scopedApprovals) == 0 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request is outside your approval chains")
	}
	scopedStudents := make([]models.Student, 0, len(view.Students))
	for _, student := range view.Students {
		if _, ok := ownGroups[student.GroupID]; ok {
			scopedStudents = append(scopedStudents, student)
		}
	}
	scoped := *view
	scoped.Approvals = scopedApprovals
	scoped.Students = scopedStudents
	scoped.DerivedStatus = models.DeriveRequestStatus(view.Approvals)
	return &scoped, nil
}

func approverPendingKey(teacherID string) string {
	return fmt.Sprintf("approver:pending:%s", teacherID)
}
