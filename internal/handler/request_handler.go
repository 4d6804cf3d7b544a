package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/response"
)

type workflowEngine interface {
	CreateRequest(ctx context.Context, requesterUserID string, req dto.CreateODRequest) (*dto.CreatedRequestResponse, error)
	ProcessApprovalStep(ctx context.Context, approverID string, req dto.DecideStepRequest) (*dto.DecisionResponse, error)
	CancelRequest(ctx context.Context, requesterUserID, requestID string) error
}

type requestQueries interface {
	StudentRequests(ctx context.Context, actorUserID string) ([]dto.RequestView, error)
	ApproverRequests(ctx context.Context, teacherID string) ([]dto.RequestView, error)
	RequestDetail(ctx context.Context, requestID string, actor *models.JWTClaims) (*dto.RequestView, error)
	AllRequests(ctx context.Context, query dto.RequestQuery) ([]dto.RequestView, *models.Pagination, error)
}

// RequestHandler exposes the OD/leave request and approval endpoints.
type RequestHandler struct {
	engine  workflowEngine
	queries requestQueries
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(engine workflowEngine, queries requestQueries) *RequestHandler {
	return &RequestHandler{engine: engine, queries: queries}
}

// Create godoc
// @Summary Submit an OD/leave request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateODRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateODRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	created, err := h.engine.CreateRequest(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, created, nil)
}

// Decide godoc
// @Summary Decide the current approval step of a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideStepRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	req.RequestID = c.Param("id")
	req.Status = models.ApprovalStatus(strings.ToUpper(string(req.Status)))
	decision, err := h.engine.ProcessApprovalStep(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Cancel godoc
// @Summary Cancel a still-undecided request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.engine.CancelRequest(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListMine godoc
// @Summary List the caller's own requests
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/mine [get]
func (h *RequestHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	views, err := h.queries.StudentRequests(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// ListActionable godoc
// @Summary List requests currently awaiting the caller's decision
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/actionable [get]
func (h *RequestHandler) ListActionable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	views, err := h.queries.ApproverRequests(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Detail godoc
// @Summary Get one request, scoped to the caller
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Detail(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.queries.RequestDetail(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ListAll godoc
// @Summary List all requests (admin)
// @Tags Requests
// @Produce json
// @Param type query string false "Request type (OD or LEAVE)"
// @Param from query string false "Start date lower bound (RFC3339)"
// @Param to query string false "End date upper bound (RFC3339)"
// @Param page query int false "Page"
// @Param size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) ListAll(c *gin.Context) {
	query, err := parseRequestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	views, pagination, err := h.queries.AllRequests(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

func parseRequestQuery(c *gin.Context) (dto.RequestQuery, error) {
	query := dto.RequestQuery{}
	if rawType := c.Query("type"); rawType != "" {
		requestType := models.RequestType(strings.ToUpper(rawType))
		if !models.ValidRequestType(requestType) {
			return query, appErrors.Clone(appErrors.ErrValidation, "type must be OD or LEAVE")
		}
		query.Type = requestType
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339")
		}
		query.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339")
		}
		query.To = &to
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "page must be a positive integer")
		}
		query.Page = page
	}
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "size must be a positive integer")
		}
		query.Size = size
	}
	return query, nil
}
