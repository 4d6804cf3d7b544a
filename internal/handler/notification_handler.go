package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/response"
)

type notificationManager interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	RegisterDevice(ctx context.Context, userID string, req dto.RegisterDeviceTokenRequest) (*models.DeviceToken, error)
}

// NotificationHandler exposes the caller's notification feed.
type NotificationHandler struct {
	notifications notificationManager
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifications notificationManager) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List the caller's notifications
// @Tags Notifications
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	notifications, err := h.notifications.ListForUser(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}

// MarkRead godoc
// @Summary Mark one notification as read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RegisterDevice godoc
// @Summary Register a push device token for the caller
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.RegisterDeviceTokenRequest true "Token payload"
// @Success 201 {object} response.Envelope
// @Router /notifications/devices [post]
func (h *NotificationHandler) RegisterDevice(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RegisterDeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid device token payload"))
		return
	}
	token, err := h.notifications.RegisterDevice(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, token, nil)
}
