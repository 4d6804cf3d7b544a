package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	RegisterDeviceToken(ctx context.Context, token *models.DeviceToken) error
	TokensForUsers(ctx context.Context, userIDs []string) ([]models.DeviceToken, error)
}

// PushSender delivers a message to concrete device endpoints. The default
// implementation only logs; a real provider plugs in behind this interface.
type PushSender interface {
	Push(ctx context.Context, tokens []models.DeviceToken, title, body string, metadata map[string]string) error
}

// LogPushSender is the default no-provider sender.
type LogPushSender struct {
	Logger *zap.Logger
}

// Push logs the delivery instead of contacting a provider.
func (s *LogPushSender) Push(_ context.Context, tokens []models.DeviceToken, title, _ string, _ map[string]string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("push delivery skipped (log sender)",
		zap.Int("devices", len(tokens)), zap.String("title", title))
	return nil
}

type notificationMetrics interface {
	RecordNotificationDispatched()
	RecordNotificationFailed()
}

// notificationJob is the queue payload for one workflow event fan-out.
type notificationJob struct {
	Recipients []string
	Kind       models.NotificationKind
	Title      string
	Body       string
	RequestID  string
}

// NotificationService is the fire-and-forget dispatch side channel. Workflow
// operations hand events to Dispatch after their transaction commits; delivery
// happens on a worker pool and failures are logged, never propagated.
type NotificationService struct {
	repo    notificationStore
	sender  PushSender
	queue   *jobs.Queue
	metrics notificationMetrics
	logger  *zap.Logger
}

// NewNotificationService builds the dispatcher and its queue. Call Start
// before dispatching and Stop on shutdown.
func NewNotificationService(repo notificationStore, sender PushSender, queueCfg jobs.QueueConfig, metrics notificationMetrics, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = &LogPushSender{Logger: logger}
	}
	svc := &NotificationService{
		repo:    repo,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	svc.queue = jobs.NewQueue("notifications", svc.handleJob, queueCfg)
	return svc
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// QueueDepth reports the dispatch backlog, for the queue gauge.
func (s *NotificationService) QueueDepth() int {
	return s.queue.Depth()
}

// Dispatch enqueues a workflow event for delivery. Implements Dispatcher.
// Errors are swallowed: a flaky notification channel must never abort or
// corrupt workflow state.
func (s *NotificationService) Dispatch(recipients []string, kind models.NotificationKind, title, body, requestID string) {
	if len(recipients) == 0 {
		return
	}
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: string(kind),
		Payload: notificationJob{
			Recipients: recipients,
			Kind:       kind,
			Title:      title,
			Body:       body,
			RequestID:  requestID,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotificationFailed()
		}
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", string(kind)), zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *NotificationService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationJob)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}

	for _, recipient := range payload.Recipients {
		notification := &models.Notification{
			RecipientID: recipient,
			Kind:        payload.Kind,
			Title:       payload.Title,
			Body:        payload.Body,
		}
		if payload.RequestID != "" {
			requestID := payload.RequestID
			notification.RequestID = &requestID
		}
		if err := s.repo.Create(ctx, notification); err != nil {
			if s.metrics != nil {
				s.metrics.RecordNotificationFailed()
			}
			return fmt.Errorf("persist notification for %s: %w", recipient, err)
		}
	}

	tokens, err := s.repo.TokensForUsers(ctx, payload.Recipients)
	if err != nil {
		return fmt.Errorf("resolve device tokens: %w", err)
	}
	metadata := map[string]string{"kind": string(payload.Kind)}
	if payload.RequestID != "" {
		metadata["request_id"] = payload.RequestID
	}
	if err := s.sender.Push(ctx, tokens, payload.Title, payload.Body, metadata); err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotificationFailed()
		}
		return fmt.Errorf("push notification: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordNotificationDispatched()
	}
	return nil
}

// ListForUser returns the caller's stored notifications.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	notifications, err := s.repo.ListByRecipient(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead stamps one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := s.repo.MarkRead(ctx, notificationID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// RegisterDevice stores a push endpoint for the caller.
func (s *NotificationService) RegisterDevice(ctx context.Context, userID string, req dto.RegisterDeviceTokenRequest) (*models.DeviceToken, error) {
	if req.Token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token is required")
	}
	token := &models.DeviceToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if err := s.repo.RegisterDeviceToken(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device token")
	}
	return token, nil
}
