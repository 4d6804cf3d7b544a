package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/jobs"
)

type notificationStoreStub struct {
	mu       sync.Mutex
	created  []models.Notification
	tokens   map[string][]models.DeviceToken
	readIDs  []string
	missRead bool
}

func newNotificationStoreStub() *notificationStoreStub {
	return &notificationStoreStub{tokens: make(map[string][]models.DeviceToken)}
}

func (s *notificationStoreStub) Create(ctx context.Context, notification *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *notification)
	return nil
}

func (s *notificationStoreStub) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, notification := range s.created {
		if notification.RecipientID == recipientID {
			out = append(out, notification)
		}
	}
	return out, nil
}

func (s *notificationStoreStub) MarkRead(ctx context.Context, id, recipientID string) error {
	if s.missRead {
		return sql.ErrNoRows
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readIDs = append(s.readIDs, id)
	return nil
}

func (s *notificationStoreStub) RegisterDeviceToken(ctx context.Context, token *models.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token.ID = "token-1"
	s.tokens[token.UserID] = append(s.tokens[token.UserID], *token)
	return nil
}

func (s *notificationStoreStub) TokensForUsers(ctx context.Context, userIDs []string) ([]models.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeviceToken
	for _, userID := range userIDs {
		out = append(out, s.tokens[userID]...)
	}
	return out, nil
}

type pushSenderStub struct {
	mu     sync.Mutex
	pushes []int
}

func (p *pushSenderStub) Push(ctx context.Context, tokens []models.DeviceToken, title, body string, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, len(tokens))
	return nil
}

func (s *notificationStoreStub) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func TestNotificationDispatchPersistsPerRecipient(t *testing.T) {
	store := newNotificationStoreStub()
	store.tokens["user-1"] = []models.DeviceToken{{ID: "dt-1", UserID: "user-1", Token: "abc", Platform: "android"}}
	sender := &pushSenderStub{}
	svc := NewNotificationService(store, sender, jobs.QueueConfig{Workers: 1, BufferSize: 4}, nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch([]string{"user-1", "user-2"}, models.NotificationRequestCreated,
		"New request awaiting approval", "An OD request is awaiting your decision.", "req-1")

	require.Eventually(t, func() bool { return store.createdCount() == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, "user-1", store.created[0].RecipientID)
	require.Equal(t, models.NotificationRequestCreated, store.created[0].Kind)
	require.NotNil(t, store.created[0].RequestID)
	require.Equal(t, "req-1", *store.created[0].RequestID)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.pushes) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNotificationDispatchIgnoresEmptyRecipients(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, nil, jobs.QueueConfig{Workers: 1, BufferSize: 4}, nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(nil, models.NotificationChainDecided, "t", "b", "req-1")
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, store.createdCount())
}

func TestNotificationMarkReadUnknown(t *testing.T) {
	store := newNotificationStoreStub()
	store.missRead = true
	svc := NewNotificationService(store, nil, jobs.QueueConfig{}, nil, nil)

	err := svc.MarkRead(context.Background(), "user-1", "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestNotificationRegisterDevice(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, nil, jobs.QueueConfig{}, nil, nil)

	token, err := svc.RegisterDevice(context.Background(), "user-1", dto.RegisterDeviceTokenRequest{
		Token: "abc", Platform: "ios",
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", token.UserID)
	require.Len(t, store.tokens["user-1"], 1)
}
