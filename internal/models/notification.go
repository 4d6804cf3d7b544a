package models

import "time"

// NotificationKind labels the workflow event that produced a notification.
type NotificationKind string

const (
	NotificationRequestCreated   NotificationKind = "REQUEST_CREATED"
	NotificationAwaitingDecision NotificationKind = "AWAITING_DECISION"
	NotificationChainDecided     NotificationKind = "CHAIN_DECIDED"
)

// Notification is a persisted in-app message, readable by mobile clients.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Kind        NotificationKind `db:"kind" json:"kind"`
	Title       string           `db:"title" json:"title"`
	Body        string           `db:"body" json:"body"`
	RequestID   *string          `db:"request_id" json:"request_id,omitempty"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// DeviceToken registers a push endpoint for a user's device.
type DeviceToken struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"token"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
