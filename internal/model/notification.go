package model

import (
	"fmt"
	"time"
)

// Notification records a new-message announcement for an account.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// AccountID is the mailbox the message arrived in.
	AccountID string `json:"account_id" db:"account_id"`

	// MessageID links this notification to the announced message.
	MessageID string `json:"message_id" db:"message_id"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewMessageNotification builds the notification for msg.
func NewMessageNotification(accountID string, msg Message) Notification {
	from := msg.From.String()
	if from == "" {
		from = "unknown sender"
	}
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	return Notification{
		AccountID: accountID,
		MessageID: msg.ID,
		Message:   fmt.Sprintf("New mail from %s: %s", from, subject),
		CreatedAt: time.Now(),
	}
}
