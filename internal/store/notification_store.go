package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/tempmail/internal/model"
)

const notificationColumns = `id, account_id, message_id, message, read, created_at`

// CreateNotification inserts a new notification record. A second
// notification for the same account and message is ignored.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.AccountID, n.MessageID, n.Message,
		boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// GetUnreadNotifications retrieves the unread notifications of an account,
// ordered by creation time descending.
func (s *SQLiteStore) GetUnreadNotifications(ctx context.Context, accountID string) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE account_id = ? AND read = 0
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	return notifications, nil
}

// CountUnreadNotifications returns how many notifications of an account
// are unread.
func (s *SQLiteStore) CountUnreadNotifications(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE account_id = ? AND read = 0", accountID)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// MarkMessageNotificationsRead marks the notification of one message as read.
func (s *SQLiteStore) MarkMessageNotificationsRead(ctx context.Context, accountID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE account_id = ? AND message_id = ?",
		accountID, messageID,
	)
	if err != nil {
		return fmt.Errorf("marking notifications of message %s as read: %w", messageID, err)
	}
	return nil
}
