package store

import (
	"context"
	"errors"

	"github.com/nhle/tempmail/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Preference keys.
const (
	PrefFallbackEnabled = "fallback_enabled"
	PrefCurrentAccount  = "current_account"
)

// Store defines the persistence interface for accounts, new-message
// notifications, and user preferences.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, acc model.Account) error
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context, accountID string) ([]model.Notification, error)
	CountUnreadNotifications(ctx context.Context, accountID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkMessageNotificationsRead(ctx context.Context, accountID, messageID string) error

	// === Preferences ===

	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
	GetBoolPreference(ctx context.Context, key string, fallback bool) (bool, error)
}
