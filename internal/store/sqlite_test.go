package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
	"github.com/nhle/tempmail/tests/testutil"
)

func TestAccountsUpsertAndGet(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	acc := model.Account{
		ID:         "acc1",
		Address:    "me@duck.test",
		ProviderID: "duckmail",
		Quota:      40000000,
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.UpsertAccount(ctx, acc))

	acc.Used = 512
	acc.IsDisabled = true
	require.NoError(t, s.UpsertAccount(ctx, acc))

	got, err := s.GetAccountByID(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "me@duck.test", got.Address)
	assert.Equal(t, "duckmail", got.ProviderID)
	assert.EqualValues(t, 512, got.Used)
	assert.True(t, got.IsDisabled)
	assert.False(t, got.IsDeleted)
	assert.True(t, acc.CreatedAt.Equal(got.CreatedAt))

	all, err := s.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAccountValidationAndNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.UpsertAccount(ctx, model.Account{Address: "x@y.z"}))
	assert.Error(t, s.UpsertAccount(ctx, model.Account{ID: "acc"}))

	_, err := s.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAccount(ctx, "missing"), store.ErrNotFound)
}

func TestNotificationsAreUniquePerMessage(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := model.Message{ID: "m1", Subject: "Welcome", From: model.Address{Name: "Bob", Address: "bob@example.com"}}
	n := model.NewMessageNotification("acc1", msg)
	assert.Equal(t, "New mail from Bob <bob@example.com>: Welcome", n.Message)

	require.NoError(t, s.CreateNotification(ctx, n))
	require.NoError(t, s.CreateNotification(ctx, model.NewMessageNotification("acc1", msg)))
	require.NoError(t, s.CreateNotification(ctx, model.NewMessageNotification("acc2", msg)))

	unread, err := s.GetUnreadNotifications(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "m1", unread[0].MessageID)
	assert.NotEmpty(t, unread[0].ID)
	assert.False(t, unread[0].Read)

	count, err := s.CountUnreadNotifications(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.MarkMessageNotificationsRead(ctx, "acc1", "m1"))
	count, err = s.CountUnreadNotifications(ctx, "acc1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.CountUnreadNotifications(ctx, "acc2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkNotificationRead(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNotification(ctx, model.Notification{ID: "n1", AccountID: "acc1", MessageID: "m1", Message: "hello"}))
	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))

	unread, err := s.GetUnreadNotifications(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestDeleteAccountRemovesNotifications(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, model.Account{ID: "acc1", Address: "me@duck.test"}))
	require.NoError(t, s.CreateNotification(ctx, model.NewMessageNotification("acc1", model.Message{ID: "m1"})))

	require.NoError(t, s.DeleteAccount(ctx, "acc1"))

	count, err := s.CountUnreadNotifications(ctx, "acc1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPreferences(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetPreference(ctx, store.PrefCurrentAccount)
	assert.ErrorIs(t, err, store.ErrNotFound)

	enabled, err := s.GetBoolPreference(ctx, store.PrefFallbackEnabled, true)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SetPreference(ctx, store.PrefFallbackEnabled, "false"))
	enabled, err = s.GetBoolPreference(ctx, store.PrefFallbackEnabled, true)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, s.SetPreference(ctx, store.PrefCurrentAccount, "acc1"))
	require.NoError(t, s.SetPreference(ctx, store.PrefCurrentAccount, "acc2"))
	v, err := s.GetPreference(ctx, store.PrefCurrentAccount)
	require.NoError(t, err)
	assert.Equal(t, "acc2", v)

	require.NoError(t, s.SetPreference(ctx, "bogus", "maybe"))
	_, err = s.GetBoolPreference(ctx, "bogus", true)
	assert.Error(t, err)
}
