package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
)

func TestSessionRecordsNotificationForNewMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.addAccount("acc-1", "me@duck.test", "hunter22")
	f.api.messages = []model.Message{{ID: "m1", Subject: "old"}}

	s := f.newSession(t)
	_, err := s.Login(ctx, "me@duck.test", "hunter22")
	require.NoError(t, err)

	list := nextEvent[ListEvent](t, s)
	assert.Len(t, list.Messages, 1)

	h := f.streams.last()
	require.NotNil(t, h)
	fresh := model.Message{ID: "m2", Subject: "Welcome", From: model.Address{Address: "bob@example.com"}}
	h.StreamNewMessage(fresh)

	ev := nextEvent[MessageEvent](t, s)
	assert.Equal(t, "m2", ev.Message.ID)

	require.Eventually(t, func() bool {
		n, err := s.UnreadCount(ctx)
		return err == nil && n == 1
	}, waitFor, tick)

	unread, err := f.store.GetUnreadNotifications(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "New mail from bob@example.com: Welcome", unread[0].Message)

	require.NoError(t, s.MarkRead(ctx, fresh))
	n, err := s.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"m2"}, f.api.seen)

	// Already seen messages are not patched again.
	fresh.Seen = true
	require.NoError(t, s.MarkRead(ctx, fresh))
	assert.Len(t, f.api.seen, 1)
}

func TestSessionRefreshesRejectedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.addAccount("acc-1", "me@duck.test", "hunter22")
	f.api.rejected["t1"] = true

	s := f.newSession(t)
	_, err := s.Login(ctx, "me@duck.test", "hunter22")
	require.NoError(t, err)

	nextEvent[ListEvent](t, s)
	assert.Equal(t, "t2", f.api.lastFetchToken())

	tok, err := f.secrets.Get(credential.TokenKey("acc-1"))
	require.NoError(t, err)
	assert.Equal(t, "t2", tok)
}

func TestSessionReportsExpiryWhenRefreshDoesNotHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.addAccount("acc-1", "me@duck.test", "hunter22")
	f.api.rejectAll = true

	s := f.newSession(t)
	_, err := s.Login(ctx, "me@duck.test", "hunter22")
	require.NoError(t, err)

	ev := nextEvent[AuthExpiredEvent](t, s)
	assert.Equal(t, "acc-1", ev.Account.ID)
	assert.Error(t, ev.Err)
}

func TestSessionFallbackPreferencePersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.newSession(t)
	assert.True(t, s.Fallback())
	require.NoError(t, s.SetFallback(ctx, false))
	assert.False(t, s.Fallback())

	v, err := f.store.GetPreference(ctx, store.PrefFallbackEnabled)
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	again := f.newSession(t)
	assert.False(t, again.Fallback())
}

func TestSessionDeleteAndSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.addAccount("acc-1", "one@duck.test", "pw-one")
	f.api.addAccount("acc-2", "two@duck.test", "pw-two")

	s := f.newSession(t)
	_, err := s.Login(ctx, "one@duck.test", "pw-one")
	require.NoError(t, err)
	_, err = s.Login(ctx, "two@duck.test", "pw-two")
	require.NoError(t, err)
	assert.Equal(t, "acc-2", s.Account().ID)

	require.NoError(t, s.Delete(ctx, "m9"))
	assert.Equal(t, []string{"m9"}, f.api.deleted)

	acc, err := s.SwitchAddress(ctx, "ONE@duck.test")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "acc-1", s.Account().ID)

	_, err = s.SwitchAddress(ctx, "nobody@duck.test")
	assert.Error(t, err)

	require.NoError(t, s.Logout(ctx))
	assert.Empty(t, s.Account().ID)
	_, err = s.Restore(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}
