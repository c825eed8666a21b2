package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
	"time"

	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
	appsync "github.com/nhle/tempmail/internal/sync"
)

const (
	eventBuffer    = 256
	reauthCooldown = time.Minute
	actionTimeout  = 30 * time.Second
)

// MailboxAPI is the part of the mailbox API a signed-in session uses.
type MailboxAPI interface {
	appsync.Fetcher
	MarkSeen(ctx context.Context, token, id string) error
	DeleteMessage(ctx context.Context, token, id string) error
}

// Events delivered on Session.Events.
type (
	// MessageEvent announces a message that arrived during the session.
	MessageEvent struct {
		Message model.Message
	}

	// ListEvent carries the latest full message list.
	ListEvent struct {
		Messages []model.Message
	}

	// StateEvent reports a sync state change.
	StateEvent struct {
		State appsync.State
	}

	// AuthExpiredEvent means the token was rejected and could not be
	// refreshed with the stored password.
	AuthExpiredEvent struct {
		Account model.Account
		Err     error
	}
)

// Session runs the sync core for the current account and records a
// notification for every new message.
type Session struct {
	api     MailboxAPI
	auth    *Authenticator
	store   store.Store
	arbiter *appsync.Arbiter
	events  chan any
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	mu         gosync.Mutex
	account    model.Account
	creds      model.Credentials
	fallback   bool
	lastReauth map[string]time.Time
}

// NewSession creates a session. cfg.FallbackEnabled is replaced by the
// stored preference when one exists; cfg.Fetcher defaults to api.
func NewSession(ctx context.Context, api MailboxAPI, auth *Authenticator, s store.Store, cfg appsync.ArbiterConfig) (*Session, error) {
	enabled, err := s.GetBoolPreference(ctx, store.PrefFallbackEnabled, cfg.FallbackEnabled)
	if err != nil {
		return nil, fmt.Errorf("reading fallback preference: %w", err)
	}
	cfg.FallbackEnabled = enabled
	if cfg.Fetcher == nil {
		cfg.Fetcher = api
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		api:        api,
		auth:       auth,
		store:      s,
		events:     make(chan any, eventBuffer),
		log:        logger.OrDefault(cfg.Logger, "session"),
		ctx:        sctx,
		cancel:     cancel,
		fallback:   enabled,
		lastReauth: make(map[string]time.Time),
	}
	sess.arbiter = appsync.NewArbiter(cfg, appsync.Callbacks{
		NewMessage:   sess.onNewMessage,
		ListUpdated:  func(list []model.Message) { sess.emit(ListEvent{Messages: list}) },
		StateChanged: func(st appsync.State) { sess.emit(StateEvent{State: st}) },
		AuthFailed:   sess.onAuthFailed,
	})
	return sess, nil
}

// Events returns the channel session events are delivered on. Events are
// dropped when the reader falls more than a buffer behind.
func (s *Session) Events() <-chan any {
	return s.events
}

// Restore resumes the stored current account.
func (s *Session) Restore(ctx context.Context) (model.Account, error) {
	acc, creds, err := s.auth.Restore(ctx)
	if err != nil {
		return model.Account{}, err
	}
	s.use(acc, creds)
	return acc, nil
}

// Login signs in and switches to the account.
func (s *Session) Login(ctx context.Context, address, password string) (model.Account, error) {
	acc, creds, err := s.auth.Login(ctx, address, password)
	if err != nil {
		return model.Account{}, err
	}
	s.use(acc, creds)
	return acc, nil
}

// Create registers a new mailbox and switches to it.
func (s *Session) Create(ctx context.Context, username, domain, password string) (model.Account, error) {
	acc, creds, err := s.auth.Create(ctx, username, domain, password)
	if err != nil {
		return model.Account{}, err
	}
	s.use(acc, creds)
	return acc, nil
}

// Switch changes to another stored account.
func (s *Session) Switch(ctx context.Context, accountID string) (model.Account, error) {
	acc, creds, err := s.auth.Switch(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	s.use(acc, creds)
	return acc, nil
}

// SwitchAddress changes to the stored account with the given address.
func (s *Session) SwitchAddress(ctx context.Context, address string) (model.Account, error) {
	accounts, err := s.store.GetAccounts(ctx)
	if err != nil {
		return model.Account{}, err
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Address, address) {
			return s.Switch(ctx, acc.ID)
		}
	}
	return model.Account{}, fmt.Errorf("no stored account %s", address)
}

// Logout forgets the current account's secrets and stops syncing.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	id := s.account.ID
	s.account = model.Account{}
	s.creds = model.Credentials{}
	s.mu.Unlock()

	s.arbiter.SetCredentials(model.Credentials{})
	if id == "" {
		return nil
	}
	return s.auth.Logout(ctx, id)
}

func (s *Session) use(acc model.Account, creds model.Credentials) {
	s.mu.Lock()
	s.account = acc
	s.creds = creds
	s.mu.Unlock()

	s.arbiter.SetCredentials(creds)
}

// Account returns the current account.
func (s *Session) Account() model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// State returns the current sync state.
func (s *Session) State() appsync.State {
	return s.arbiter.State()
}

// Refresh fetches the message list now.
func (s *Session) Refresh() {
	s.arbiter.Refresh()
}

// Reconnect restarts the event stream.
func (s *Session) Reconnect() {
	s.arbiter.Reconnect()
}

// Fallback reports whether polling fallback is enabled.
func (s *Session) Fallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// SetFallback stores the polling fallback preference and applies it.
func (s *Session) SetFallback(ctx context.Context, enabled bool) error {
	if err := s.store.SetPreference(ctx, store.PrefFallbackEnabled, fmt.Sprintf("%t", enabled)); err != nil {
		return err
	}

	s.mu.Lock()
	s.fallback = enabled
	s.mu.Unlock()

	s.arbiter.SetEnabled(enabled)
	return nil
}

// MarkRead marks msg seen on the server and its notifications read.
func (s *Session) MarkRead(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	if !msg.Seen {
		if err := s.api.MarkSeen(ctx, creds.Token, msg.ID); err != nil {
			return fmt.Errorf("marking %s seen: %w", msg.ID, err)
		}
	}
	return s.store.MarkMessageNotificationsRead(ctx, creds.AccountID, msg.ID)
}

// Delete removes a message and refreshes the list.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	if err := s.api.DeleteMessage(ctx, creds.Token, id); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if err := s.store.MarkMessageNotificationsRead(ctx, creds.AccountID, id); err != nil {
		return err
	}
	s.arbiter.Refresh()
	return nil
}

// UnreadCount returns the unread notification count of the current account.
func (s *Session) UnreadCount(ctx context.Context) (int, error) {
	acc := s.Account()
	if acc.ID == "" {
		return 0, nil
	}
	return s.store.CountUnreadNotifications(ctx, acc.ID)
}

// Close stops syncing and waits for background work.
func (s *Session) Close() {
	s.arbiter.Close()
	s.cancel()
	s.wg.Wait()
}

// emit never blocks; the arbiter calls it from its loop.
func (s *Session) emit(ev any) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("session event dropped, reader is behind", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) onNewMessage(msg model.Message) {
	s.emit(MessageEvent{Message: msg})

	accountID := msg.AccountID
	if accountID == "" {
		accountID = s.Account().ID
	}
	n := model.NewMessageNotification(accountID, msg)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
		defer cancel()
		if err := s.store.CreateNotification(ctx, n); err != nil {
			s.log.Error("recording notification failed", "message", msg.ID, "error", err)
		}
	}()
}

func (s *Session) onAuthFailed(creds model.Credentials, err error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reauthenticate(creds, err)
	}()
}

// reauthenticate retries sign-in once per cooldown with the stored
// password and hands the fresh token to the arbiter.
func (s *Session) reauthenticate(failed model.Credentials, cause error) {
	s.mu.Lock()
	if failed.Key() != s.creds.Key() {
		s.mu.Unlock()
		return
	}
	acc := s.account
	last, tried := s.lastReauth[acc.ID]
	if tried && time.Since(last) < reauthCooldown {
		s.mu.Unlock()
		s.emit(AuthExpiredEvent{Account: acc, Err: cause})
		return
	}
	s.lastReauth[acc.ID] = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	creds, err := s.auth.Reauthenticate(ctx, acc)
	if err != nil {
		s.log.Warn("token refresh failed", "account", acc.ID, "error", err)
		s.emit(AuthExpiredEvent{Account: acc, Err: err})
		return
	}

	s.mu.Lock()
	if failed.Key() != s.creds.Key() {
		s.mu.Unlock()
		return
	}
	s.creds = creds
	s.mu.Unlock()

	s.arbiter.SetCredentials(creds)
}
