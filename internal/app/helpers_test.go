package app

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/mailapi"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
	"github.com/nhle/tempmail/internal/stream"
	appsync "github.com/nhle/tempmail/internal/sync"
	"github.com/nhle/tempmail/tests/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// fakeAPI is an in-memory mailbox provider.
type fakeAPI struct {
	mu          gosync.Mutex
	passwords   map[string]string
	ids         map[string]string
	tokens      map[string]string
	issued      int
	domains     []model.Domain
	messages    []model.Message
	rejected    map[string]bool
	rejectAll   bool
	fetchTokens []string
	seen        []string
	deleted     []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		passwords: make(map[string]string),
		ids:       make(map[string]string),
		tokens:    make(map[string]string),
		rejected:  make(map[string]bool),
	}
}

func (f *fakeAPI) addAccount(id, address, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[address] = id
	f.passwords[address] = password
}

func (f *fakeAPI) Domains(ctx context.Context) ([]model.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Domain(nil), f.domains...), nil
}

func (f *fakeAPI) CreateAccount(ctx context.Context, address, password string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[address]; ok {
		return nil, &mailapi.APIError{Status: 422, Message: "address already used"}
	}
	id := fmt.Sprintf("acc-%d", len(f.ids)+1)
	f.ids[address] = id
	f.passwords[address] = password
	return &model.Account{ID: id, Address: address}, nil
}

func (f *fakeAPI) Token(ctx context.Context, address, password string) (*mailapi.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.passwords[address]; !ok || pw != password {
		return nil, &mailapi.AuthError{Status: 401, Message: "Invalid credentials."}
	}
	f.issued++
	tok := fmt.Sprintf("t%d", f.issued)
	f.tokens[tok] = address
	return &mailapi.TokenResponse{ID: f.ids[address], Token: tok}, nil
}

func (f *fakeAPI) Me(ctx context.Context, token string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	address, ok := f.tokens[token]
	if !ok {
		return nil, &mailapi.AuthError{Status: 401, Message: "bad token"}
	}
	return &model.Account{ID: f.ids[address], Address: address, Quota: 40000000}, nil
}

func (f *fakeAPI) FetchMessages(ctx context.Context, token string, page int) (*model.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchTokens = append(f.fetchTokens, token)
	if f.rejectAll || f.rejected[token] {
		return nil, &mailapi.AuthError{Status: 401, Message: "JWT Token not found"}
	}
	return &model.MessagePage{Messages: append([]model.Message(nil), f.messages...), Total: len(f.messages)}, nil
}

func (f *fakeAPI) MarkSeen(ctx context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) lastFetchToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetchTokens) == 0 {
		return ""
	}
	return f.fetchTokens[len(f.fetchTokens)-1]
}

type nopStream struct{}

func (nopStream) Start(model.Credentials) {}
func (nopStream) Stop()                   {}

// streamRecorder hands out no-op stream clients and keeps their handlers.
type streamRecorder struct {
	mu       gosync.Mutex
	handlers []stream.Handler
}

func (r *streamRecorder) factory(h stream.Handler) appsync.StreamClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	return nopStream{}
}

func (r *streamRecorder) last() stream.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handlers) == 0 {
		return nil
	}
	return r.handlers[len(r.handlers)-1]
}

type fixture struct {
	api     *fakeAPI
	store   store.Store
	secrets *credential.Keyring
	auth    *Authenticator
	streams *streamRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:     newFakeAPI(),
		store:   testutil.NewTestStore(t),
		secrets: credential.NewMemory(),
		streams: &streamRecorder{},
	}
	f.auth = NewAuthenticator(f.api, f.store, f.secrets, "duckmail", logger.Discard())
	return f
}

func (f *fixture) newSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), f.api, f.auth, f.store, appsync.ArbiterConfig{
		Stream:          f.streams.factory,
		PollInterval:    time.Second,
		PollerOptions:   appsync.PollerOptions{Logger: logger.Discard()},
		FallbackEnabled: true,
		Logger:          logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// nextEvent reads session events until one of type T arrives.
func nextEvent[T any](t *testing.T, s *Session) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-s.Events():
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}
