package mailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, Options{
		MaxRetries:   2,
		RetryInitial: time.Millisecond,
		Logger:       logger.Discard(),
	})
	return c, srv
}

func TestFetchMessagesDecodesHydraCollection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/ld+json")
		fmt.Fprint(w, `{
			"hydra:member": [
				{"id": "m1", "accountId": "acc", "subject": "hello", "intro": "hi there",
				 "from": {"name": "Alice", "address": "alice@example.com"},
				 "seen": false, "hasAttachments": true, "size": 1234,
				 "createdAt": "2025-01-02T03:04:05+00:00"}
			],
			"hydra:totalItems": 1
		}`)
	})

	page, err := c.FetchMessages(context.Background(), "tok", 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	m := page.Messages[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "hello", m.Subject)
	assert.Equal(t, "Alice <alice@example.com>", m.From.String())
	assert.True(t, m.HasAttachments)
	assert.EqualValues(t, 1234, m.Size)
	assert.Equal(t, 2025, m.CreatedAt.Year())
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)
}

func TestFetchMessagesHasMore(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		members := make([]map[string]string, PageSize)
		for i := range members {
			members[i] = map[string]string{"id": fmt.Sprintf("m%d", i)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hydra:member":     members,
			"hydra:totalItems": 45,
		})
	})

	page, err := c.FetchMessages(context.Background(), "tok", 1)
	require.NoError(t, err)
	assert.Len(t, page.Messages, PageSize)
	assert.True(t, page.HasMore)
}

func TestFetchMessagesEmptyMemberIsNonNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hydra:totalItems": 0}`)
	})

	page, err := c.FetchMessages(context.Background(), "tok", 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
}

func TestSharedFetchSurvivesFirstCallerCancel(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, `{"hydra:member": [{"id": "m1"}], "hydra:totalItems": 1}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchMessages(ctx, "tok", 1)
		firstErr <- err
	}()
	<-entered

	type result struct {
		n   int
		err error
	}
	second := make(chan result, 1)
	go func() {
		page, err := c.FetchMessages(context.Background(), "tok", 1)
		if err != nil {
			second <- result{err: err}
			return
		}
		second <- result{n: len(page.Messages)}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, 1, res.n)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestUnauthorizedIsAuthErrorAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Expired JWT Token"}`)
	})

	_, err := c.FetchMessages(context.Background(), "stale", 1)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"hydra:member": [{"id": "m1"}], "hydra:totalItems": 1}`)
	})

	page, err := c.FetchMessages(context.Background(), "tok", 1)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
	assert.EqualValues(t, 3, calls.Load())
	assert.True(t, c.backoff.Jitter)
}

func TestRateLimitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchMessages(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestCreateAccountViolationMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"violations": [{"propertyPath": "address", "message": "This value is already used."}]}`)
	})

	_, err := c.CreateAccount(context.Background(), "taken@example.com", "secret")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "address: This value is already used.", apiErr.Message)
}

func TestTokenAndMe(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			var body credentialsRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "me@example.com", body.Address)
			fmt.Fprint(w, `{"id": "acc1", "token": "jwt"}`)
		case "/me":
			assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"id": "acc1", "address": "me@example.com", "quota": 40000000, "used": 12}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	tok, err := c.Token(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "acc1", tok.ID)

	acc, err := c.Me(context.Background(), tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", acc.Address)
	assert.EqualValues(t, 12, acc.Used)
}

func TestMarkSeenSendsMergePatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/messages/m1", r.URL.Path)
		assert.Equal(t, "application/merge-patch+json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"seen": true}`, string(b))
		fmt.Fprint(w, `{"seen": true}`)
	})

	require.NoError(t, c.MarkSeen(context.Background(), "tok", "m1"))
}

func TestDeleteMessageNoContent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteMessage(context.Background(), "tok", "m1"))
}

func TestDomains(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hydra:member": [{"id": "d1", "domain": "duck.test", "isActive": true}], "hydra:totalItems": 1}`)
	})

	domains, err := c.Domains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "duck.test", domains[0].Domain)
	assert.True(t, domains[0].IsActive)
}
