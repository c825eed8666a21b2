package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/retry"
)

// flightTimeout bounds a shared list fetch, retries included.
const flightTimeout = 2 * time.Minute

// Client is a thin HTTP client for the Mail.tm-compatible REST API.
// It handles Bearer token authentication, JSON marshaling, and retry
// with exponential backoff on transient failures. Concurrent identical
// list fetches share one request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    retry.BackoffConfig
	group      singleflight.Group
	log        *slog.Logger
}

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	HTTPClient   *http.Client
	MaxRetries   int
	RetryInitial time.Duration
	Logger       *slog.Logger
}

// NewClient creates a new mailbox API client. The baseURL should be the
// root URL of the provider API (e.g., https://api.mail.tm).
func NewClient(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	initial := opts.RetryInitial
	if initial <= 0 {
		initial = time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		backoff: retry.BackoffConfig{
			InitialInterval: initial,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			Jitter:          true,
			MaxRetries:      maxRetries,
		},
		log: logger.OrDefault(opts.Logger, "mailapi"),
	}
}

// Domains lists the receiving domains of the provider.
func (c *Client) Domains(ctx context.Context) ([]model.Domain, error) {
	var out collection[model.Domain]
	if err := c.do(ctx, http.MethodGet, "/domains", "", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Member, nil
}

// CreateAccount registers address with password.
func (c *Client) CreateAccount(ctx context.Context, address, password string) (*model.Account, error) {
	var acc model.Account
	body := credentialsRequest{Address: address, Password: password}
	if err := c.do(ctx, http.MethodPost, "/accounts", "", body, "", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Token exchanges address and password for a bearer token.
func (c *Client) Token(ctx context.Context, address, password string) (*TokenResponse, error) {
	var tok TokenResponse
	body := credentialsRequest{Address: address, Password: password}
	if err := c.do(ctx, http.MethodPost, "/token", "", body, "", &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*model.Account, error) {
	var acc model.Account
	if err := c.do(ctx, http.MethodGet, "/me", token, nil, "", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// FetchMessages returns one page of the message list, newest first.
func (c *Client) FetchMessages(ctx context.Context, token string, page int) (*model.MessagePage, error) {
	if page < 1 {
		page = 1
	}

	key := strconv.Itoa(page) + "\x00" + token
	ch := c.group.DoChan(key, func() (any, error) {
		// The flight outlives any single caller, so it drops their
		// cancellation and runs under its own deadline.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		var out collection[model.Message]
		path := "/messages?page=" + url.QueryEscape(strconv.Itoa(page))
		if err := c.do(fctx, http.MethodGet, path, token, nil, "", &out); err != nil {
			return nil, err
		}
		msgs := out.Member
		if msgs == nil {
			msgs = []model.Message{}
		}
		return &model.MessagePage{
			Messages: msgs,
			Total:    out.TotalItems,
			HasMore:  len(msgs) == PageSize && page*PageSize < out.TotalItems,
		}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetching messages: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.log.Debug("message fetch coalesced", "page", page)
	}

	// Each caller gets its own slice so nobody mutates a shared snapshot.
	p := res.Val.(*model.MessagePage)
	cp := *p
	cp.Messages = append([]model.Message(nil), p.Messages...)
	return &cp, nil
}

// MarkSeen sets the seen flag of message id.
func (c *Client) MarkSeen(ctx context.Context, token, id string) error {
	path := "/messages/" + url.PathEscape(id)
	return c.do(ctx, http.MethodPatch, path, token, seenPatch{Seen: true}, "application/merge-patch+json", nil)
}

// DeleteMessage removes message id.
func (c *Client) DeleteMessage(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), token, nil, "", nil)
}

// do runs one logical request with retries. Non-retryable statuses stop
// the loop at once.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	token string,
	body any,
	contentType string,
	result any,
) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
		if contentType == "" {
			contentType = "application/json"
		}
	}

	attempt := 0
	return retry.WithRetry(ctx, c.backoff, func() error {
		attempt++
		err := c.once(ctx, method, path, token, payload, contentType, result)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return retry.Stop(err)
		}
		if status := StatusCode(err); status != 0 && !retryable(status) {
			return retry.Stop(err)
		}
		c.log.Debug("request failed, will retry", "method", method, "path", path, "attempt", attempt, "error", err)
		return err
	})
}

func (c *Client) once(
	ctx context.Context,
	method string,
	path string,
	token string,
	payload []byte,
	contentType string,
	result any,
) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/ld+json, application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status:  resp.StatusCode,
			Method:  method,
			Path:    path,
			Message: errorMessage(resp.StatusCode, respBody),
		}
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}
	return nil
}
