// Package stream maintains the Mercure server-sent event subscription for
// one mailbox account and reconnects with bounded exponential backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/retry"
)

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives everything a Client observes. Calls are serialized and
// never made after Stop returns or after Start switched credentials.
// Implementations must not call back into the Client synchronously.
type Handler interface {
	StreamStateChanged(State)
	StreamNewMessage(model.Message)
	StreamRefreshNeeded()
	// StreamAuthFailed reports a terminal 401/403 from the hub.
	StreamAuthFailed(error)
}

// Config configures a Client.
type Config struct {
	// HubURL is the Mercure hub endpoint, e.g. https://mercure.mail.tm/.well-known/mercure.
	HubURL string
	// Backoff drives reconnect delays. MaxRetries bounds consecutive
	// failed reconnects before the client gives up.
	Backoff retry.BackoffConfig
	// ConnectTimeout bounds the time until response headers arrive.
	ConnectTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// AuthError is returned when the hub rejects the token.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("event stream rejected credentials (HTTP %d)", e.Status)
}

var (
	errConnectTimeout = errors.New("event stream connect timed out")
	errStreamClosed   = errors.New("event stream closed by server")
)

// Client is a reconnecting Mercure subscriber. The zero value is not
// usable; create one with New.
type Client struct {
	cfg     Config
	handler Handler
	log     *slog.Logger

	// deliverMu serializes handler calls and lets Stop wait out an
	// in-flight delivery. Lock order is deliverMu then mu.
	deliverMu sync.Mutex

	mu          sync.Mutex
	epoch       uint64
	running     bool
	creds       model.Credentials
	state       State
	attempts    int
	lastEventID string
	serverRetry time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer
}

// New returns a stopped client reporting to h.
func New(cfg Config, h Handler) *Client {
	if cfg.HTTPClient == nil {
		// No overall timeout: the response body stays open for the
		// lifetime of the subscription.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = retry.DefaultBackoffConfig()
	}
	return &Client{
		cfg:     cfg,
		handler: h,
		log:     logger.OrDefault(cfg.Logger, "stream"),
	}
}

// Start subscribes to the account topic of creds. Calling it again with
// the same credentials while a subscription or a reconnect is active is
// a no-op. Different credentials tear the old connection down first.
// Invalid credentials leave the client disconnected.
func (c *Client) Start(creds model.Credentials) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.running && c.creds.Key() == creds.Key() {
		c.mu.Unlock()
		return
	}

	c.teardownLocked()
	c.creds = creds
	c.lastEventID = ""
	c.serverRetry = 0

	if !creds.Valid() || c.cfg.HubURL == "" {
		changed := c.setDisconnectedLocked()
		c.mu.Unlock()
		c.log.Debug("not starting event stream", "has_credentials", creds.Valid(), "has_hub", c.cfg.HubURL != "")
		if changed {
			c.handler.StreamStateChanged(Disconnected)
		}
		return
	}

	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	epoch, ctx := c.epoch, c.ctx
	c.mu.Unlock()

	go c.run(ctx, epoch, creds)
}

// Stop closes the connection and cancels any pending reconnect. It
// reports Disconnected once if the client was not already disconnected.
// No handler call happens after Stop returns.
func (c *Client) Stop() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.teardownLocked()
	changed := c.setDisconnectedLocked()
	c.mu.Unlock()

	if changed {
		c.handler.StreamStateChanged(Disconnected)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive failed connects.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// teardownLocked invalidates the current epoch. Caller holds mu.
func (c *Client) teardownLocked() {
	c.epoch++
	c.running = false
	c.attempts = 0
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setDisconnectedLocked() bool {
	if c.state == Disconnected {
		return false
	}
	c.state = Disconnected
	metrics.StreamState.Set(float64(Disconnected))
	return true
}

// deliver runs fn under deliverMu if epoch is still current.
func (c *Client) deliver(epoch uint64, fn func()) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	ok := epoch == c.epoch
	c.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// transition moves to st and reports it, unless the epoch is stale or the
// state is unchanged. onEnter runs under mu when the move happens.
func (c *Client) transition(epoch uint64, st State, onEnter func()) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if onEnter != nil {
		onEnter()
	}
	if c.state == st {
		c.mu.Unlock()
		return
	}
	c.state = st
	metrics.StreamState.Set(float64(st))
	c.mu.Unlock()

	c.handler.StreamStateChanged(st)
}

func (c *Client) run(ctx context.Context, epoch uint64, creds model.Credentials) {
	c.transition(epoch, Connecting, nil)

	err := c.subscribe(ctx, epoch, creds)
	c.failed(epoch, err)
}

// subscribe performs one connection and reads it until it ends. It always
// returns a non-nil error.
func (c *Client) subscribe(ctx context.Context, epoch uint64, creds model.Credentials) error {
	endpoint, err := c.topicURL(creds.AccountID)
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	connectTimer := time.AfterFunc(c.cfg.ConnectTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		connectTimer.Stop()
		return fmt.Errorf("creating subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	c.mu.Lock()
	if c.epoch == epoch && c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.cfg.HTTPClient.Do(req)
	stopped := connectTimer.Stop()
	if err != nil {
		if timedOut.Load() && !stopped {
			return errConnectTimeout
		}
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("unexpected event stream content type %q", ct)
	}

	metrics.StreamConnectAttempts.WithLabelValues("success").Inc()
	c.transition(epoch, Connected, func() { c.attempts = 0 })
	c.log.Info("event stream connected", "account", creds.AccountID)

	fr := newFrameReader(resp.Body)
	for {
		f, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamClosed
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		if !c.dispatch(epoch, f) {
			return context.Canceled
		}
	}
}

// dispatch routes one frame. It returns false once the epoch is stale.
func (c *Client) dispatch(epoch uint64, f frame) bool {
	c.mu.Lock()
	if c.epoch == epoch {
		if f.ID != "" {
			c.lastEventID = f.ID
		}
		if f.Retry >= 0 {
			c.serverRetry = time.Duration(f.Retry) * time.Millisecond
		}
	}
	c.mu.Unlock()

	ev, err := ParseEvent([]byte(f.Data))
	if err != nil {
		c.log.Warn("dropping malformed event", "error", err)
		metrics.StreamEvents.WithLabelValues("malformed").Inc()
		return true
	}
	metrics.StreamEvents.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind == KindUnknown {
		c.log.Debug("unrecognised event, refreshing", "type", ev.Type)
	}

	return c.deliver(epoch, func() {
		switch ev.Kind {
		case KindMessage:
			c.handler.StreamNewMessage(*ev.Message)
			c.handler.StreamRefreshNeeded()
		default:
			c.handler.StreamRefreshNeeded()
		}
	})
}

// failed handles the end of a connection: report Disconnected, then either
// schedule the next attempt or give up.
func (c *Client) failed(epoch uint64, err error) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	var authErr *AuthError
	terminal := errors.As(err, &authErr)
	wasConnected := c.state == Connected
	changed := c.setDisconnectedLocked()

	if !wasConnected {
		metrics.StreamConnectAttempts.WithLabelValues("failure").Inc()
	}

	var delay time.Duration
	switch {
	case terminal:
		c.running = false
	case c.attempts < c.cfg.Backoff.MaxRetries:
		c.attempts++
		delay = c.reconnectDelayLocked()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.timer = time.AfterFunc(delay, func() { c.reconnect(epoch) })
	default:
		c.running = false
	}
	attempts, running := c.attempts, c.running
	c.mu.Unlock()

	switch {
	case terminal:
		c.log.Warn("event stream authentication failed", "status", authErr.Status)
	case running:
		c.log.Info("event stream disconnected, reconnecting", "error", err, "attempt", attempts, "delay", delay)
	default:
		c.log.Warn("event stream reconnect attempts exhausted", "error", err, "attempts", attempts)
	}

	if changed {
		c.handler.StreamStateChanged(Disconnected)
	}
	if terminal {
		c.handler.StreamAuthFailed(err)
	}
}

// reconnectDelayLocked is the backoff delay for the current attempt,
// raised to the hub's retry hint but never past MaxInterval.
func (c *Client) reconnectDelayLocked() time.Duration {
	delay := c.cfg.Backoff.Delay(c.attempts)
	if c.serverRetry > delay {
		delay = c.serverRetry
		if ceiling := c.cfg.Backoff.MaxInterval; ceiling > 0 && delay > ceiling {
			delay = ceiling
		}
	}
	return delay
}

func (c *Client) reconnect(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.running {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx, creds := c.ctx, c.creds
	c.mu.Unlock()

	c.run(ctx, epoch, creds)
}

func (c *Client) topicURL(accountID string) (string, error) {
	u, err := url.Parse(c.cfg.HubURL)
	if err != nil {
		return "", fmt.Errorf("parsing hub url: %w", err)
	}
	q := u.Query()
	q.Set("topic", "/accounts/"+accountID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
