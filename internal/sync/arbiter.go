// Package sync keeps a mailbox view current. The Arbiter prefers the
// Mercure event stream and falls back to interval polling while the
// stream is down.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/mailapi"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/stream"
)

// StreamClient is the part of stream.Client the arbiter drives.
type StreamClient interface {
	Start(model.Credentials)
	Stop()
}

// StreamFactory builds a stream client reporting to h.
type StreamFactory func(h stream.Handler) StreamClient

// NewStreamFactory returns a factory building stream.Client values from cfg.
func NewStreamFactory(cfg stream.Config) StreamFactory {
	return func(h stream.Handler) StreamClient {
		return stream.New(cfg, h)
	}
}

// ArbiterConfig configures an Arbiter.
type ArbiterConfig struct {
	Fetcher         Fetcher
	Stream          StreamFactory
	PollInterval    time.Duration
	PollerOptions   PollerOptions
	FallbackEnabled bool
	Logger          *slog.Logger
}

// Callbacks receive arbiter output. They run on the arbiter goroutine in
// order and must not block. Nil callbacks are skipped.
type Callbacks struct {
	NewMessage   func(model.Message)
	ListUpdated  func([]model.Message)
	StateChanged func(State)
	// AuthFailed fires at most once per credentials when the token is
	// rejected by the API or the hub.
	AuthFailed func(model.Credentials, error)
}

// Arbiter owns the stream client and the poller for one account at a
// time. All state lives on a single goroutine; public methods enqueue and
// return immediately.
type Arbiter struct {
	cfg   ArbiterConfig
	cb    Callbacks
	log   *slog.Logger
	inbox *inbox
	done  chan struct{}

	state     atomic.Int32
	closeOnce gosync.Once

	// Everything below is owned by the loop goroutine.
	creds        model.Credentials
	session      uint64
	sessionCtx   context.Context
	cancelFetch  context.CancelFunc
	enabled      bool
	attempted    bool
	connected    bool
	stream       StreamClient
	streamGen    uint64
	poller       *Poller
	pollGen      uint64
	pollBaseline bool
	known        map[string]struct{}
	list         []model.Message
	hasList      bool
	fetching     bool
	fetchPending bool
	authReported bool
}

// NewArbiter starts the arbiter goroutine. It does nothing until
// SetCredentials is called.
func NewArbiter(cfg ArbiterConfig, cb Callbacks) *Arbiter {
	if cfg.Fetcher == nil || cfg.Stream == nil {
		panic("sync: NewArbiter requires a fetcher and a stream factory")
	}
	if cfg.PollInterval < 0 {
		panic("sync: negative poll interval")
	}
	if cfg.PollerOptions.Logger == nil {
		cfg.PollerOptions.Logger = cfg.Logger
	}

	a := &Arbiter{
		cfg:     cfg,
		cb:      cb,
		log:     logger.OrDefault(cfg.Logger, "arbiter"),
		inbox:   newInbox(),
		done:    make(chan struct{}),
		enabled: cfg.FallbackEnabled,
		known:   make(map[string]struct{}),
	}
	a.sessionCtx, a.cancelFetch = context.WithCancel(context.Background())
	metrics.SyncState.Set(float64(Connecting))

	go a.loop()
	return a
}

// SetCredentials switches the account. Credentials equal to the current
// ones are ignored. Empty credentials stop all activity.
func (a *Arbiter) SetCredentials(creds model.Credentials) {
	a.inbox.push(setCredentialsEvent{creds: creds})
}

// SetEnabled turns the polling fallback on or off.
func (a *Arbiter) SetEnabled(enabled bool) {
	a.inbox.push(setEnabledEvent{enabled: enabled})
}

// Refresh performs one immediate fetch and diff, whatever the state.
func (a *Arbiter) Refresh() {
	a.inbox.push(refreshEvent{})
}

// Reconnect restarts the event stream with the current credentials. It
// is the way back after the stream gave up.
func (a *Arbiter) Reconnect() {
	a.inbox.push(reconnectEvent{})
}

// State returns the last published state.
func (a *Arbiter) State() State {
	return State(a.state.Load())
}

// Close stops the stream and the poller and waits for the loop to exit.
// Later calls on the arbiter are ignored.
func (a *Arbiter) Close() {
	a.closeOnce.Do(func() {
		a.inbox.push(closeEvent{})
	})
	<-a.done
}

// Inbox events.
type (
	setCredentialsEvent struct{ creds model.Credentials }
	setEnabledEvent     struct{ enabled bool }
	refreshEvent        struct{}
	reconnectEvent      struct{}
	closeEvent          struct{}

	streamStateEvent struct {
		gen   uint64
		state stream.State
	}
	streamMessageEvent struct {
		gen uint64
		msg model.Message
	}
	streamRefreshEvent struct{ gen uint64 }
	streamAuthEvent    struct {
		gen uint64
		err error
	}

	pollMessageEvent struct {
		gen uint64
		msg model.Message
	}
	pollListEvent struct {
		gen  uint64
		list []model.Message
	}
	pollFailedEvent struct {
		gen uint64
		err error
	}

	fetchDoneEvent struct {
		session uint64
		trigger string
		manual  bool
		page    *model.MessagePage
		err     error
	}
)

func (a *Arbiter) loop() {
	defer close(a.done)
	for range a.inbox.notify {
		for _, ev := range a.inbox.drain() {
			if !a.handle(ev) {
				return
			}
		}
	}
}

// handle processes one event and returns false when the loop must exit.
func (a *Arbiter) handle(ev any) bool {
	switch ev := ev.(type) {
	case setCredentialsEvent:
		a.switchAccount(ev.creds)
	case setEnabledEvent:
		if a.enabled != ev.enabled {
			a.enabled = ev.enabled
			a.log.Info("polling fallback toggled", "enabled", ev.enabled)
			a.reevaluate()
		}
	case refreshEvent:
		if a.creds.Valid() {
			a.startFetch("manual", true)
		}
	case reconnectEvent:
		if a.creds.Valid() {
			a.restartStream()
		}
	case closeEvent:
		a.shutdown()
		return false

	case streamStateEvent:
		if ev.gen == a.streamGen {
			a.onStreamState(ev.state)
		}
	case streamMessageEvent:
		if ev.gen == a.streamGen {
			a.announce(ev.msg, "stream")
		}
	case streamRefreshEvent:
		if ev.gen == a.streamGen {
			a.requestFetch("stream")
		}
	case streamAuthEvent:
		if ev.gen == a.streamGen {
			a.reportAuth(ev.err)
		}

	case pollMessageEvent:
		if a.pollCurrent(ev.gen) {
			a.announce(ev.msg, "poll")
		}
	case pollListEvent:
		if a.pollCurrent(ev.gen) {
			a.onPollList(ev.list)
		}
	case pollFailedEvent:
		if a.pollCurrent(ev.gen) && mailapi.IsAuthError(ev.err) {
			a.reportAuth(ev.err)
		}

	case fetchDoneEvent:
		a.onFetchDone(ev)
	}
	return true
}

func (a *Arbiter) pollCurrent(gen uint64) bool {
	return a.poller != nil && gen == a.pollGen
}

func (a *Arbiter) switchAccount(creds model.Credentials) {
	if creds.Key() == a.creds.Key() {
		return
	}

	a.stopPoller()
	a.stopStream()
	a.cancelFetch()

	a.session++
	a.sessionCtx, a.cancelFetch = context.WithCancel(context.Background())
	a.creds = creds
	a.attempted = false
	a.connected = false
	a.known = make(map[string]struct{})
	a.list = nil
	a.hasList = false
	a.fetching = false
	a.fetchPending = false
	a.authReported = false

	a.setState(Connecting)
	if !creds.Valid() {
		a.log.Info("credentials cleared, sync stopped")
		return
	}

	a.log.Info("account switched", "account", creds.AccountID)
	a.restartStream()
	a.requestFetch("baseline")
}

func (a *Arbiter) onStreamState(st stream.State) {
	switch st {
	case stream.Connected:
		a.attempted = true
		a.connected = true
		// The poller goes first so no poll result lands while Live.
		a.stopPoller()
	case stream.Disconnected:
		a.attempted = true
		a.connected = false
	case stream.Connecting:
		a.connected = false
	}
	a.reevaluate()
}

// reevaluate starts or stops the poller and derives the state.
func (a *Arbiter) reevaluate() {
	shouldPoll := a.attempted && !a.connected && a.enabled && a.creds.Valid()
	switch {
	case shouldPoll && a.poller == nil:
		a.startPoller()
	case !shouldPoll && a.poller != nil:
		a.stopPoller()
	}

	switch {
	case !a.attempted:
		a.setState(Connecting)
	case a.connected:
		a.setState(Live)
	case a.enabled:
		a.setState(DegradedPolling)
	default:
		a.setState(DegradedNoFallback)
	}
}

func (a *Arbiter) setState(st State) {
	if State(a.state.Load()) == st {
		return
	}
	a.state.Store(int32(st))
	metrics.SyncState.Set(float64(st))
	a.log.Info("sync state changed", "state", st.String())
	if a.cb.StateChanged != nil {
		a.cb.StateChanged(st)
	}
}

func (a *Arbiter) restartStream() {
	a.stopStream()
	a.streamGen++
	a.stream = a.cfg.Stream(&streamSink{a: a, gen: a.streamGen})
	a.stream.Start(a.creds)
}

func (a *Arbiter) stopStream() {
	if a.stream == nil {
		return
	}
	// Bump first so the Disconnected that Stop reports is discarded.
	a.streamGen++
	a.stream.Stop()
	a.stream = nil
}

func (a *Arbiter) startPoller() {
	a.pollGen++
	a.pollBaseline = false
	a.poller = NewPoller(a.cfg.Fetcher, &pollSink{a: a, gen: a.pollGen}, a.cfg.PollerOptions)
	a.poller.Configure(true, a.cfg.PollInterval, a.creds)
}

func (a *Arbiter) stopPoller() {
	if a.poller == nil {
		return
	}
	a.pollGen++
	a.poller.Stop()
	a.poller = nil
}

// requestFetch coalesces refreshes: one fetch in flight and at most one
// trailing fetch queued behind it.
func (a *Arbiter) requestFetch(trigger string) {
	if a.fetching {
		a.fetchPending = true
		return
	}
	a.startFetch(trigger, false)
}

func (a *Arbiter) startFetch(trigger string, manual bool) {
	if !manual {
		a.fetching = true
	}

	session, ctx, token := a.session, a.sessionCtx, a.creds.Token
	timeout := a.cfg.PollerOptions.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	go func() {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		page, err := a.cfg.Fetcher.FetchMessages(fctx, token, 1)
		metrics.FetchDuration.Observe(time.Since(start).Seconds())

		a.inbox.push(fetchDoneEvent{
			session: session,
			trigger: trigger,
			manual:  manual,
			page:    page,
			err:     err,
		})
	}()
}

func (a *Arbiter) onFetchDone(ev fetchDoneEvent) {
	if ev.session != a.session {
		return
	}
	if !ev.manual {
		a.fetching = false
	}

	result := "success"
	switch {
	case ev.err != nil:
		result = "error"
		switch {
		case mailapi.IsAuthError(ev.err):
			a.reportAuth(ev.err)
		case errors.Is(ev.err, context.Canceled):
			a.log.Debug("message list fetch cancelled", "trigger", ev.trigger, "manual", ev.manual)
		default:
			a.log.Warn("message list fetch failed", "trigger", ev.trigger, "error", ev.err)
		}
	default:
		a.applyList(ev.page.Messages, ev.trigger)
	}
	metrics.RefreshFetches.WithLabelValues(ev.trigger, result).Inc()

	if !ev.manual && a.fetchPending {
		a.fetchPending = false
		a.startFetch("coalesced", false)
	}
}

// onPollList takes a poller list. The first list of a poller run is its
// baseline and announces nothing. Later cycles announce through
// PollNewMessage, so their lists only replace the snapshot.
func (a *Arbiter) onPollList(list []model.Message) {
	if !a.pollBaseline {
		a.pollBaseline = true
		a.log.Debug("poller baseline loaded", "messages", len(list))
	}
	a.setList(list)
}

// applyList diffs list against everything known this session. The first
// list is a baseline.
func (a *Arbiter) applyList(list []model.Message, channel string) {
	if !a.hasList {
		a.log.Debug("baseline loaded", "messages", len(list))
	} else {
		for _, m := range list {
			a.announce(m, channel)
		}
	}
	a.setList(list)
}

// setList marks every id in list known and publishes it.
func (a *Arbiter) setList(list []model.Message) {
	list = append([]model.Message(nil), list...)
	a.hasList = true
	for _, m := range list {
		a.known[m.ID] = struct{}{}
	}

	a.list = list
	if a.cb.ListUpdated != nil {
		a.cb.ListUpdated(append([]model.Message(nil), list...))
	}
}

func (a *Arbiter) announce(m model.Message, channel string) {
	if _, ok := a.known[m.ID]; ok {
		if channel == "stream" {
			metrics.DuplicatesSuppressed.Inc()
		}
		return
	}
	a.known[m.ID] = struct{}{}
	metrics.NewMessages.WithLabelValues(channel).Inc()
	a.log.Debug("new message", "id", m.ID, "channel", channel)
	if a.cb.NewMessage != nil {
		a.cb.NewMessage(m)
	}
}

func (a *Arbiter) reportAuth(err error) {
	if a.authReported {
		return
	}
	a.authReported = true
	a.log.Warn("credentials rejected", "account", a.creds.AccountID, "error", err)
	if a.cb.AuthFailed != nil {
		a.cb.AuthFailed(a.creds, err)
	}
}

func (a *Arbiter) shutdown() {
	a.inbox.close()
	a.stopPoller()
	a.stopStream()
	a.cancelFetch()
	a.session++
	a.log.Debug("arbiter closed")
}

// streamSink forwards stream callbacks into the inbox tagged with the
// stream generation they belong to.
type streamSink struct {
	a   *Arbiter
	gen uint64
}

func (s *streamSink) StreamStateChanged(st stream.State) {
	s.a.inbox.push(streamStateEvent{gen: s.gen, state: st})
}

func (s *streamSink) StreamNewMessage(m model.Message) {
	s.a.inbox.push(streamMessageEvent{gen: s.gen, msg: m})
}

func (s *streamSink) StreamRefreshNeeded() {
	s.a.inbox.push(streamRefreshEvent{gen: s.gen})
}

func (s *streamSink) StreamAuthFailed(err error) {
	s.a.inbox.push(streamAuthEvent{gen: s.gen, err: err})
}

// pollSink does the same for one poller run.
type pollSink struct {
	a   *Arbiter
	gen uint64
}

func (s *pollSink) PollNewMessage(m model.Message) {
	s.a.inbox.push(pollMessageEvent{gen: s.gen, msg: m})
}

func (s *pollSink) PollListUpdated(list []model.Message) {
	s.a.inbox.push(pollListEvent{gen: s.gen, list: list})
}

func (s *pollSink) PollFailed(err error) {
	s.a.inbox.push(pollFailedEvent{gen: s.gen, err: err})
}
