package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
)

// DefaultPollInterval is used when Configure is given a zero interval.
const DefaultPollInterval = 30 * time.Second

const (
	defaultMinInterval  = 5 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Fetcher loads one page of the message list. mailapi.Client implements it.
type Fetcher interface {
	FetchMessages(ctx context.Context, token string, page int) (*model.MessagePage, error)
}

// PollHandler receives poller results. Calls are serialized and never made
// after the Configure or Stop call that ended the run has returned.
type PollHandler interface {
	PollNewMessage(model.Message)
	PollListUpdated([]model.Message)
	PollFailed(error)
}

// PollerOptions tunes a Poller. Zero values pick the defaults.
type PollerOptions struct {
	// MinInterval is the floor every interval is clamped to.
	MinInterval  time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Poller fetches the message list on a fixed interval and diffs it against
// the previous result. The first successful fetch of a run is a baseline
// and announces nothing.
type Poller struct {
	fetcher Fetcher
	handler PollHandler
	opts    PollerOptions
	log     *slog.Logger

	// deliverMu serializes handler calls and is held by Configure and Stop
	// so no stale result is delivered after they return.
	deliverMu gosync.Mutex

	mu          gosync.Mutex
	epoch       uint64
	running     bool
	enabled     bool
	interval    time.Duration
	creds       model.Credentials
	snapshot    []model.Message
	hasBaseline bool
	inFlight    bool
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(f Fetcher, h PollHandler, opts PollerOptions) *Poller {
	if f == nil || h == nil {
		panic("sync: NewPoller requires a fetcher and a handler")
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Poller{
		fetcher:  f,
		handler:  h,
		opts:     opts,
		log:      logger.OrDefault(opts.Logger, "poller"),
		interval: DefaultPollInterval,
	}
}

// Configure applies the desired polling state. Polling runs only while
// enabled with valid credentials. A credentials change restarts the run
// with a fresh baseline; an interval change reschedules without one.
func (p *Poller) Configure(enabled bool, interval time.Duration, creds model.Credentials) {
	interval = p.normalizeInterval(interval)

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	active := enabled && creds.Valid()
	wasRunning := p.running
	sameCreds := p.creds.Key() == creds.Key()
	intervalChanged := p.interval != interval

	p.enabled = enabled
	p.interval = interval
	p.creds = creds

	switch {
	case !active:
		if wasRunning {
			p.stopLocked()
			p.log.Debug("polling stopped")
		}
	case wasRunning && sameCreds:
		if intervalChanged {
			p.restartLoopLocked(false)
			p.log.Debug("polling rescheduled", "interval", interval)
		}
	default:
		if wasRunning {
			p.stopLocked()
		}
		p.startLocked()
		p.log.Debug("polling started", "interval", interval, "account", creds.AccountID)
	}
}

// Stop halts polling and clears the baseline.
func (p *Poller) Stop() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = false
	if p.running {
		p.stopLocked()
	}
}

// Active reports whether a polling run is scheduled.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the effective interval after defaulting and clamping.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Snapshot returns a copy of the last fetched list.
func (p *Poller) Snapshot() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Message(nil), p.snapshot...)
}

func (p *Poller) normalizeInterval(d time.Duration) time.Duration {
	if d < 0 {
		panic(fmt.Sprintf("sync: negative poll interval %s", d))
	}
	if d == 0 {
		d = DefaultPollInterval
	}
	if d < p.opts.MinInterval {
		d = p.opts.MinInterval
	}
	return d
}

func (p *Poller) startLocked() {
	p.epoch++
	p.running = true
	p.snapshot = nil
	p.hasBaseline = false
	p.inFlight = false
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.restartLoopLocked(true)
}

// restartLoopLocked replaces the ticker goroutine of the current epoch.
func (p *Poller) restartLoopLocked(immediate bool) {
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.stopCh = make(chan struct{})
	go p.loop(p.epoch, p.interval, p.stopCh, immediate)
}

func (p *Poller) stopLocked() {
	p.epoch++
	p.running = false
	p.snapshot = nil
	p.hasBaseline = false
	p.inFlight = false
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) loop(epoch uint64, interval time.Duration, stopCh <-chan struct{}, immediate bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		p.tick(epoch)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			p.tick(epoch)
		}
	}
}

// tick starts a fetch unless one is already running.
func (p *Poller) tick(epoch uint64) {
	p.mu.Lock()
	if epoch != p.epoch || !p.running {
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		p.mu.Unlock()
		p.log.Debug("poll skipped, fetch in flight")
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		return
	}
	p.inFlight = true
	ctx, token := p.ctx, p.creds.Token
	p.mu.Unlock()

	go p.cycle(ctx, epoch, token)
}

func (p *Poller) cycle(parent context.Context, epoch uint64, token string) {
	ctx, cancel := context.WithTimeout(parent, p.opts.FetchTimeout)
	start := time.Now()
	page, err := p.fetcher.FetchMessages(ctx, token, 1)
	cancel()
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.inFlight = false

	if err != nil {
		p.mu.Unlock()
		metrics.PollCycles.WithLabelValues("error").Inc()
		p.log.Warn("poll failed", "error", err)
		p.handler.PollFailed(err)
		return
	}

	current := append([]model.Message(nil), page.Messages...)
	var fresh []model.Message
	if p.hasBaseline {
		fresh = model.NewSince(p.snapshot, current)
	}
	p.snapshot = current
	p.hasBaseline = true
	p.mu.Unlock()

	metrics.PollCycles.WithLabelValues("success").Inc()
	if len(fresh) > 0 {
		p.log.Debug("poll found new messages", "count", len(fresh))
	}
	for _, m := range fresh {
		p.handler.PollNewMessage(m)
	}
	p.handler.PollListUpdated(append([]model.Message(nil), current...))
}
