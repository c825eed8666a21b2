package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/stream"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

var (
	credsA = model.Credentials{AccountID: "acc-a", Token: "token-a"}
	credsB = model.Credentials{AccountID: "acc-b", Token: "token-b"}
)

func msg(id string) model.Message {
	return model.Message{ID: id, Subject: "subject " + id}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// fakeFetcher serves a settable message list and counts calls.
type fakeFetcher struct {
	mu     gosync.Mutex
	msgs   []model.Message
	err    error
	calls  int
	tokens []string
	gate   chan struct{}
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, token string, page int) (*model.MessagePage, error) {
	f.mu.Lock()
	f.calls++
	f.tokens = append(f.tokens, token)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.MessagePage{
		Messages: append([]model.Message(nil), f.msgs...),
		Total:    len(f.msgs),
	}, nil
}

func (f *fakeFetcher) set(msgIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
	for _, id := range msgIDs {
		f.msgs = append(f.msgs, msg(id))
	}
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// block makes every later call wait until the returned channel is closed.
func (f *fakeFetcher) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

// pollRecorder implements PollHandler.
type pollRecorder struct {
	mu       gosync.Mutex
	newIDs   []string
	lists    [][]string
	failures []error
}

func (r *pollRecorder) PollNewMessage(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newIDs = append(r.newIDs, m.ID)
}

func (r *pollRecorder) PollListUpdated(list []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, ids(list))
}

func (r *pollRecorder) PollFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *pollRecorder) snapshot() (newIDs []string, lists [][]string, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.newIDs...), append([][]string(nil), r.lists...), len(r.failures)
}

// fakeStream records Start/Stop and exposes the handler so tests can
// play the hub.
type fakeStream struct {
	h stream.Handler

	mu      gosync.Mutex
	started []model.Credentials
	stopped bool
}

func (s *fakeStream) Start(c model.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, c)
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) startedWith() []model.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Credentials(nil), s.started...)
}

type fakeStreams struct {
	mu      gosync.Mutex
	streams []*fakeStream
}

func (f *fakeStreams) New(h stream.Handler) StreamClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{h: h}
	f.streams = append(f.streams, s)
	return s
}

func (f *fakeStreams) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeStreams) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

// arbiterRecorder collects Callbacks output.
type arbiterRecorder struct {
	mu     gosync.Mutex
	newIDs []string
	lists  [][]string
	states []State
	auth   []model.Credentials
}

func (r *arbiterRecorder) callbacks() Callbacks {
	return Callbacks{
		NewMessage: func(m model.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.newIDs = append(r.newIDs, m.ID)
		},
		ListUpdated: func(list []model.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lists = append(r.lists, ids(list))
		},
		StateChanged: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		AuthFailed: func(c model.Credentials, _ error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.auth = append(r.auth, c)
		},
	}
}

func (r *arbiterRecorder) announced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.newIDs...)
}

func (r *arbiterRecorder) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

func (r *arbiterRecorder) lastList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lists) == 0 {
		return nil
	}
	return r.lists[len(r.lists)-1]
}

func (r *arbiterRecorder) authFailures() []model.Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Credentials(nil), r.auth...)
}
