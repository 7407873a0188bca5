package warmer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fetchReply struct {
	code int
	err  error
}

type fakeFetcher struct {
	mu      sync.Mutex
	replies map[string]fetchReply
	calls   []string
	onCall  func(n int) // called with the 1-based call number before replying
	block   chan struct{}
	entered chan struct{}
	delay   time.Duration
	spans   []span
}

// span is the wall-clock interval of one fake probe call.
type span struct{ start, end time.Time }

func (f *fakeFetcher) Get(ctx context.Context, url string, timeout time.Duration) (int, error) {
	start := time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, url)
	n := len(f.calls)
	hook := f.onCall
	r, ok := f.replies[url]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
		defer func() {
			f.mu.Lock()
			f.spans = append(f.spans, span{start: start, end: time.Now()})
			f.mu.Unlock()
		}()
	}
	if timeout != HTTPTimeout {
		return 0, errors.New("unexpected timeout")
	}

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if hook != nil {
		hook(n)
	}
	if !ok {
		return 200, nil
	}
	return r.code, r.err
}

func (f *fakeFetcher) Spans() []span {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]span(nil), f.spans...)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSender struct {
	mu     sync.Mutex
	fail   map[string]error
	sent   []DatagramTarget
	onCall func(n int)
}

func (s *fakeSender) Send(ctx context.Context, address string, port uint16, payload []byte, timeout time.Duration) error {
	t := DatagramTarget{Address: address, Port: port}
	s.mu.Lock()
	s.sent = append(s.sent, t)
	n := len(s.sent)
	hook := s.onCall
	err := s.fail[t.String()]
	s.mu.Unlock()

	if len(payload) != 2 || payload[0] != 0 || payload[1] != 0 {
		return errors.New("unexpected payload")
	}
	if timeout != UDPTimeout {
		return errors.New("unexpected timeout")
	}
	if hook != nil {
		hook(n)
	}
	return err
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeProvider struct {
	mu     sync.Mutex
	down   float64
	up     float64
	errAt  string // "discover" | "download" | "upload"
	err    error
	steps  []string
	onStep func(step string)
	closed bool
	server string
	asked  int
}

func (p *fakeProvider) step(name string) error {
	p.mu.Lock()
	p.steps = append(p.steps, name)
	hook := p.onStep
	p.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	if p.errAt == name {
		return p.err
	}
	return nil
}

func (p *fakeProvider) DiscoverBestServer(context.Context) error { return p.step("discover") }

func (p *fakeProvider) MeasureDownload(context.Context) (float64, error) {
	if err := p.step("download"); err != nil {
		return 0, err
	}
	return p.down, nil
}

func (p *fakeProvider) MeasureUpload(context.Context) (float64, error) {
	if err := p.step("upload"); err != nil {
		return 0, err
	}
	return p.up, nil
}

func (p *fakeProvider) DescribeServer() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked++
	return p.server, p.server != ""
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Steps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.steps...)
}

type harness struct {
	fetcher  *fakeFetcher
	sender   *fakeSender
	provider *fakeProvider
	builds   int
	w        *Warmer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		fetcher:  &fakeFetcher{replies: map[string]fetchReply{}},
		sender:   &fakeSender{fail: map[string]error{}},
		provider: &fakeProvider{down: 50_000_000, up: 10_000_000},
	}
	deps := Deps{
		Fetcher: h.fetcher,
		Sender:  h.sender,
		NewThroughput: func(context.Context) (ThroughputProvider, error) {
			h.builds++
			return h.provider, nil
		},
	}
	w, err := New(context.Background(), deps, append([]Option{WithSpacing(0)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Close(ctx)
	})
	h.w = w
	return h
}

// runSync executes the run body on the test goroutine.
func (h *harness) runSync(state *RunState) ([]Event, Outcome) {
	var evs []Event
	out := h.w.Run(context.Background(), state, func(ev Event) { evs = append(evs, ev) })
	return evs, out
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var evs []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatalf("event stream not closed; got %d events so far", len(evs))
		}
	}
}

func texts(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == EventLog {
			out = append(out, ev.Text)
		}
	}
	return out
}

func hasText(evs []Event, want string) bool {
	for _, s := range texts(evs) {
		if s == want {
			return true
		}
	}
	return false
}

func countKind(evs []Event, k EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func assertDoneLast(t *testing.T, evs []Event) {
	t.Helper()
	if n := countKind(evs, EventDone); n != 1 {
		t.Fatalf("Done events = %d, want 1 (events: %v)", n, evs)
	}
	if evs[len(evs)-1].Kind != EventDone {
		t.Fatalf("last event = %v, want done", evs[len(evs)-1])
	}
}
