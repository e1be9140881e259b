package delivery

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dual-chat/internal/storage"
	"dual-chat/internal/transport"
)

// fakeChannel is a scriptable transport for engine tests.
type fakeChannel struct {
	name string

	mu       sync.Mutex
	peers    []string
	sent     []string
	sentTo   [][]string
	failWith func(payload string) error
	starts   int
	stops    int
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeChannel) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeChannel) Send(payload []byte, peers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		if f.name == transport.RelayChannelName {
			return transport.ErrNotConnected
		}
		return transport.ErrNoPeers
	}
	if f.failWith != nil {
		if err := f.failWith(string(payload)); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, string(payload))
	f.sentTo = append(f.sentTo, peers)
	return nil
}

func (f *fakeChannel) ActivePeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.peers))
	copy(out, f.peers)
	return out
}

func (f *fakeChannel) setPeers(peers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = peers
}

func (f *fakeChannel) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) countSent(frame string) int {
	n := 0
	for _, s := range f.sentFrames() {
		if s == frame {
			n++
		}
	}
	return n
}

// stubSink records everything the engine surfaces.
type stubSink struct {
	mu       sync.Mutex
	messages []string
	system   []string
	states   map[string]ChannelState
}

func newStubSink() *stubSink {
	return &stubSink{states: make(map[string]ChannelState)}
}

func (s *stubSink) ShowMessage(from, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, "["+from+"]: "+text)
}

func (s *stubSink) ShowSystem(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = append(s.system, text)
}

func (s *stubSink) UpdatePeers([]string) {}

func (s *stubSink) UpdateState(channel string, state ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[channel] = state
}

func (s *stubSink) shown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

type engineFixture struct {
	engine *Engine
	peer   *fakeChannel
	relay  *fakeChannel
	events chan transport.Event
	outbox *storage.OutboxStore
	inbox  *storage.InboxStore
	sink   *stubSink
}

func newEngineFixture(t *testing.T, stableID, session string) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	outbox, err := storage.OpenOutbox(filepath.Join(dir, "outbox.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	inbox, err := storage.OpenInbox(filepath.Join(dir, "inbox.db"))
	if err != nil {
		t.Fatalf("open inbox: %v", err)
	}
	t.Cleanup(func() {
		_ = outbox.Close()
		_ = inbox.Close()
	})

	peer := newFakeChannel(transport.PeerChannelName)
	relay := newFakeChannel(transport.RelayChannelName)
	events := make(chan transport.Event, 64)
	sink := newStubSink()
	engine := NewEngine(Options{
		StableID:    stableID,
		SessionName: session,
		Peer:        peer,
		Relay:       relay,
		Events:      events,
		Outbox:      outbox,
		Inbox:       inbox,
		Sink:        sink,
	})
	return &engineFixture{engine: engine, peer: peer, relay: relay, events: events, outbox: outbox, inbox: inbox, sink: sink}
}

// drain pushes an event and processes queued work synchronously, keeping
// tests deterministic without running the engine's event loop goroutine.
func (f *engineFixture) deliver(ev transport.Event) {
	f.engine.handleEvent(ev)
	f.drainTasks()
}

func (f *engineFixture) drainTasks() {
	for {
		select {
		case task := <-f.engine.tasks:
			task()
		default:
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func outboxLen(t *testing.T, store *storage.OutboxStore) int {
	t.Helper()
	n, err := store.Len()
	if err != nil {
		t.Fatalf("outbox len: %v", err)
	}
	return n
}
