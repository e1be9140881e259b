package delivery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dual-chat/internal/message"
	"dual-chat/internal/storage"
	"dual-chat/internal/transport"
)

// identityGrace is how long a deferred send waits for identity exchange to
// complete before its retry.
var identityGrace = 500 * time.Millisecond

// Sink receives the engine's observable output: chat lines, system notices,
// peer presence and channel state. Implemented by the ui package.
type Sink interface {
	ShowMessage(from, text string)
	ShowSystem(text string)
	UpdatePeers(peers []string)
	UpdateState(channel string, state ChannelState)
}

// Options wires an Engine. The events channel must be the same one both
// transports emit into; the engine is its only consumer.
type Options struct {
	StableID    string
	SessionName string
	Peer        transport.Channel
	Relay       transport.Channel
	Events      chan transport.Event
	Outbox      *storage.OutboxStore
	Inbox       *storage.InboxStore
	Sink        Sink
	Metrics     *Metrics
}

// Engine routes outbound sends to whichever channel is available, applies the
// ACK protocol over the peer channel, persists anything unconfirmed, and
// replays the queue when a channel comes back. All of its observable state
// transitions are serialized: transport callbacks are marshaled onto the run
// loop, and a single-flight guard serializes interleaved sends.
type Engine struct {
	stableID string
	session  string

	peer  transport.Channel
	relay transport.Channel

	events chan transport.Event
	tasks  chan func()

	outbox  *storage.OutboxStore
	inbox   *storage.InboxStore
	ids     *IdentityMap
	acks    *ackTracker
	metrics *Metrics

	peerSup  *Supervisor
	relaySup *Supervisor

	// sendMu is the single-flight guard: one outbound send at a time, so
	// receiver resolution and persistence never race each other.
	sendMu sync.Mutex

	mu         sync.Mutex
	sink       Sink
	peerState  ChannelState
	relayState ChannelState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds the engine and its supervisors. Call Run to start.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		stableID: opts.StableID,
		session:  opts.SessionName,
		peer:     opts.Peer,
		relay:    opts.Relay,
		events:   opts.Events,
		tasks:    make(chan func(), 32),
		outbox:   opts.Outbox,
		inbox:    opts.Inbox,
		ids:      NewIdentityMap(),
		metrics:  opts.Metrics,
		sink:     opts.Sink,
	}
	if e.metrics == nil {
		e.metrics = &Metrics{}
	}
	e.acks = newAckTracker(e.onAckExpired)
	e.peerSup = NewSupervisor(
		transport.PeerChannelName,
		supervisedPeer{e},
		func() bool { return len(e.peer.ActivePeers()) > 0 },
		func(attempt int) {
			e.post(func() { e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseReconnecting, Attempt: attempt}) })
		},
		func() {
			e.post(func() {
				e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseDegraded})
				e.notifySystem("peer channel down: reconnection attempts exhausted")
			})
		},
		nil,
	)
	e.relaySup = NewSupervisor(
		transport.RelayChannelName,
		e.relay,
		func() bool { return len(e.relay.ActivePeers()) > 0 },
		func(attempt int) {
			e.post(func() { e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseReconnecting, Attempt: attempt}) })
		},
		func() {
			e.post(func() {
				e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseDegraded})
				e.notifySystem("relay channel down: reconnection attempts exhausted")
			})
		},
		nil,
	)
	return e
}

// supervisedPeer tears the peer session down the way the supervisor needs:
// recreating a session invalidates its name->id mappings, so the identity map
// is wiped with it.
type supervisedPeer struct{ e *Engine }

func (s supervisedPeer) Start() error { return s.e.peer.Start() }
func (s supervisedPeer) Stop() {
	s.e.peer.Stop()
	s.e.ids.Clear()
}

// Run starts both channels and processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseStarting})
	if err := e.peer.Start(); err != nil {
		log.Printf("peer channel start: %v", err)
		e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseDegraded})
		e.peerSup.Begin()
	}
	e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseStarting})
	if err := e.relay.Start(); err != nil {
		log.Printf("relay channel start: %v", err)
		e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseDegraded})
		e.relaySup.Begin()
	}

	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			task()
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

// Stop tears everything down. Outstanding sends finish or fail on their own;
// their completion is dropped by the channels' epoch checks.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.peerSup.Cancel()
	e.relaySup.Cancel()
	e.acks.Stop()
	e.peer.Stop()
	e.relay.Stop()
	e.ids.Clear()
	if e.done != nil {
		<-e.done
	}
}

// post marshals a task onto the run loop.
func (e *Engine) post(task func()) {
	select {
	case e.tasks <- task:
	default:
		// Run loop gone or saturated; execute inline rather than drop.
		task()
	}
}

func (e *Engine) handleEvent(ev transport.Event) {
	switch ev.Channel {
	case transport.PeerChannelName:
		e.handlePeerEvent(ev)
	case transport.RelayChannelName:
		e.handleRelayEvent(ev)
	}
}

func (e *Engine) handlePeerEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventPeerFound:
		e.notifySystem(fmt.Sprintf("discovered nearby peer %q", ev.Peer))
	case transport.EventPeerJoined:
		e.peerSup.NoteRecovered()
		e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseActive, Peers: e.peer.ActivePeers()})
		e.notifyPeers()
		if !e.ids.Known(ev.Peer) {
			e.beginIdentityExchange(ev.Peer)
		}
		e.replayPeer()
	case transport.EventPeerLeft:
		peers := e.peer.ActivePeers()
		if len(peers) == 0 {
			// All peers gone at once is what enters supervision;
			// partial loss leaves the channel active.
			e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseDegraded})
			e.peerSup.Begin()
		} else {
			e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseActive, Peers: peers})
		}
		e.notifyPeers()
	case transport.EventData:
		e.handlePeerFrame(ev.Peer, string(ev.Payload))
	case transport.EventFailed:
		log.Printf("peer channel failed: %v", ev.Err)
		e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseDegraded})
		e.peerSup.Begin()
	}
}

func (e *Engine) handleRelayEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnected:
		e.relaySup.NoteRecovered()
		e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseActive, Peers: e.relay.ActivePeers()})
		e.replayRelay()
	case transport.EventDisconnected:
		e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseDegraded})
		e.relaySup.Begin()
	case transport.EventFailed:
		log.Printf("relay channel failed: %v", ev.Err)
		e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseDegraded})
		e.relaySup.Begin()
	case transport.EventData:
		msg, err := message.DecodeRelay(ev.Payload)
		if err != nil {
			log.Printf("relay frame rejected: %v", err)
			return
		}
		e.metrics.Received.Add(1)
		e.showMessage(msg.SenderID, msg.Text)
		// Relay frames carry the sender's stable id directly, so the
		// sender is always attributable.
		if err := e.inbox.Append(msg); err != nil {
			log.Printf("inbox append: %v", err)
		}
	}
}

// handlePeerFrame routes one inbound peer-channel frame. Control frames are
// consumed here and never reach the UI or the stores.
func (e *Engine) handlePeerFrame(session, frame string) {
	if text, ok := message.ParseAck(frame); ok {
		msg, stored, found := e.acks.Confirm(text)
		if !found {
			// Duplicate ACK; the first one already confirmed.
			return
		}
		e.metrics.Acked.Add(1)
		if stored {
			if err := e.outbox.DeleteByID(msg.LocalID); err != nil {
				log.Printf("outbox delete %s: %v", msg.LocalID, err)
			}
		}
		return
	}
	if id, ok := message.ParseUUIDRequest(frame); ok {
		e.ids.Learn(session, id)
		if err := e.peer.Send([]byte(message.UUIDResponse(e.stableID)), []string{session}); err != nil {
			log.Printf("identity response to %s: %v", session, err)
		}
		e.afterIdentityLearned()
		return
	}
	if id, ok := message.ParseUUIDResponse(frame); ok {
		e.ids.Learn(session, id)
		e.afterIdentityLearned()
		return
	}

	// Plain chat frame: show, ACK back over the same channel, and persist
	// only when the sender has a resolved identity.
	e.metrics.Received.Add(1)
	e.showMessage(session, frame)
	if err := e.peer.Send([]byte(message.Ack(frame)), []string{session}); err != nil {
		log.Printf("ack to %s: %v", session, err)
	}
	if stableID, ok := e.ids.Resolve(session); ok {
		msg := message.New(stableID, e.stableID, frame)
		if err := e.inbox.Append(msg); err != nil {
			log.Printf("inbox append: %v", err)
		}
	}
}

func (e *Engine) beginIdentityExchange(session string) {
	if err := e.peer.Send([]byte(message.UUIDRequest(e.stableID)), []string{session}); err != nil {
		log.Printf("identity request to %s: %v", session, err)
	}
	// Deferred sends retry once identity had a chance to settle.
	time.AfterFunc(identityGrace, func() {
		e.post(e.replayPeer)
	})
}

// afterIdentityLearned retries queued rows: ones parked as "unknown" can now
// resolve, and deferred sends get their post-exchange attempt.
func (e *Engine) afterIdentityLearned() {
	e.notifyPeers()
	e.replayPeer()
	if len(e.relay.ActivePeers()) > 0 {
		e.replayRelay()
	}
}

// Send delivers text to receiverID, or to the most recently learned peer when
// receiverID is empty. It never blocks on the network beyond the transports'
// own bounded calls, and it returns nil for every degradation that resolves
// to "persist and retry".
func (e *Engine) Send(text, receiverID string) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	receiver := receiverID
	if receiver == "" {
		receiver = e.ids.LastLearned()
	}
	msg := message.New(e.stableID, receiver, text)
	if err := msg.Validate(); err != nil {
		// Retrying cannot make the text encodable.
		e.metrics.Dropped.Add(1)
		log.Printf("dropping unencodable message: %v", err)
		return err
	}

	persisted := false
	persist := func() {
		if persisted {
			return
		}
		persisted = true
		e.persist(msg)
	}

	peers := e.peer.ActivePeers()
	sentPeer := false
	switch {
	case len(peers) == 0:
		persist()
		e.peerSup.Begin()
	case msg.Unresolved():
		// Peers are connected but identity exchange has not completed:
		// defer, then retry after the grace delay.
		persist()
		time.AfterFunc(identityGrace, func() { e.post(e.replayPeer) })
	default:
		if err := e.peer.Send([]byte(text), nil); err != nil {
			log.Printf("peer send: %v", err)
			persist()
			e.peerSup.Begin()
		} else {
			// Fire-and-forget happy path: nothing persisted until
			// the ACK window expires.
			sentPeer = true
			e.metrics.Sent.Add(1)
		}
	}

	if !msg.Unresolved() && len(e.relay.ActivePeers()) > 0 {
		if err := e.sendRelay(msg); err != nil {
			log.Printf("relay send: %v", err)
			persist()
			e.relaySup.Begin()
		} else {
			// Relay success is terminal confirmation.
			e.metrics.Sent.Add(1)
			if persisted {
				if err := e.outbox.DeleteByID(msg.LocalID); err != nil {
					log.Printf("outbox delete %s: %v", msg.LocalID, err)
				}
				persisted = false
			}
			sentPeer = false // pending ACK no longer gates delivery
			e.acks.ConfirmByID(msg.LocalID)
		}
	}

	if sentPeer {
		e.acks.Track(msg, false)
	}
	return nil
}

func (e *Engine) sendRelay(msg message.Message) error {
	frame, err := message.EncodeRelay(msg)
	if err != nil {
		return err
	}
	return e.relay.Send(frame, nil)
}

// persist queues msg durably. A failing store is the one place a message can
// be lost, so it surfaces as a warning instead of an error return.
func (e *Engine) persist(msg message.Message) {
	if err := e.outbox.Insert(msg); err != nil {
		log.Printf("outbox insert: %v", err)
		e.notifySystem(fmt.Sprintf("warning: message not saved for retry (%v)", err))
		return
	}
	e.metrics.Persisted.Add(1)
}

// onAckExpired fires when a peer-channel send saw no ACK inside the window.
// Unstored messages get queued for replay; stored ones are already queued.
func (e *Engine) onAckExpired(msg message.Message, stored bool) {
	if stored {
		return
	}
	log.Printf("no ack for %s, queueing for replay", msg.LocalID)
	e.persist(msg)
	e.peerSup.Begin()
}

// replayPeer re-attempts every queued row over the peer channel. Rows stay
// queued until their ACK arrives; unresolved rows are first re-pointed at the
// freshest learned identity or skipped entirely.
func (e *Engine) replayPeer() {
	if len(e.peer.ActivePeers()) == 0 {
		return
	}
	rows, err := e.outbox.FetchAll()
	if err != nil {
		log.Printf("outbox fetch: %v", err)
		return
	}
	for _, row := range rows {
		row, ok := e.resolveRow(row)
		if !ok {
			continue
		}
		if err := e.peer.Send([]byte(row.Text), nil); err != nil {
			log.Printf("replay %s over peer: %v", row.LocalID, err)
			continue
		}
		e.acks.Track(row, true)
		e.metrics.Replayed.Add(1)
	}
}

// replayRelay re-attempts every queued row over the relay. Each successful
// send deletes its row individually so partial success is never lost.
func (e *Engine) replayRelay() {
	rows, err := e.outbox.FetchAll()
	if err != nil {
		log.Printf("outbox fetch: %v", err)
		return
	}
	for _, row := range rows {
		row, ok := e.resolveRow(row)
		if !ok {
			continue
		}
		if err := e.sendRelay(row); err != nil {
			log.Printf("replay %s over relay: %v", row.LocalID, err)
			continue
		}
		if err := e.outbox.DeleteByID(row.LocalID); err != nil {
			log.Printf("outbox delete %s: %v", row.LocalID, err)
			continue
		}
		e.acks.ConfirmByID(row.LocalID)
		e.metrics.Replayed.Add(1)
	}
}

// resolveRow rewrites a row's unknown receiver once identity exchange has
// produced one, persisting the correction before any delivery attempt. Rows
// that still cannot resolve are skipped, never delivered unresolved.
func (e *Engine) resolveRow(row message.Message) (message.Message, bool) {
	if !row.Unresolved() {
		return row, true
	}
	last := e.ids.LastLearned()
	if last == "" {
		return row, false
	}
	row.ReceiverID = last
	if err := e.outbox.Update(row); err != nil {
		log.Printf("outbox update %s: %v", row.LocalID, err)
		return row, false
	}
	return row, true
}

// RestartChannel is the explicit external restart: it resets the attempt
// counter and starts the channel again (e.g. on app foreground).
func (e *Engine) RestartChannel(name string) error {
	switch name {
	case transport.PeerChannelName:
		e.peerSup.Reset()
		e.setState(transport.PeerChannelName, ChannelState{Phase: PhaseStarting})
		return e.peer.Start()
	case transport.RelayChannelName:
		e.relaySup.Reset()
		e.setState(transport.RelayChannelName, ChannelState{Phase: PhaseStarting})
		return e.relay.Start()
	default:
		return fmt.Errorf("unknown channel %q", name)
	}
}

// ConnectedPeerIDs lists the stable ids of currently connected, resolved
// session peers.
func (e *Engine) ConnectedPeerIDs() []string {
	var out []string
	for _, session := range e.peer.ActivePeers() {
		if id, ok := e.ids.Resolve(session); ok {
			out = append(out, id)
		}
	}
	return out
}

// PendingMessages renders the queued rows for display, newest first.
func (e *Engine) PendingMessages() []string {
	rows, err := e.outbox.FetchAll()
	if err != nil {
		log.Printf("outbox fetch: %v", err)
		return nil
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, fmt.Sprintf("[%s -> %s] %s", row.CreatedAt.Format("15:04:05"), row.ReceiverID, row.Text))
	}
	return out
}

// ClearPending drops the whole queue.
func (e *Engine) ClearPending() error {
	return e.outbox.ClearAll()
}

// RecentMessages returns the persisted inbound backlog, newest first.
func (e *Engine) RecentMessages(limit int) []message.Message {
	msgs, err := e.inbox.Recent(limit)
	if err != nil {
		log.Printf("inbox recent: %v", err)
		return nil
	}
	return msgs
}

// MetricsSnapshot renders the engine counters.
func (e *Engine) MetricsSnapshot() string {
	return e.metrics.Snapshot()
}

// SetSink replaces the observer, used once UIs are constructed.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *Engine) currentSink() Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func (e *Engine) setState(channel string, state ChannelState) {
	e.mu.Lock()
	switch channel {
	case transport.PeerChannelName:
		e.peerState = state
	case transport.RelayChannelName:
		e.relayState = state
	}
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.UpdateState(channel, state)
	}
}

// State reports the current snapshot for one channel.
func (e *Engine) State(channel string) ChannelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if channel == transport.RelayChannelName {
		return e.relayState
	}
	return e.peerState
}

func (e *Engine) showMessage(from, text string) {
	if sink := e.currentSink(); sink != nil {
		sink.ShowMessage(from, text)
	}
}

func (e *Engine) notifySystem(text string) {
	if sink := e.currentSink(); sink != nil {
		sink.ShowSystem(text)
	}
}

func (e *Engine) notifyPeers() {
	if sink := e.currentSink(); sink != nil {
		sink.UpdatePeers(e.ConnectedPeerIDs())
	}
}
