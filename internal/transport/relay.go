package transport

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	relayConnectTimeout = 10 * time.Second
	// relayStatePoll is how often the live socket state is re-read; the
	// socket API does not push state changes promptly.
	relayStatePoll = time.Second
)

// RelayChannel is the server-relay transport: a persistent websocket to the
// configured endpoint. Delivery confirmation is the send call completing; the
// relay echoes no application acks.
type RelayChannel struct {
	url    string
	token  string
	events chan<- Event

	mu        sync.Mutex
	epoch     int
	running   bool
	conn      *websocket.Conn
	connected bool
	reported  bool
	quit      chan struct{}

	writeMu sync.Mutex
}

// NewRelayChannel builds the channel for endpoint url. token, when non-empty,
// is presented as a bearer credential on connect.
func NewRelayChannel(url, token string, events chan<- Event) *RelayChannel {
	return &RelayChannel{url: url, token: token, events: events}
}

func (r *RelayChannel) Name() string { return RelayChannelName }

// Start begins connecting in the background and never blocks. A second Start
// while running is a no-op.
func (r *RelayChannel) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.url == "" {
		return fmt.Errorf("relay: endpoint url not configured")
	}
	r.epoch++
	r.running = true
	r.quit = make(chan struct{})
	epoch := r.epoch
	go r.dial(epoch)
	go r.statePollLoop(epoch)
	return nil
}

// Stop closes the socket and halts reconnect-independent activity. Idempotent.
func (r *RelayChannel) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.quit)
	conn := r.conn
	r.conn = nil
	r.connected = false
	r.reported = false
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports the live socket state.
func (r *RelayChannel) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// ActivePeers reports the relay endpoint as a single pseudo-peer while the
// socket is up.
func (r *RelayChannel) ActivePeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return []string{RelayChannelName}
	}
	return nil
}

// Send writes one text frame. It fails fast when the socket is down.
func (r *RelayChannel) Send(payload []byte, _ []string) error {
	r.mu.Lock()
	conn, connected, epoch := r.conn, r.connected, r.epoch
	r.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	r.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	r.writeMu.Unlock()
	if err != nil {
		r.markDown(epoch, err)
		return fmt.Errorf("relay send: %w", err)
	}
	return nil
}

func (r *RelayChannel) dial(epoch int) {
	dialer := websocket.Dialer{HandshakeTimeout: relayConnectTimeout}
	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	conn, resp, err := dialer.Dial(r.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if r.currentEpoch(epoch) {
			log.Printf("relay dial %s: %v", r.url, err)
			r.emit(epoch, Event{Channel: RelayChannelName, Type: EventFailed, Err: err})
		}
		return
	}

	r.mu.Lock()
	if !r.running || r.epoch != epoch {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.conn = conn
	r.connected = true
	r.mu.Unlock()

	go r.readLoop(conn, epoch)
}

func (r *RelayChannel) readLoop(conn *websocket.Conn, epoch int) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			r.markDown(epoch, err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		r.emit(epoch, Event{Channel: RelayChannelName, Type: EventData, Peer: RelayChannelName, Payload: data})
	}
}

// statePollLoop derives connected/disconnected transitions from the socket
// state on a fixed cadence and pushes only the changes.
func (r *RelayChannel) statePollLoop(epoch int) {
	ticker := time.NewTicker(relayStatePoll)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		stale := !r.running || r.epoch != epoch
		quit := r.quit
		connected, reported := r.connected, r.reported
		if !stale && connected != reported {
			r.reported = connected
		}
		r.mu.Unlock()
		if stale {
			return
		}
		if connected != reported {
			kind := EventDisconnected
			if connected {
				kind = EventConnected
			}
			r.emit(epoch, Event{Channel: RelayChannelName, Type: kind})
		}
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}

// markDown records a dead socket; the next poll tick reports the transition.
func (r *RelayChannel) markDown(epoch int, err error) {
	r.mu.Lock()
	if !r.running || r.epoch != epoch || !r.connected {
		r.mu.Unlock()
		return
	}
	r.connected = false
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	log.Printf("relay socket down: %v", err)
}

func (r *RelayChannel) currentEpoch(epoch int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.epoch == epoch
}

func (r *RelayChannel) emit(epoch int, ev Event) {
	r.mu.Lock()
	quit := r.quit
	stale := !r.running || r.epoch != epoch
	r.mu.Unlock()
	if stale {
		return
	}
	select {
	case r.events <- ev:
	case <-quit:
	}
}
