// Package transport provides the two delivery channels and the typed event
// stream they feed into the delivery engine. Channels own their sockets;
// everything above them reacts to events.
package transport

import "errors"

// Channel names used in events and state reporting.
const (
	PeerChannelName  = "peer"
	RelayChannelName = "relay"
)

var (
	// ErrNoPeers means a peer-channel send had nobody to deliver to.
	ErrNoPeers = errors.New("transport: no connected peers")
	// ErrNotConnected means the relay socket is down.
	ErrNotConnected = errors.New("transport: not connected")
)

// EventType enumerates what a channel can report.
type EventType int

const (
	// EventData carries one inbound frame from Peer.
	EventData EventType = iota
	// EventPeerJoined reports a newly usable session peer.
	EventPeerJoined
	// EventPeerLeft reports a session peer going away.
	EventPeerLeft
	// EventPeerFound reports a discovered but not yet connected nearby peer.
	EventPeerFound
	// EventConnected reports the relay socket coming up.
	EventConnected
	// EventDisconnected reports the relay socket going down.
	EventDisconnected
	// EventFailed reports a channel-level failure (listener died, etc).
	EventFailed
)

// Event is the single message type channels emit. Events for one channel are
// ordered; the engine is the only consumer.
type Event struct {
	Channel string
	Type    EventType
	Peer    string
	Payload []byte
	Err     error
}

// Channel is the capability shared by the peer and relay transports.
// Start never blocks, Stop is idempotent, Send fails fast when the channel
// has nobody to deliver to.
type Channel interface {
	Name() string
	Start() error
	Stop()
	// Send transmits one frame to the named session peers, or to every
	// connected peer when peers is nil.
	Send(payload []byte, peers []string) error
	// ActivePeers lists currently connected session peers.
	ActivePeers() []string
}
