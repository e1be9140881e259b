package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"dual-chat/internal/crypto"
)

var (
	// peerHelloTimeout bounds how long an inbound link may take to
	// introduce itself before the invitation is abandoned.
	peerHelloTimeout = 30 * time.Second
	peerDialTimeout  = 30 * time.Second
	beaconInterval   = 2 * time.Second
)

// helloPrefix opens every link. It is a link-setup detail of this transport,
// not an application frame, and is never surfaced upward.
const helloPrefix = "HELLO "

type beacon struct {
	Session string `json:"session"`
	Addr    string `json:"addr"`
}

// PeerChannel is the ad-hoc local transport: TCP links to nearby peers found
// via a UDP broadcast beacon. Inbound links are accepted without prompting;
// pairing friction is traded away deliberately and the link itself is sealed
// by the frame box when a shared secret is configured.
type PeerChannel struct {
	session    string
	listenAddr string
	beaconPort int
	box        *crypto.Box
	events     chan<- Event

	mu      sync.Mutex
	epoch   int
	running bool
	ln      net.Listener
	udp     *net.UDPConn
	conns   map[string]net.Conn
	quit    chan struct{}
}

// NewPeerChannel builds the channel. session is our transport-level display
// name; events is the engine-owned stream.
func NewPeerChannel(session, listenAddr string, beaconPort int, box *crypto.Box, events chan<- Event) *PeerChannel {
	return &PeerChannel{
		session:    session,
		listenAddr: listenAddr,
		beaconPort: beaconPort,
		box:        box,
		events:     events,
		conns:      make(map[string]net.Conn),
	}
}

func (p *PeerChannel) Name() string { return PeerChannelName }

// Start brings up the listener and discovery beacon. It never blocks on peers
// appearing; a second Start while running is a no-op.
func (p *PeerChannel) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("peer listen: %w", err)
	}
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: p.beaconPort})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("beacon listen: %w", err)
	}
	p.epoch++
	p.ln = ln
	p.udp = udp
	p.quit = make(chan struct{})
	p.running = true

	epoch := p.epoch
	go p.acceptLoop(ln, epoch)
	go p.beaconLoop(ln.Addr().String(), epoch)
	go p.discoveryLoop(udp, epoch)
	return nil
}

// Stop tears the session down: listener, beacon, and every link. Idempotent.
// Peers connected afterwards belong to a new session epoch.
func (p *PeerChannel) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.quit)
	if p.ln != nil {
		_ = p.ln.Close()
	}
	if p.udp != nil {
		_ = p.udp.Close()
	}
	for session, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, session)
	}
	p.mu.Unlock()
}

// ActivePeers lists the session names of connected peers.
func (p *PeerChannel) ActivePeers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := make([]string, 0, len(p.conns))
	for session := range p.conns {
		list = append(list, session)
	}
	return list
}

// Send writes one frame to the named peers, or to all connected peers when
// peers is nil. It fails fast when nobody is connected and never retries.
func (p *PeerChannel) Send(payload []byte, peers []string) error {
	data, err := p.box.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal frame: %w", err)
	}
	data = append(data, '\n')

	p.mu.Lock()
	if len(p.conns) == 0 {
		p.mu.Unlock()
		return ErrNoPeers
	}
	targets := make(map[string]net.Conn)
	if peers == nil {
		for session, conn := range p.conns {
			targets[session] = conn
		}
	} else {
		for _, session := range peers {
			if conn, ok := p.conns[session]; ok {
				targets[session] = conn
			}
		}
	}
	p.mu.Unlock()

	if len(targets) == 0 {
		return ErrNoPeers
	}
	var firstErr error
	for session, conn := range targets {
		if _, err := conn.Write(data); err != nil {
			log.Printf("peer write to %s: %v", session, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("write to %s: %w", session, err)
			}
			p.dropLink(session)
		}
	}
	return firstErr
}

func (p *PeerChannel) acceptLoop(ln net.Listener, epoch int) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !p.currentEpoch(epoch) {
				return
			}
			p.emit(epoch, Event{Channel: PeerChannelName, Type: EventFailed, Err: err})
			return
		}
		go p.setupLink(conn, epoch, true)
	}
}

// setupLink runs the link-level introduction: each side states its session
// name on the first line, then frames flow.
func (p *PeerChannel) setupLink(conn net.Conn, epoch int, inbound bool) {
	_ = conn.SetDeadline(time.Now().Add(peerHelloTimeout))
	if _, err := conn.Write([]byte(helloPrefix + p.session + "\n")); err != nil {
		_ = conn.Close()
		return
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil || len(line) <= len(helloPrefix) || line[:len(helloPrefix)] != helloPrefix {
		_ = conn.Close()
		return
	}
	session := string(bytes.TrimSpace([]byte(line[len(helloPrefix):])))
	if session == "" || session == p.session {
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	p.mu.Lock()
	if !p.running || p.epoch != epoch {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	if old, ok := p.conns[session]; ok {
		_ = old.Close()
	}
	p.conns[session] = conn
	p.mu.Unlock()

	p.emit(epoch, Event{Channel: PeerChannelName, Type: EventPeerJoined, Peer: session})
	p.readLoop(conn, reader, session, epoch)
}

func (p *PeerChannel) readLoop(conn net.Conn, reader *bufio.Reader, session string, epoch int) {
	defer func() {
		_ = conn.Close()
		if p.removeLink(session, conn) {
			p.emit(epoch, Event{Channel: PeerChannelName, Type: EventPeerLeft, Peer: session})
		}
	}()
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && p.currentEpoch(epoch) {
				log.Printf("peer read from %s: %v", session, err)
			}
			return
		}
		payload := bytes.TrimSpace(line)
		if len(payload) == 0 {
			continue
		}
		frame, err := p.box.Open(payload)
		if err != nil {
			log.Printf("peer frame from %s rejected: %v", session, err)
			continue
		}
		p.emit(epoch, Event{Channel: PeerChannelName, Type: EventData, Peer: session, Payload: frame})
	}
}

// connect dials a discovered peer. Both sides may dial simultaneously; the
// newer link replaces the older under the same session key.
func (p *PeerChannel) connect(addr string, epoch int) {
	conn, err := net.DialTimeout("tcp", addr, peerDialTimeout)
	if err != nil {
		log.Printf("peer dial %s: %v", addr, err)
		return
	}
	p.setupLink(conn, epoch, false)
}

func (p *PeerChannel) beaconLoop(advertised string, epoch int) {
	dest := &net.UDPAddr{IP: net.IPv4bcast, Port: p.beaconPort}
	payload, err := json.Marshal(beacon{Session: p.session, Addr: advertised})
	if err != nil {
		return
	}
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		quit, udp := p.quit, p.udp
		stale := !p.running || p.epoch != epoch
		p.mu.Unlock()
		if stale {
			return
		}
		if _, err := udp.WriteToUDP(payload, dest); err != nil && p.currentEpoch(epoch) {
			log.Printf("beacon send: %v", err)
		}
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}

func (p *PeerChannel) discoveryLoop(udp *net.UDPConn, epoch int) {
	buf := make([]byte, 512)
	for {
		n, from, err := udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var b beacon
		if err := json.Unmarshal(buf[:n], &b); err != nil || b.Session == "" || b.Session == p.session {
			continue
		}
		addr := b.Addr
		if host, _, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
			_, port, _ := net.SplitHostPort(addr)
			addr = net.JoinHostPort(from.IP.String(), port)
		}
		p.mu.Lock()
		_, connected := p.conns[b.Session]
		stale := !p.running || p.epoch != epoch
		p.mu.Unlock()
		if stale {
			return
		}
		if connected {
			continue
		}
		p.emit(epoch, Event{Channel: PeerChannelName, Type: EventPeerFound, Peer: b.Session})
		go p.connect(addr, epoch)
	}
}

func (p *PeerChannel) dropLink(session string) {
	p.mu.Lock()
	conn, ok := p.conns[session]
	if ok {
		_ = conn.Close()
		delete(p.conns, session)
	}
	epoch := p.epoch
	p.mu.Unlock()
	if ok {
		p.emit(epoch, Event{Channel: PeerChannelName, Type: EventPeerLeft, Peer: session})
	}
}

// removeLink deletes the mapping only if it still points at conn, so a
// replaced link's teardown cannot evict its successor.
func (p *PeerChannel) removeLink(session string, conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.conns[session]; ok && current == conn {
		delete(p.conns, session)
		return true
	}
	return false
}

func (p *PeerChannel) currentEpoch(epoch int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.epoch == epoch
}

// emit forwards an event unless the session it came from has been torn down.
func (p *PeerChannel) emit(epoch int, ev Event) {
	p.mu.Lock()
	quit := p.quit
	stale := !p.running || p.epoch != epoch
	p.mu.Unlock()
	if stale {
		return
	}
	select {
	case p.events <- ev:
	case <-quit:
	}
}
