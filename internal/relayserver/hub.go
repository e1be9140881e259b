package relayserver

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dual-chat/internal/message"
	"dual-chat/internal/relaytoken"
)

const (
	presenceTTL     = 90 * time.Second
	offlineQueueCap = 256
)

// Hub owns the live relay sockets. Frames are routed by receiverId to the
// matching connection; frames for offline receivers are queued and flushed on
// their next connect, so the relay behaves as store-and-forward rather than
// best-effort fan-out.
type Hub struct {
	db       *sql.DB
	metrics  *Metrics
	registry *Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	offline map[string][][]byte
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub builds the hub. db may be nil; routing then runs without history.
func NewHub(db *sql.DB, metrics *Metrics) *Hub {
	return &Hub{
		db:       db,
		metrics:  metrics,
		registry: NewRegistry(presenceTTL),
		clients:  make(map[string]*client),
		offline:  make(map[string][][]byte),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Online lists currently connected stable ids.
func (h *Hub) Online() []string {
	return h.registry.Online()
}

// HandleWS upgrades one relay connection. Identity comes from a relay token
// when presented; a bare id parameter is accepted otherwise, keeping pairing
// frictionless for clients that never registered.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	stableID, err := h.identify(r)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay upgrade: %v", err)
		return
	}
	h.metrics.Connects.Add(1)

	c := &client{id: stableID, conn: conn}
	h.mu.Lock()
	if old, ok := h.clients[stableID]; ok {
		_ = old.conn.Close()
	}
	h.clients[stableID] = c
	backlog := h.offline[stableID]
	delete(h.offline, stableID)
	h.mu.Unlock()
	h.registry.Touch(stableID)

	for _, frame := range backlog {
		if err := c.write(frame); err != nil {
			log.Printf("relay backlog to %s: %v", stableID, err)
			break
		}
		h.metrics.Forwarded.Add(1)
	}

	h.readLoop(c)
}

func (h *Hub) identify(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token != "" {
		return relaytoken.Validate(token)
	}
	if id := r.URL.Query().Get("id"); id != "" {
		return id, nil
	}
	return "", errNoIdentity
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		_ = c.conn.Close()
		h.mu.Lock()
		if current, ok := h.clients[c.id]; ok && current == c {
			delete(h.clients, c.id)
		}
		h.mu.Unlock()
		h.registry.Remove(c.id)
	}()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.registry.Touch(c.id)
		h.metrics.FramesIn.Add(1)

		var frame message.RelayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("relay frame from %s rejected: %v", c.id, err)
			continue
		}
		if frame.SenderID == "" {
			frame.SenderID = c.id
		}
		h.persist(frame)
		h.route(frame, data)
	}
}

func (h *Hub) persist(frame message.RelayFrame) {
	if h.db == nil {
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, frame.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	_, err = h.db.Exec(
		`INSERT INTO relay_messages (sender_id, receiver_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		frame.SenderID, frame.ReceiverID, frame.Message, ts,
	)
	if err != nil {
		log.Printf("relay message persist: %v", err)
	}
}

func (h *Hub) route(frame message.RelayFrame, raw []byte) {
	if frame.ReceiverID == "" || frame.ReceiverID == message.ReceiverUnknown {
		// Unroutable; persisted (when possible) and dropped.
		return
	}
	h.mu.Lock()
	target, online := h.clients[frame.ReceiverID]
	h.mu.Unlock()

	if online {
		if err := target.write(raw); err == nil {
			h.metrics.Forwarded.Add(1)
			return
		}
		log.Printf("relay forward to %s failed, queueing", frame.ReceiverID)
	}

	h.mu.Lock()
	queue := h.offline[frame.ReceiverID]
	if len(queue) < offlineQueueCap {
		h.offline[frame.ReceiverID] = append(queue, raw)
		h.metrics.QueuedOffline.Add(1)
	}
	h.mu.Unlock()
}
