package relayserver

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks which stable ids currently hold a live relay connection.
// Entries expire when a client stops touching them, so a wedged socket does
// not advertise presence forever.
type Registry struct {
	mu       sync.Mutex
	clients  map[string]time.Time
	expireIn time.Duration
}

// NewRegistry creates a presence registry with the given expiry window.
func NewRegistry(expireIn time.Duration) *Registry {
	return &Registry{
		clients:  make(map[string]time.Time),
		expireIn: expireIn,
	}
}

// Touch upserts a client's presence.
func (r *Registry) Touch(stableID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[stableID] = time.Now()
}

// Remove drops a client on disconnect.
func (r *Registry) Remove(stableID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, stableID)
}

// Online returns all non-expired client ids.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneExpired()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) pruneExpired() {
	if r.expireIn <= 0 {
		return
	}
	deadline := time.Now().Add(-r.expireIn)
	for id, ts := range r.clients {
		if ts.Before(deadline) {
			delete(r.clients, id)
		}
	}
}
