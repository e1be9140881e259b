package delivery

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LoadStableID reads the per-install stable identifier from path, minting and
// persisting a fresh one on first run. The id outlives sessions, reconnects,
// and display-name changes.
func LoadStableID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// IdentityMap resolves transport session names to stable peer identifiers for
// one connection epoch. It is the only place ephemeral names become durable
// identities, and it is cleared whenever the underlying session is torn down:
// a session name may be reused by a different physical device.
type IdentityMap struct {
	mu          sync.RWMutex
	bySession   map[string]string
	lastLearned string
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{bySession: make(map[string]string)}
}

// Learn records session -> stableID. Returns true when this changed the map.
func (m *IdentityMap) Learn(session, stableID string) bool {
	if session == "" || stableID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.bySession[session]
	m.bySession[session] = stableID
	m.lastLearned = stableID
	return !had || prev != stableID
}

// Resolve returns the stable id learned for session.
func (m *IdentityMap) Resolve(session string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[session]
	return id, ok
}

// Known reports whether session has completed identity exchange.
func (m *IdentityMap) Known(session string) bool {
	_, ok := m.Resolve(session)
	return ok
}

// LastLearned returns the most recently learned stable id, the default
// receiver when the caller names none.
func (m *IdentityMap) LastLearned() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLearned
}

// SessionFor does the reverse lookup.
func (m *IdentityMap) SessionFor(stableID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for session, id := range m.bySession {
		if id == stableID {
			return session, true
		}
	}
	return "", false
}

// StableIDs lists every resolved peer id.
func (m *IdentityMap) StableIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bySession))
	for _, id := range m.bySession {
		out = append(out, id)
	}
	return out
}

// Clear wipes the epoch's mappings on session teardown.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySession = make(map[string]string)
	m.lastLearned = ""
}
