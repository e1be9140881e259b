package delivery

import (
	"sync"
	"time"

	"dual-chat/internal/message"
)

var (
	ackCheckInterval = 3 * time.Second
	ackTimeout       = 7 * time.Second
)

type pendingAck struct {
	msg    message.Message
	sentAt time.Time
	// stored marks messages that already have an outbox row (replayed
	// sends); confirming one must delete that row.
	stored bool
}

// ackTracker holds peer-channel sends awaiting their ACK frame. ACKs carry
// the original text, so entries are keyed by text; duplicate sends of equal
// text queue up and each ACK confirms exactly one of them, oldest first.
// Entries whose ACK never arrives expire into the onExpire callback.
type ackTracker struct {
	mu       sync.Mutex
	pending  map[string][]pendingAck
	quit     chan struct{}
	stopOnce sync.Once
	onExpire func(msg message.Message, stored bool)
}

func newAckTracker(onExpire func(message.Message, bool)) *ackTracker {
	tracker := &ackTracker{
		pending:  make(map[string][]pendingAck),
		quit:     make(chan struct{}),
		onExpire: onExpire,
	}
	go tracker.loop()
	return tracker
}

// Track registers an unconfirmed send.
func (a *ackTracker) Track(msg message.Message, stored bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[msg.Text] = append(a.pending[msg.Text], pendingAck{msg: msg, sentAt: time.Now(), stored: stored})
}

// Confirm consumes one pending entry for text. The second arrival of the same
// ACK finds nothing and confirms nothing.
func (a *ackTracker) Confirm(text string) (message.Message, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	queue := a.pending[text]
	if len(queue) == 0 {
		return message.Message{}, false, false
	}
	entry := queue[0]
	if len(queue) == 1 {
		delete(a.pending, text)
	} else {
		a.pending[text] = queue[1:]
	}
	return entry.msg, entry.stored, true
}

// ConfirmByID drops a pending entry whose delivery another transport already
// confirmed, so its expiry cannot requeue a delivered message.
func (a *ackTracker) ConfirmByID(localID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for text, queue := range a.pending {
		kept := queue[:0]
		for _, entry := range queue {
			if entry.msg.LocalID != localID {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(a.pending, text)
		} else {
			a.pending[text] = kept
		}
	}
}

func (a *ackTracker) loop() {
	ticker := time.NewTicker(ackCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			a.expire()
		}
	}
}

func (a *ackTracker) expire() {
	now := time.Now()
	var expired []pendingAck

	a.mu.Lock()
	for text, queue := range a.pending {
		kept := queue[:0]
		for _, entry := range queue {
			if now.Sub(entry.sentAt) >= ackTimeout {
				expired = append(expired, entry)
			} else {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(a.pending, text)
		} else {
			a.pending[text] = kept
		}
	}
	a.mu.Unlock()

	if a.onExpire == nil {
		return
	}
	for _, entry := range expired {
		a.onExpire(entry.msg, entry.stored)
	}
}

func (a *ackTracker) Stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}
