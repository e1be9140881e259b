package message

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ReceiverUnknown marks a message addressed before identity exchange resolved
// the peer's stable id. Such rows stay queued for re-resolution instead of
// being delivered to an unresolved target.
const ReceiverUnknown = "unknown"

// ErrEncoding reports text the wire formats cannot carry. Retrying cannot fix
// it, so callers drop the message.
var ErrEncoding = errors.New("message: text not encodable")

// Message is the unit of delivery tracked by the outbox until a transport
// confirms it.
type Message struct {
	LocalID    string    `json:"local_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// New builds an outbound message with a fresh local id.
func New(senderID, receiverID, text string) Message {
	if receiverID == "" {
		receiverID = ReceiverUnknown
	}
	return Message{
		LocalID:    uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  time.Now(),
	}
}

// DedupKey identifies a logical message across retries. (SenderID, LocalID)
// is unique in the outbox.
func (m Message) DedupKey() string {
	return m.SenderID + "|" + m.LocalID
}

// Unresolved reports whether the receiver still needs identity resolution.
func (m Message) Unresolved() bool {
	return m.ReceiverID == "" || m.ReceiverID == ReceiverUnknown
}

// Validate rejects payloads the wire formats cannot represent.
func (m Message) Validate() error {
	if !utf8.ValidString(m.Text) {
		return ErrEncoding
	}
	return nil
}
