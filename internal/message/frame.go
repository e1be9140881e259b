package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Control-frame prefixes reserved on the peer channel. Frames carrying one of
// these are routed internally and never surfaced as chat content.
const (
	PrefixAck          = "ACK:"
	PrefixUUIDRequest  = "UUID_REQUEST:"
	PrefixUUIDResponse = "UUID_RESPONSE:"
)

// IsControl reports whether a peer-channel frame is a reserved control frame.
func IsControl(frame string) bool {
	return strings.HasPrefix(frame, PrefixAck) ||
		strings.HasPrefix(frame, PrefixUUIDRequest) ||
		strings.HasPrefix(frame, PrefixUUIDResponse)
}

// Ack builds the acknowledgment frame for a received chat frame.
func Ack(text string) string {
	return PrefixAck + text
}

// ParseAck extracts the original text from an ACK frame.
func ParseAck(frame string) (string, bool) {
	if !strings.HasPrefix(frame, PrefixAck) {
		return "", false
	}
	return strings.TrimPrefix(frame, PrefixAck), true
}

// UUIDRequest builds the identity-exchange opener carrying our stable id.
func UUIDRequest(stableID string) string {
	return PrefixUUIDRequest + stableID
}

// UUIDResponse builds the identity-exchange reply carrying our stable id.
func UUIDResponse(stableID string) string {
	return PrefixUUIDResponse + stableID
}

// ParseUUIDRequest extracts the initiator's stable id.
func ParseUUIDRequest(frame string) (string, bool) {
	if !strings.HasPrefix(frame, PrefixUUIDRequest) {
		return "", false
	}
	return strings.TrimPrefix(frame, PrefixUUIDRequest), true
}

// ParseUUIDResponse extracts the responder's stable id.
func ParseUUIDResponse(frame string) (string, bool) {
	if !strings.HasPrefix(frame, PrefixUUIDResponse) {
		return "", false
	}
	return strings.TrimPrefix(frame, PrefixUUIDResponse), true
}

// RelayFrame is the JSON envelope exchanged with the relay endpoint, one frame
// per logical message.
type RelayFrame struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// EncodeRelay serialises a message for the relay socket.
func EncodeRelay(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	frame := RelayFrame{
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Message:    m.Text,
		Timestamp:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}
	return data, nil
}

// DecodeRelay parses an inbound relay frame. The local id is minted on receipt
// since relay frames do not carry one.
func DecodeRelay(data []byte) (Message, error) {
	var frame RelayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Message{}, fmt.Errorf("decode relay frame: %w", err)
	}
	msg := New(frame.SenderID, frame.ReceiverID, frame.Message)
	if ts, err := time.Parse(time.RFC3339Nano, frame.Timestamp); err == nil {
		msg.CreatedAt = ts
	}
	return msg, nil
}
